// Package retrieval defines the knowledge-base search collaborator consumed
// by the planning engine. Index construction and embedding models live
// outside this repository; the engine only issues Search calls against the
// Retriever interface.
package retrieval
