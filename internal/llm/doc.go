// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single completion interface
// used for intent classification and final answer synthesis.
package llm
