// Package api exposes the REST interface of the assistant: synchronous
// question answering, asynchronous task submission and inspection, health
// checks and Prometheus-style metrics.
package api
