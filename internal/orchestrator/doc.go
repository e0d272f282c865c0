// Package orchestrator drives one request through classification,
// planning, dependency resolution, sequential step execution and
// aggregation. Each Orchestrator is built from an explicit Config and
// holds no process-wide mutable state, so instances can serve
// concurrent requests independently.
package orchestrator
