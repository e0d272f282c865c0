// Package executor runs a single plan step: it resolves
// back-references against prior results, invokes the tool under a
// timeout, classifies failures by error code, and performs bounded
// corrective retries. Repair rules are deterministic and never change
// the target entity of a call; mutating tools are never re-invoked
// once a write outcome is uncertain.
package executor
