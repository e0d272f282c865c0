// Package finance implements the employee, reimbursement and work
// order tools on top of the finance store. Failures are classified by
// error code: bad parameters are repairable, missing entities end the
// step, and an uncertain write is never retried.
package finance
