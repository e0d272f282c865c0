// Package mysql implements the finance data store backing the structured
// data tools: employee directory, reimbursement records, and work orders.
// A MySQL implementation with embedded migrations serves production; an
// in-memory implementation seeded from JSON serves local runs and tests.
package mysql
