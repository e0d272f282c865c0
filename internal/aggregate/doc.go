// Package aggregate merges completed step results into one answer.
// Successful outputs are grouped by result category and handed to the
// LLM for final phrasing together with plain-language summaries of
// what could not be completed; when the LLM is unavailable the merge
// degrades to a deterministic concatenation, and when every step
// failed the answer is an apology template, never fabricated content.
package aggregate
