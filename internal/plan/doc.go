// Package plan holds the plan data model, the synthesizer that drafts
// an ordered step list from intent and entities, and the dependency
// resolver that inserts producer steps and rewrites unbound required
// parameters into back-references. A resolved plan guarantees that
// every back-reference points at a strictly earlier step.
package plan
