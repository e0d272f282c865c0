// Package intent classifies a natural-language request into one of a
// closed intent set and extracts an entity bag of structured facts.
// Classification combines an LLM call with deterministic rule-based
// extraction; rule hits take precedence over model output, and any
// ambiguity falls back to the composite-task intent.
package intent
