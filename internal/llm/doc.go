// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single prompt-in, text-out
// Client used by the plan generator and the code-generating capabilities.
package llm
