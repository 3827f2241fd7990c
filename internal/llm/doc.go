// Package llm implements the structured-generation port against an
// OpenRouter-compatible chat completion API. Every response is decoded,
// de-fenced, and validated against the caller-supplied JSON schema before it
// reaches the pipeline; callers never see unvalidated model output.
package llm
