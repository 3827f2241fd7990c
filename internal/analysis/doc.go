// Package analysis holds the prompts, output schemas, and parsing for the
// LLM-driven pipeline stages: per-segment analysis, narrative boundary
// detection, and per-unit layout derivation.
package analysis
