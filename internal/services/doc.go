// Package services defines shared utilities consumed by the pipeline
// coordinator, stage execution, and external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, worker identities, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (retryable vs terminal) uniform across stages.
package services
