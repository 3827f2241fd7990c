// Package config loads, normalizes, and validates loom's TOML configuration.
//
// Configuration sections by subsystem:
//   - Paths: data, content, and log directories
//   - Segmenter: deterministic splitter parameters
//   - LLM: shared connection settings for structured generation
//   - Worker: polling cadence and lease management
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
package config
