// Package jobs persists pipeline jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, stage
// checkpoints, lease-based worker claims, segment and boundary rows, and the
// notification outbox. Every stage transition is written before the next
// stage begins, so a job interrupted at any point resumes from the last
// completed stage.
//
// The database is the single source of truth for job state; workers hold no
// state of their own beyond the lease they renew. Schema changes bump the
// version in schema.go; users clear the database to adopt the new schema.
package jobs
