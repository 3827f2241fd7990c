// Package pipeline drives jobs through the transformation stages: split,
// analyze, boundaries, layout, render. The Coordinator is the state machine
// that persists a checkpoint after every stage; the Worker claims pending
// jobs under a lease and runs the Coordinator, renewing the lease in the
// background while stages execute.
//
// The package depends only on the collaborator interfaces in ports plus the
// jobs store; every dependency is injected through Deps at construction time.
package pipeline
