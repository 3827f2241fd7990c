// Package daemon supervises the background worker process. It owns the
// single-instance lock file and ties worker lifecycle to process signals.
package daemon
