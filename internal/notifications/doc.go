// Package notifications delivers push notifications for pipeline milestones
// via ntfy. When no topic is configured, a noop service is returned so
// callers never branch on whether notifications are enabled. Delivery is
// best-effort; the notification outbox in the jobs store, not this package,
// is what guarantees a terminal outcome fires at most once.
package notifications
