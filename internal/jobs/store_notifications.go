package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordNotification marks that a job's terminal status has been communicated.
// Returns true when this call recorded the notification, false when a record
// for the job already existed. Callers gate non-idempotent side effects
// (sending the completion email) behind a true result; false is an expected
// outcome, never an error.
func (s *Store) RecordNotification(ctx context.Context, jobID string, terminal Status) (bool, error) {
	if jobID == "" {
		return false, fmt.Errorf("job id is required")
	}
	now := time.Now().UTC()

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO notifications (job_id, status, created_at) VALUES (?, ?, ?)`,
		jobID,
		terminal,
		timestamp(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("record notification: %w", err)
	}

	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_notified_status = ?, last_notified_at = ?, updated_at = ? WHERE id = ?`,
		terminal,
		timestamp(now),
		timestamp(now),
		jobID,
	); err != nil {
		return true, fmt.Errorf("record job notification state: %w", err)
	}
	return true, nil
}

// NotificationByJob returns the recorded terminal notification, or nil.
func (s *Store) NotificationByJob(ctx context.Context, jobID string) (*NotificationRecord, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT job_id, status, created_at FROM notifications WHERE job_id = ?`,
		jobID,
	)
	var (
		record NotificationRecord
		raw    string
	)
	if err := row.Scan(&record.JobID, &record.Status, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if t, err := parseTimeString(raw); err == nil {
		record.CreatedAt = t
	}
	return &record, nil
}
