package jobs

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease grants a time-bounded exclusive claim on a job to one worker.
// The claim is a single atomic conditional update: it succeeds only when the
// job is pending and either unlocked or holding an expired lease. On success
// the job moves to processing with lockedBy/leaseExpiresAt/startedAt set and
// true is returned; otherwise nothing is written and false is returned. A
// false return is an expected outcome, not an error.
func (s *Store) AcquireLease(ctx context.Context, jobID, workerID string, leaseDuration time.Duration) (bool, error) {
	if workerID == "" {
		return false, fmt.Errorf("worker id is required")
	}
	if leaseDuration <= 0 {
		return false, fmt.Errorf("lease duration must be positive")
	}

	now := time.Now().UTC()
	expires := now.Add(leaseDuration)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, locked_by = ?, lease_expires_at = ?, started_at = ?, updated_at = ?
         WHERE id = ? AND status = ?
           AND (locked_by IS NULL OR lease_expires_at < ?)`,
		StatusProcessing,
		workerID,
		timestamp(expires),
		timestamp(now),
		timestamp(now),
		jobID,
		StatusPending,
		timestamp(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RenewLease extends the lease held by workerID. Returns false when the
// worker no longer holds the job, which means a competing worker reclaimed it
// and this one must stop.
func (s *Store) RenewLease(ctx context.Context, jobID, workerID string, leaseDuration time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET lease_expires_at = ?, updated_at = ?
         WHERE id = ? AND locked_by = ?`,
		timestamp(now.Add(leaseDuration)),
		timestamp(now),
		jobID,
		workerID,
	)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseLease clears a job's lock state when workerID still holds it.
// Callers must invoke it on both success and failure exit paths so a finished
// job never keeps a held lease. A worker that already lost its lease to a
// reclaim is a no-op here, so it cannot clobber the new holder's claim.
func (s *Store) ReleaseLease(ctx context.Context, jobID, workerID string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET locked_by = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND locked_by = ?`,
		timestamp(time.Now()),
		jobID,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// RequeueLeased returns a job that workerID holds in processing back to
// pending, clearing its lock. It is the exit path for interrupted runs: the
// job reached no terminal status, so it must become claimable again instead
// of sitting in processing with no holder. Returns false when the job is no
// longer processing or is held by someone else.
func (s *Store) RequeueLeased(ctx context.Context, jobID, workerID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, locked_by = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND locked_by = ?`,
		StatusPending,
		timestamp(time.Now()),
		jobID,
		StatusProcessing,
		workerID,
	)
	if err != nil {
		return false, fmt.Errorf("requeue leased job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReclaimExpiredLeases returns jobs stuck in processing back to pending when
// their lease lapsed before the cutoff. A worker that died mid-run is
// recovered this way; no manual unlocking is required. Processing rows with
// no lease at all are orphans (nothing can ever renew them) and are swept up
// the same way.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, locked_by = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE status = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)`,
		StatusPending,
		timestamp(time.Now()),
		StatusProcessing,
		timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}
