package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Create inserts a new pending job. When id is empty a fresh identifier is
// generated; supplying an id lets a caller resume a known job deterministically.
func (s *Store) Create(ctx context.Context, id, sourceDocumentID string) (*Job, error) {
	if strings.TrimSpace(sourceDocumentID) == "" {
		return nil, errors.New("source document id is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := timestamp(time.Now())

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (id, source_document_id, status, current_step, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		sourceDocumentID,
		StatusPending,
		StepSplit,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. A missing row yields (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job row.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET source_document_id = ?, status = ?, current_step = ?,
             segment_count = ?, unit_count = ?, page_count = ?,
             segmented = ?, analyzed = ?, boundaries_resolved = ?, layout_derived = ?, rendered = ?,
             stage_processed = ?, stage_total = ?,
             locked_by = ?, lease_expires_at = ?, started_at = ?,
             retry_count = ?, last_error = ?,
             last_notified_status = ?, last_notified_at = ?, updated_at = ?
         WHERE id = ?`,
		job.SourceDocumentID,
		job.Status,
		job.CurrentStep,
		job.SegmentCount,
		job.UnitCount,
		job.PageCount,
		boolToInt(job.Segmented),
		boolToInt(job.Analyzed),
		boolToInt(job.BoundariesResolved),
		boolToInt(job.LayoutDerived),
		boolToInt(job.Rendered),
		job.StageProcessed,
		job.StageTotal,
		nullableString(job.LockedBy),
		nullableTime(job.LeaseExpiresAt),
		nullableTime(job.StartedAt),
		job.RetryCount,
		nullableString(job.LastError),
		nullableString(job.LastNotifiedStatus),
		nullableTime(job.LastNotifiedAt),
		timestamp(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// AdvanceStep persists per-stage progress for consumers. Processed/total are
// treated as monotonically non-decreasing for a given step: a smaller value
// than what is stored for the same step is ignored.
func (s *Store) AdvanceStep(ctx context.Context, jobID string, step Step, processed, total int) error {
	if _, ok := stepSet[step]; !ok {
		return fmt.Errorf("unknown step %q", step)
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET current_step = ?,
             stage_processed = CASE WHEN current_step = ? AND stage_processed > ? THEN stage_processed ELSE ? END,
             stage_total = CASE WHEN current_step = ? AND stage_total > ? THEN stage_total ELSE ? END,
             updated_at = ?
         WHERE id = ?`,
		step,
		step, processed, processed,
		step, total, total,
		timestamp(time.Now()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("advance step: %w", err)
	}
	return nil
}

// MarkStageComplete sets a stage's completion flag. Completing the render
// stage also transitions the job to completed.
func (s *Store) MarkStageComplete(ctx context.Context, jobID string, step Step) error {
	column, ok := stepFlagColumn(step)
	if !ok {
		return fmt.Errorf("unknown step %q", step)
	}

	query := `UPDATE jobs SET ` + column + ` = 1, updated_at = ? WHERE id = ?`
	args := []any{timestamp(time.Now()), jobID}
	if step == StepRender {
		query = `UPDATE jobs SET rendered = 1, status = ?, updated_at = ? WHERE id = ?`
		args = []any{StatusCompleted, timestamp(time.Now()), jobID}
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark stage complete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// MarkFailed durably records a terminal stage failure: lastError is set,
// retryCount incremented, and status flips to failed. This write is the
// crash-safe checkpoint of why the job stopped.
func (s *Store) MarkFailed(ctx context.Context, jobID, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "stage failed"
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, last_error = ?, retry_count = retry_count + 1, updated_at = ?
         WHERE id = ?`,
		StatusFailed,
		message,
		timestamp(time.Now()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// RetryFailed moves failed jobs back to pending for reprocessing. With no ids
// every failed job is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := timestamp(time.Now())
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs SET status = ?, last_error = NULL, updated_at = ? WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, now, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE jobs SET status = ?, last_error = NULL, updated_at = ?
        WHERE status = ? AND id IN (` + placeholders + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextPending returns the oldest pending job, or nil when none is waiting.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		StatusPending,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// Remove deletes a job by identifier, cascading to its segments, boundaries,
// and notification record.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func stepFlagColumn(step Step) (string, bool) {
	switch step {
	case StepSplit:
		return "segmented", true
	case StepAnalyze:
		return "analyzed", true
	case StepBoundaries:
		return "boundaries_resolved", true
	case StepLayout:
		return "layout_derived", true
	case StepRender:
		return "rendered", true
	default:
		return "", false
	}
}

const jobColumns = "id, source_document_id, status, current_step, segment_count, unit_count, page_count, segmented, analyzed, boundaries_resolved, layout_derived, rendered, stage_processed, stage_total, locked_by, lease_expires_at, started_at, retry_count, last_error, last_notified_status, last_notified_at, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id                 string
		sourceDocumentID   string
		statusStr          string
		currentStep        string
		segmentCount       int
		unitCount          int
		pageCount          int
		segmented          int
		analyzed           int
		boundariesResolved int
		layoutDerived      int
		rendered           int
		stageProcessed     int
		stageTotal         int
		lockedBy           sql.NullString
		leaseExpiresRaw    sql.NullString
		startedRaw         sql.NullString
		retryCount         int
		lastError          sql.NullString
		lastNotifiedStatus sql.NullString
		lastNotifiedRaw    sql.NullString
		createdRaw         sql.NullString
		updatedRaw         sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceDocumentID,
		&statusStr,
		&currentStep,
		&segmentCount,
		&unitCount,
		&pageCount,
		&segmented,
		&analyzed,
		&boundariesResolved,
		&layoutDerived,
		&rendered,
		&stageProcessed,
		&stageTotal,
		&lockedBy,
		&leaseExpiresRaw,
		&startedRaw,
		&retryCount,
		&lastError,
		&lastNotifiedStatus,
		&lastNotifiedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                 id,
		SourceDocumentID:   sourceDocumentID,
		Status:             Status(statusStr),
		CurrentStep:        Step(currentStep),
		SegmentCount:       segmentCount,
		UnitCount:          unitCount,
		PageCount:          pageCount,
		Segmented:          segmented != 0,
		Analyzed:           analyzed != 0,
		BoundariesResolved: boundariesResolved != 0,
		LayoutDerived:      layoutDerived != 0,
		Rendered:           rendered != 0,
		StageProcessed:     stageProcessed,
		StageTotal:         stageTotal,
		LockedBy:           lockedBy.String,
		RetryCount:         retryCount,
		LastError:          lastError.String,
		LastNotifiedStatus: lastNotifiedStatus.String,
	}

	if leaseExpiresRaw.Valid {
		if t, err := parseTimeString(leaseExpiresRaw.String); err == nil {
			job.LeaseExpiresAt = &t
		}
	}
	if startedRaw.Valid {
		if t, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &t
		}
	}
	if lastNotifiedRaw.Valid {
		if t, err := parseTimeString(lastNotifiedRaw.String); err == nil {
			job.LastNotifiedAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
