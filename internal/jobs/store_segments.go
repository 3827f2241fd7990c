package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// InsertSegments writes a job's segment rows in one transaction and records
// the segment count on the job. Segments are produced by exactly one split
// per job; any rows from an earlier interrupted split are replaced wholesale
// so a resumed run converges on a single consistent set.
func (s *Store) InsertSegments(ctx context.Context, jobID string, segments []Segment) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	ctx = ensureContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin segments tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("clear previous segments: %w", err)
	}

	for _, seg := range segments {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO segments (job_id, idx, content_ref, start_offset, end_offset, length)
             VALUES (?, ?, ?, ?, ?, ?)`,
			jobID,
			seg.Index,
			seg.ContentRef,
			seg.StartOffset,
			seg.EndOffset,
			seg.Length,
		); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.Index, err)
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET segment_count = ?, updated_at = ? WHERE id = ?`,
		len(segments),
		timestamp(time.Now()),
		jobID,
	); err != nil {
		return fmt.Errorf("record segment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit segments: %w", err)
	}
	return nil
}

// SegmentsByJob returns a job's segments ordered by index.
func (s *Store) SegmentsByJob(ctx context.Context, jobID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT job_id, idx, content_ref, start_offset, end_offset, length
         FROM segments WHERE job_id = ? ORDER BY idx`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.JobID, &seg.Index, &seg.ContentRef, &seg.StartOffset, &seg.EndOffset, &seg.Length); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Index < segments[j].Index })
	return segments, nil
}

// SegmentByIndex returns one segment row, or nil when absent.
func (s *Store) SegmentByIndex(ctx context.Context, jobID string, index int) (*Segment, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT job_id, idx, content_ref, start_offset, end_offset, length
         FROM segments WHERE job_id = ? AND idx = ?`,
		jobID,
		index,
	)
	var seg Segment
	if err := row.Scan(&seg.JobID, &seg.Index, &seg.ContentRef, &seg.StartOffset, &seg.EndOffset, &seg.Length); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return &seg, nil
}
