package jobs

import (
	"context"
	"fmt"
	"time"
)

// UpsertBoundary writes a resolved boundary, overwriting any previous row for
// the same (job, unit). Boundary detection re-runs on resume, so persistence
// uses overwrite semantics rather than append.
func (s *Store) UpsertBoundary(ctx context.Context, b Boundary) error {
	if b.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO boundaries (job_id, unit_number, start_segment, end_segment, start_char_index, end_char_index, confidence)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (job_id, unit_number) DO UPDATE SET
             start_segment = excluded.start_segment,
             end_segment = excluded.end_segment,
             start_char_index = excluded.start_char_index,
             end_char_index = excluded.end_char_index,
             confidence = excluded.confidence`,
		b.JobID,
		b.UnitNumber,
		b.StartSegment,
		b.EndSegment,
		b.StartCharIndex,
		b.EndCharIndex,
		b.Confidence,
	)
	if err != nil {
		return fmt.Errorf("upsert boundary %d: %w", b.UnitNumber, err)
	}
	return nil
}

// BoundariesByJob returns a job's boundaries ordered by unit number.
func (s *Store) BoundariesByJob(ctx context.Context, jobID string) ([]Boundary, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT job_id, unit_number, start_segment, end_segment, start_char_index, end_char_index, confidence
         FROM boundaries WHERE job_id = ? ORDER BY unit_number`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query boundaries: %w", err)
	}
	defer rows.Close()

	var boundaries []Boundary
	for rows.Next() {
		var b Boundary
		if err := rows.Scan(&b.JobID, &b.UnitNumber, &b.StartSegment, &b.EndSegment, &b.StartCharIndex, &b.EndCharIndex, &b.Confidence); err != nil {
			return nil, err
		}
		boundaries = append(boundaries, b)
	}
	return boundaries, rows.Err()
}

// SetUnitCount records how many narrative units boundary resolution produced.
func (s *Store) SetUnitCount(ctx context.Context, jobID string, count int) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET unit_count = ?, updated_at = ? WHERE id = ?`,
		count,
		timestamp(time.Now()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("set unit count: %w", err)
	}
	return nil
}

// SetPageCount records how many pages layout derivation produced.
func (s *Store) SetPageCount(ctx context.Context, jobID string, count int) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET page_count = ?, updated_at = ? WHERE id = ?`,
		count,
		timestamp(time.Now()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	return nil
}
