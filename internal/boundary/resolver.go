package boundary

import (
	"log/slog"

	"loom/internal/jobs"
	"loom/internal/logging"
	"loom/internal/ports"
)

// Resolver reconciles analyzer-proposed unit ranges against the segments
// actually persisted for a job. Detection runs over aggregated text, so its
// output can drift out of range after partial upstream failures or off-by-one
// aggregation; the resolver clamps rather than fails, because a shifted
// boundary is recoverable downstream while a dead job is not.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver builds a resolver. A nil logger disables drift warnings.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{logger: logger.With(logging.String(logging.FieldComponent, "boundary"))}
}

// Resolve clamps one raw boundary into the persisted segment set and returns
// the corrected boundary plus whether any value actually changed. Resolution
// never fails; invalid input is silently corrected and a warning is logged
// only when a value moved.
func (r *Resolver) Resolve(jobID string, raw ports.RawBoundary, segments []jobs.Segment) (jobs.Boundary, bool) {
	resolved := jobs.Boundary{
		JobID:      jobID,
		UnitNumber: raw.UnitNumber,
		Confidence: raw.Confidence,
	}

	if len(segments) == 0 {
		changed := raw.StartSegment != 0 || raw.EndSegment != 0 || raw.StartCharIndex != 0 || raw.EndCharIndex != 0
		if changed {
			r.warnDrift(jobID, raw, resolved)
		}
		return resolved, changed
	}

	minIndex := segments[0].Index
	maxIndex := segments[0].Index
	for _, seg := range segments[1:] {
		minIndex = min(minIndex, seg.Index)
		maxIndex = max(maxIndex, seg.Index)
	}

	startSegment := clamp(raw.StartSegment, minIndex, maxIndex)
	endSegment := clamp(raw.EndSegment, minIndex, maxIndex)
	if startSegment > endSegment {
		startSegment, endSegment = endSegment, startSegment
	}

	startChar := clampChar(raw.StartCharIndex, segmentLength(segments, startSegment))
	endChar := clampChar(raw.EndCharIndex, segmentLength(segments, endSegment))
	if startSegment == endSegment && startChar > endChar {
		startChar, endChar = endChar, startChar
	}

	resolved.StartSegment = startSegment
	resolved.EndSegment = endSegment
	resolved.StartCharIndex = startChar
	resolved.EndCharIndex = endChar

	changed := resolved.StartSegment != raw.StartSegment ||
		resolved.EndSegment != raw.EndSegment ||
		resolved.StartCharIndex != raw.StartCharIndex ||
		resolved.EndCharIndex != raw.EndCharIndex
	if changed {
		r.warnDrift(jobID, raw, resolved)
	}
	return resolved, changed
}

func (r *Resolver) warnDrift(jobID string, raw ports.RawBoundary, resolved jobs.Boundary) {
	r.logger.Warn("boundary drift corrected",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("unit", raw.UnitNumber),
		logging.Int("raw_start_segment", raw.StartSegment),
		logging.Int("raw_end_segment", raw.EndSegment),
		logging.Int("raw_start_char", raw.StartCharIndex),
		logging.Int("raw_end_char", raw.EndCharIndex),
		logging.Int("start_segment", resolved.StartSegment),
		logging.Int("end_segment", resolved.EndSegment),
		logging.Int("start_char", resolved.StartCharIndex),
		logging.Int("end_char", resolved.EndCharIndex),
	)
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// clampChar keeps a character offset inside [0, length). A zero-length
// segment pins the offset to 0.
func clampChar(value, length int) int {
	if length <= 0 {
		return 0
	}
	return clamp(value, 0, length-1)
}

func segmentLength(segments []jobs.Segment, index int) int {
	for _, seg := range segments {
		if seg.Index == index {
			return seg.Length
		}
	}
	return 0
}
