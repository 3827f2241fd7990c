// Package ports declares the collaborator interfaces the pipeline core
// depends on. Implementations live elsewhere (file content store, HTTP
// structured generation, in-process dispatch) and are injected explicitly at
// construction time; the coordinator never reaches through globals.
package ports

import (
	"context"
	"encoding/json"
)

// ContentStore persists segment text and per-stage artifacts, addressed by
// job, stage, and index/unit.
type ContentStore interface {
	PutSegmentText(ctx context.Context, jobID string, index int, text string) (ref string, err error)
	GetSegmentText(ctx context.Context, jobID string, index int) (string, error)
	PutStageArtifact(ctx context.Context, jobID, stage string, unit int, blob []byte) error
	GetStageArtifact(ctx context.Context, jobID, stage string, unit int) ([]byte, error)
}

// StructuredGenerator performs one schema-validated LLM call. The returned
// payload is guaranteed to satisfy outputSchema.
type StructuredGenerator interface {
	Generate(ctx context.Context, prompt string, outputSchema []byte) (json.RawMessage, error)
}

// Message is a unit of asynchronous work handed to an out-of-process worker.
type Message struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// Dispatcher enqueues a message for asynchronous processing.
type Dispatcher interface {
	Enqueue(ctx context.Context, msg Message) error
}

// RawBoundary is a narrative-unit range proposed by boundary detection.
// Detection operates on aggregated text and may propose segment or character
// offsets that drifted outside what is actually persisted; raw boundaries are
// never trusted until resolved against the persisted segment set.
type RawBoundary struct {
	UnitNumber     int     `json:"unit_number"`
	StartSegment   int     `json:"start_segment"`
	EndSegment     int     `json:"end_segment"`
	StartCharIndex int     `json:"start_char_index"`
	EndCharIndex   int     `json:"end_char_index"`
	Confidence     float64 `json:"confidence"`
}

// BoundaryDetector analyzes aggregated per-segment analysis output and
// proposes narrative unit boundaries.
type BoundaryDetector interface {
	DetectBoundaries(ctx context.Context, aggregated string) ([]RawBoundary, error)
}
