package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Step names one pipeline stage.
type Step string

const (
	StepSplit      Step = "split"
	StepAnalyze    Step = "analyze"
	StepBoundaries Step = "boundaries"
	StepLayout     Step = "layout"
	StepRender     Step = "render"
)

// Steps returns the pipeline stages in execution order.
func Steps() []Step {
	return []Step{StepSplit, StepAnalyze, StepBoundaries, StepLayout, StepRender}
}

var stepSet = func() map[Step]struct{} {
	set := make(map[Step]struct{}, 5)
	for _, step := range Steps() {
		set[step] = struct{}{}
	}
	return set
}()

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseStep converts a string into a known Step.
func ParseStep(value string) (Step, bool) {
	normalized := Step(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stepSet[normalized]
	return normalized, ok
}

// Job is one pipeline run persisted in SQLite.
type Job struct {
	ID               string
	SourceDocumentID string
	Status           Status
	CurrentStep      Step

	SegmentCount int
	UnitCount    int
	PageCount    int

	Segmented          bool
	Analyzed           bool
	BoundariesResolved bool
	LayoutDerived      bool
	Rendered           bool

	StageProcessed int
	StageTotal     int

	LockedBy       string
	LeaseExpiresAt *time.Time
	StartedAt      *time.Time

	RetryCount int
	LastError  string

	LastNotifiedStatus string
	LastNotifiedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepDone reports whether the completion flag for a step is set.
func (j *Job) StepDone(step Step) bool {
	switch step {
	case StepSplit:
		return j.Segmented
	case StepAnalyze:
		return j.Analyzed
	case StepBoundaries:
		return j.BoundariesResolved
	case StepLayout:
		return j.LayoutDerived
	case StepRender:
		return j.Rendered
	default:
		return false
	}
}

// LeaseExpired reports whether the job carries a lease that lapsed before now.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LockedBy != "" && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

// Segment is one indexed slice of a job's source text. Offsets are rune
// offsets into the source document; segments are written once per job and
// never mutated afterwards.
type Segment struct {
	JobID       string
	Index       int
	ContentRef  string
	StartOffset int
	EndOffset   int
	Length      int
}

// Boundary is a resolved narrative-unit range over a job's segments.
type Boundary struct {
	JobID          string
	UnitNumber     int
	StartSegment   int
	EndSegment     int
	StartCharIndex int
	EndCharIndex   int
	Confidence     float64
}

// NotificationRecord marks that a job's terminal status has been communicated.
type NotificationRecord struct {
	JobID     string
	Status    Status
	CreatedAt time.Time
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
