package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"loom/internal/analysis"
	"loom/internal/jobs"
	"loom/internal/logging"
	"loom/internal/ports"
	"loom/internal/segmenter"
	"loom/internal/services"
	"loom/internal/stageexec"
)

// Artifact stage names used with the content store, alongside the pipeline
// steps themselves.
const (
	sourceStage = "source"
	renderStage = "render"
)

// StageAnalyzer is the slice of the analysis surface the coordinator drives.
type StageAnalyzer interface {
	AnalyzeSegment(ctx context.Context, current, previous, next string) (analysis.SegmentAnalysis, json.RawMessage, error)
	DeriveLayout(ctx context.Context, unitNumber int, unitText string) (analysis.UnitLayout, json.RawMessage, error)
}

// Progress is a consumer-facing view of a job's position in the pipeline.
type Progress struct {
	Status      jobs.Status
	CurrentStep jobs.Step
	Processed   int
	Total       int
	LastError   string
}

// Coordinator is the pipeline state machine. It sequences split, analyze,
// boundaries, layout, and render for one job at a time, persisting a
// checkpoint after every stage so an interrupted run resumes from the last
// completed stage rather than the beginning.
type Coordinator struct {
	deps   *Deps
	logger *slog.Logger
}

// NewCoordinator validates dependencies and builds a coordinator.
func NewCoordinator(deps *Deps) (*Coordinator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.normalize()
	return &Coordinator{
		deps:   deps,
		logger: deps.Logger.With(logging.String(logging.FieldComponent, "pipeline")),
	}, nil
}

// CreateOrResume returns the job to process. Without an existing id a new
// pending job is created. With one, the persisted row is reused when present
// so a resumed run continues from its recorded step state; a missing row is
// created under the supplied id. Source text is stored as a job artifact so
// every stage reads the same bytes regardless of which process runs it.
func (c *Coordinator) CreateOrResume(ctx context.Context, sourceText, existingJobID string) (*jobs.Job, error) {
	store := c.deps.Store

	if existingJobID != "" {
		job, err := store.GetByID(ctx, existingJobID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			c.logger.Info("resuming job",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldStage, string(job.CurrentStep)),
				logging.String("status", string(job.Status)),
			)
			if strings.TrimSpace(sourceText) != "" {
				if err := c.deps.Content.PutStageArtifact(ctx, job.ID, sourceStage, 0, []byte(sourceText)); err != nil {
					return nil, err
				}
			}
			return job, nil
		}
	}

	job, err := store.Create(ctx, existingJobID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	if err := c.deps.Content.PutStageArtifact(ctx, job.ID, sourceStage, 0, []byte(sourceText)); err != nil {
		return nil, err
	}
	c.logger.Info("created job", logging.String(logging.FieldJobID, job.ID))
	if c.deps.Dispatcher != nil {
		if err := c.deps.Dispatcher.Enqueue(ctx, ports.Message{Type: "job.created", JobID: job.ID}); err != nil {
			c.logger.Warn("dispatch created job", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}
	return job, nil
}

// Run executes every remaining stage of a job and returns its terminal
// status. Stages whose completion flag is already set are skipped; a stage
// that runs again after a partial earlier attempt overwrites its own output.
func (c *Coordinator) Run(ctx context.Context, jobID string) (jobs.Status, error) {
	started := time.Now()
	job, err := c.deps.Store.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", services.Wrap(services.ErrNotFound, "pipeline", "run", "job "+jobID, nil)
	}
	if job.Status == jobs.StatusCompleted {
		return jobs.StatusCompleted, nil
	}

	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, c.logger)

	stages := []struct {
		step jobs.Step
		run  func(context.Context, *jobs.Job) error
	}{
		{jobs.StepSplit, c.runSplit},
		{jobs.StepAnalyze, c.runAnalyze},
		{jobs.StepBoundaries, c.runBoundaries},
		{jobs.StepLayout, c.runLayout},
		{jobs.StepRender, c.runRender},
	}

	for _, stage := range stages {
		job, err = c.deps.Store.GetByID(ctx, jobID)
		if err != nil {
			return "", err
		}
		if job.StepDone(stage.step) {
			continue
		}
		logger.Info("stage started", logging.String(logging.FieldStage, string(stage.step)))
		if err := stage.run(services.WithStage(ctx, string(stage.step)), job); err != nil {
			return jobs.StatusFailed, c.failJob(ctx, jobID, stage.step, err)
		}
		if err := c.deps.Store.MarkStageComplete(ctx, jobID, stage.step); err != nil {
			return "", err
		}
		logger.Info("stage completed", logging.String(logging.FieldStage, string(stage.step)))
	}

	final, err := c.deps.Store.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	c.notifyCompleted(ctx, final, time.Since(started))
	return final.Status, nil
}

// Progress reports a consistent view of a job's position.
func (c *Coordinator) Progress(ctx context.Context, jobID string) (Progress, error) {
	job, err := c.deps.Store.GetByID(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	if job == nil {
		return Progress{}, services.Wrap(services.ErrNotFound, "pipeline", "progress", "job "+jobID, nil)
	}
	return Progress{
		Status:      job.Status,
		CurrentStep: job.CurrentStep,
		Processed:   job.StageProcessed,
		Total:       job.StageTotal,
		LastError:   job.LastError,
	}, nil
}

func (c *Coordinator) runSplit(ctx context.Context, job *jobs.Job) error {
	source, err := c.sourceText(ctx, job.ID)
	if err != nil {
		return err
	}

	segments, err := segmenter.Split(source, segmenter.FromAppConfig(c.deps.Config.Segmenter))
	if err != nil {
		return err
	}

	rows := make([]jobs.Segment, 0, len(segments))
	for _, seg := range segments {
		ref, err := c.deps.Content.PutSegmentText(ctx, job.ID, seg.Index, seg.Text)
		if err != nil {
			return err
		}
		rows = append(rows, jobs.Segment{
			JobID:       job.ID,
			Index:       seg.Index,
			ContentRef:  ref,
			StartOffset: seg.Start,
			EndOffset:   seg.End,
			Length:      seg.Length(),
		})
	}
	if err := c.deps.Store.InsertSegments(ctx, job.ID, rows); err != nil {
		return err
	}
	return c.deps.Store.AdvanceStep(ctx, job.ID, jobs.StepSplit, len(rows), len(rows))
}

func (c *Coordinator) runAnalyze(ctx context.Context, job *jobs.Job) error {
	segments, err := c.deps.Store.SegmentsByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	total := len(segments)
	if err := c.deps.Store.AdvanceStep(ctx, job.ID, jobs.StepAnalyze, 0, total); err != nil {
		return err
	}

	// Strict index order: segment i's prompt includes its neighbors' text, so
	// i is only analyzed after i-1 completed and persisted.
	for i, seg := range segments {
		current, err := c.deps.Content.GetSegmentText(ctx, job.ID, seg.Index)
		if err != nil {
			return err
		}
		previous := ""
		if i > 0 {
			if previous, err = c.deps.Content.GetSegmentText(ctx, job.ID, segments[i-1].Index); err != nil {
				return err
			}
		}
		next := ""
		if i < total-1 {
			if next, err = c.deps.Content.GetSegmentText(ctx, job.ID, segments[i+1].Index); err != nil {
				return err
			}
		}

		err = stageexec.Run(ctx, stageexec.Options{
			Logger: c.logger,
			Store:  c.deps.Store,
			JobID:  job.ID,
			Stage:  jobs.StepAnalyze,
		}, func(ctx context.Context) error {
			_, raw, analyzeErr := c.deps.Analyzer.AnalyzeSegment(ctx, current, previous, next)
			if analyzeErr != nil {
				return analyzeErr
			}
			return c.deps.Content.PutStageArtifact(ctx, job.ID, string(jobs.StepAnalyze), seg.Index, raw)
		})
		if err != nil {
			return err
		}
		if err := c.deps.Store.AdvanceStep(ctx, job.ID, jobs.StepAnalyze, i+1, total); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) runBoundaries(ctx context.Context, job *jobs.Job) error {
	segments, err := c.deps.Store.SegmentsByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return c.deps.Store.SetUnitCount(ctx, job.ID, 0)
	}

	analyses := make([]analysis.SegmentAnalysis, 0, len(segments))
	for _, seg := range segments {
		blob, err := c.deps.Content.GetStageArtifact(ctx, job.ID, string(jobs.StepAnalyze), seg.Index)
		if err != nil {
			return err
		}
		var parsed analysis.SegmentAnalysis
		if err := json.Unmarshal(blob, &parsed); err != nil {
			return services.Wrap(services.ErrValidation, "boundaries", "load-analysis",
				fmt.Sprintf("segment %d artifact", seg.Index), err)
		}
		analyses = append(analyses, parsed)
	}

	var raw []ports.RawBoundary
	err = stageexec.Run(ctx, stageexec.Options{
		Logger: c.logger,
		Store:  c.deps.Store,
		JobID:  job.ID,
		Stage:  jobs.StepBoundaries,
	}, func(ctx context.Context) error {
		detected, detectErr := c.deps.Detector.DetectBoundaries(ctx, analysis.AggregateAnalyses(analyses))
		if detectErr != nil {
			return detectErr
		}
		raw = detected
		return nil
	})
	if err != nil {
		return err
	}

	for _, proposal := range raw {
		resolved, _ := c.deps.Resolver.Resolve(job.ID, proposal, segments)
		if err := c.deps.Store.UpsertBoundary(ctx, resolved); err != nil {
			return err
		}
	}
	if err := c.deps.Store.SetUnitCount(ctx, job.ID, len(raw)); err != nil {
		return err
	}
	return c.deps.Store.AdvanceStep(ctx, job.ID, jobs.StepBoundaries, len(raw), len(raw))
}

func (c *Coordinator) runLayout(ctx context.Context, job *jobs.Job) error {
	boundaries, err := c.deps.Store.BoundariesByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(boundaries) == 0 {
		return c.deps.Store.SetPageCount(ctx, job.ID, 0)
	}

	segments, err := c.deps.Store.SegmentsByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	source, err := c.sourceText(ctx, job.ID)
	if err != nil {
		return err
	}
	sourceRunes := []rune(source)

	total := len(boundaries)
	pageCount := 0
	for i, unit := range boundaries {
		unitText := unitSlice(sourceRunes, segments, unit)

		err := stageexec.Run(ctx, stageexec.Options{
			Logger: c.logger,
			Store:  c.deps.Store,
			JobID:  job.ID,
			Stage:  jobs.StepLayout,
		}, func(ctx context.Context) error {
			layout, rawLayout, deriveErr := c.deps.Analyzer.DeriveLayout(ctx, unit.UnitNumber, unitText)
			if deriveErr != nil {
				return deriveErr
			}
			if putErr := c.deps.Content.PutStageArtifact(ctx, job.ID, string(jobs.StepLayout), unit.UnitNumber, rawLayout); putErr != nil {
				return putErr
			}
			pageCount += len(layout.Pages)
			return nil
		})
		if err != nil {
			return err
		}
		if err := c.deps.Store.AdvanceStep(ctx, job.ID, jobs.StepLayout, i+1, total); err != nil {
			return err
		}
	}
	return c.deps.Store.SetPageCount(ctx, job.ID, pageCount)
}

func (c *Coordinator) runRender(ctx context.Context, job *jobs.Job) error {
	boundaries, err := c.deps.Store.BoundariesByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	total := len(boundaries)
	page := 0
	for i, unit := range boundaries {
		blob, err := c.deps.Content.GetStageArtifact(ctx, job.ID, string(jobs.StepLayout), unit.UnitNumber)
		if err != nil {
			return err
		}
		var layout analysis.UnitLayout
		if err := json.Unmarshal(blob, &layout); err != nil {
			return services.Wrap(services.ErrValidation, "render", "load-layout",
				fmt.Sprintf("unit %d artifact", unit.UnitNumber), err)
		}

		for _, p := range layout.Pages {
			page++
			rendered := renderPage(unit.UnitNumber, p)
			if err := c.deps.Content.PutStageArtifact(ctx, job.ID, renderStage, page, rendered); err != nil {
				return err
			}
		}
		if err := c.deps.Store.AdvanceStep(ctx, job.ID, jobs.StepRender, i+1, total); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) sourceText(ctx context.Context, jobID string) (string, error) {
	blob, err := c.deps.Content.GetStageArtifact(ctx, jobID, sourceStage, 0)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// failJob makes sure the terminal failure is durably recorded and the outbox
// gates the failure notification. Stage executor units already persist their
// own failures; anything else is recorded here. Interruptions are passed
// through untouched: a cancelled run left no terminal state to record, and
// the job must stay resumable.
func (c *Coordinator) failJob(ctx context.Context, jobID string, step jobs.Step, cause error) error {
	if services.Interrupted(cause) {
		return cause
	}

	// The run context may already be cancelled; the durable failure record
	// and its notification must not be lost to that.
	ctx = context.WithoutCancel(ctx)

	job, err := c.deps.Store.GetByID(ctx, jobID)
	if err != nil {
		c.logger.Error("load job after stage failure", logging.Error(err))
	}
	if job != nil && job.Status != jobs.StatusFailed {
		if err := c.deps.Store.MarkFailed(ctx, jobID, fmt.Sprintf("%s: %v", step, cause)); err != nil {
			c.logger.Error("persist job failure", logging.String(logging.FieldJobID, jobID), logging.Error(err))
		}
	}

	recorded, err := c.deps.Store.RecordNotification(ctx, jobID, jobs.StatusFailed)
	if err != nil {
		c.logger.Error("record failure notification", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
	if recorded {
		lastError := cause.Error()
		if job != nil && job.LastError != "" {
			lastError = job.LastError
		}
		if err := c.deps.Notifier.NotifyJobFailed(ctx, jobID, string(step), lastError); err != nil {
			c.logger.Warn("failure notification", logging.String(logging.FieldJobID, jobID), logging.Error(err))
		}
	}
	return cause
}

func (c *Coordinator) notifyCompleted(ctx context.Context, job *jobs.Job, elapsed time.Duration) {
	if job == nil || job.Status != jobs.StatusCompleted {
		return
	}
	recorded, err := c.deps.Store.RecordNotification(ctx, job.ID, jobs.StatusCompleted)
	if err != nil {
		c.logger.Error("record completion notification", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	if !recorded {
		return
	}
	if err := c.deps.Notifier.NotifyJobCompleted(ctx, job.ID, job.PageCount, elapsed); err != nil {
		c.logger.Warn("completion notification", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}
}

// unitSlice extracts a unit's text from the source document using segment
// offsets plus the resolved character indices. Character indices are
// inclusive positions within the first and last touched segments.
func unitSlice(source []rune, segments []jobs.Segment, unit jobs.Boundary) string {
	var first, last *jobs.Segment
	for i := range segments {
		if segments[i].Index == unit.StartSegment {
			first = &segments[i]
		}
		if segments[i].Index == unit.EndSegment {
			last = &segments[i]
		}
	}
	if first == nil || last == nil {
		return ""
	}

	start := first.StartOffset + unit.StartCharIndex
	end := last.StartOffset + unit.EndCharIndex + 1
	if start < 0 {
		start = 0
	}
	if end > len(source) {
		end = len(source)
	}
	if start >= end {
		return ""
	}
	return string(source[start:end])
}

func renderPage(unitNumber int, p analysis.Page) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "unit %d page %d\n", unitNumber, p.Number)
	if desc := strings.TrimSpace(p.Description); desc != "" {
		fmt.Fprintf(&b, "# %s\n", desc)
	}
	b.WriteString(p.Text)
	return []byte(b.String())
}
