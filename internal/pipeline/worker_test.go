package pipeline_test

import (
	"context"
	"testing"
	"time"

	"loom/internal/jobs"
	"loom/internal/pipeline"
	"loom/internal/testsupport"
)

func newWorkerFixture(t *testing.T) (*pipeline.Worker, *fixture) {
	t.Helper()
	fx := newFixture(t)
	worker, err := pipeline.NewWorker(fx.deps)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return worker, fx
}

func TestTickProcessesPendingJob(t *testing.T) {
	worker, fx := newWorkerFixture(t)
	ctx := context.Background()

	job, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 1500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	if err := worker.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	final, err := fx.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed after tick, got %s", final.Status)
	}
	if final.LockedBy != "" || final.LeaseExpiresAt != nil {
		t.Fatalf("expected lease released, got locked_by=%q", final.LockedBy)
	}
	if fx.notifier.completed != 1 {
		t.Fatalf("expected one completion notification, got %d", fx.notifier.completed)
	}
	if fx.notifier.started != 1 {
		t.Fatalf("expected one start notification, got %d", fx.notifier.started)
	}
}

func TestTickInterruptedJobReturnsToPending(t *testing.T) {
	worker, fx := newWorkerFixture(t)

	job, err := fx.coordinator.CreateOrResume(context.Background(), testsupport.DocumentText(t, 1500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	// The run context dies mid-analyze, as on daemon shutdown. The job must
	// come back unlocked and pending, with nothing recorded as a failure.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.analyzer.interrupt = cancel
	if err := worker.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	interrupted, err := fx.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if interrupted.Status != jobs.StatusPending {
		t.Fatalf("expected interrupted job back in pending, got %s", interrupted.Status)
	}
	if interrupted.LockedBy != "" || interrupted.LeaseExpiresAt != nil {
		t.Fatalf("expected lease cleared, got %#v", interrupted)
	}
	if interrupted.LastError != "" {
		t.Fatalf("expected no failure recorded, got %q", interrupted.LastError)
	}
	if fx.notifier.failed != 0 {
		t.Fatalf("expected no failure notification, got %d", fx.notifier.failed)
	}

	// A fresh cycle picks the job back up and finishes it.
	if err := worker.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick failed: %v", err)
	}
	final, err := fx.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completion on resume, got %s", final.Status)
	}
	if fx.notifier.completed != 1 {
		t.Fatalf("expected one completion notification, got %d", fx.notifier.completed)
	}
}

func TestProcessJobRunsSpecificJob(t *testing.T) {
	worker, fx := newWorkerFixture(t)
	ctx := context.Background()

	first, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	second, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	if err := worker.ProcessJob(ctx, second.ID); err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}

	done, err := fx.store.GetByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected requested job completed, got %s", done.Status)
	}
	untouched, err := fx.store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.Status != jobs.StatusPending {
		t.Fatalf("expected other job untouched, got %s", untouched.Status)
	}

	// Completed jobs are a no-op, not an error.
	if err := worker.ProcessJob(ctx, second.ID); err != nil {
		t.Fatalf("ProcessJob on completed job failed: %v", err)
	}
}

func TestProcessJobRefusesHeldJob(t *testing.T) {
	worker, fx := newWorkerFixture(t)
	ctx := context.Background()

	job, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	acquired, err := fx.store.AcquireLease(ctx, job.ID, "other-worker", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("setup acquire failed: acquired=%v err=%v", acquired, err)
	}

	if err := worker.ProcessJob(ctx, job.ID); err == nil {
		t.Fatal("expected claim on a held job to fail")
	}
	held, err := fx.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if held.LockedBy != "other-worker" {
		t.Fatalf("expected holder's claim untouched, got %#v", held)
	}
}

func TestProcessJobRetriesFailedJob(t *testing.T) {
	worker, fx := newWorkerFixture(t)
	ctx := context.Background()

	fx.detector.failures = 2
	job, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 1500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	if err := worker.ProcessJob(ctx, job.ID); err == nil {
		t.Fatal("expected exhausted detector to fail the run")
	}
	failed, err := fx.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.Status != jobs.StatusFailed {
		t.Fatalf("expected failed job, got %s", failed.Status)
	}

	if err := worker.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("ProcessJob after failure failed: %v", err)
	}
	final, err := fx.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected retried job completed, got %s", final.Status)
	}
}

func TestProcessJobUnknownID(t *testing.T) {
	worker, _ := newWorkerFixture(t)
	if err := worker.ProcessJob(context.Background(), "no-such-job"); err == nil {
		t.Fatal("expected unknown job id to error")
	}
}

func TestTickWithNoPendingJobsIsQuiet(t *testing.T) {
	worker, _ := newWorkerFixture(t)
	if err := worker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick on empty queue failed: %v", err)
	}
}

func TestTickSkipsJobHeldByAnotherWorker(t *testing.T) {
	worker, fx := newWorkerFixture(t)
	ctx := context.Background()

	job, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	acquired, err := fx.store.AcquireLease(ctx, job.ID, "other-worker", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("setup acquire failed: acquired=%v err=%v", acquired, err)
	}

	if err := worker.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	held, err := fx.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if held.LockedBy != "other-worker" || held.Status != jobs.StatusProcessing {
		t.Fatalf("expected job left with its holder, got %#v", held)
	}
	if fx.analyzer.analyzeCalls != 0 {
		t.Fatal("expected no processing of a job held elsewhere")
	}
}

func TestTickReclaimsExpiredLease(t *testing.T) {
	worker, fx := newWorkerFixture(t)
	ctx := context.Background()

	job, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	acquired, err := fx.store.AcquireLease(ctx, job.ID, "dead-worker", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("setup acquire failed: acquired=%v err=%v", acquired, err)
	}

	// Backdate the lease so the dead worker's claim has lapsed.
	held, err := fx.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	expired := time.Now().UTC().Add(-time.Hour)
	held.LeaseExpiresAt = &expired
	if err := fx.store.Update(ctx, held); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := worker.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	final, err := fx.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected reclaimed job completed, got %s", final.Status)
	}
}

func TestStartNotifiesOnCycleErrors(t *testing.T) {
	worker, fx := newWorkerFixture(t)

	// A broken store fails every cycle; the failure must reach the notifier.
	if err := fx.store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	deadline := time.After(10 * time.Second)
	for {
		fx.notifier.mu.Lock()
		notified := fx.notifier.errorCalls
		fx.notifier.mu.Unlock()
		if notified > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("no error notification before deadline")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStartStopProcessesViaWake(t *testing.T) {
	worker, fx := newWorkerFixture(t)
	ctx := context.Background()

	if err := worker.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	if err := worker.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	// The worker installed itself as the dispatch port, so creating a job
	// wakes the poll loop without waiting out the interval.
	job, err := fx.coordinator.CreateOrResume(ctx, testsupport.DocumentText(t, 500), "")
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		current, err := fx.store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if current.Status == jobs.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job not completed before deadline, status %s", current.Status)
		case <-time.After(50 * time.Millisecond):
		}
	}

	worker.Stop()
	if worker.ID() == "" {
		t.Fatal("expected a worker identity")
	}
}
