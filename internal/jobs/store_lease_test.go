package jobs_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"loom/internal/jobs"
	"loom/internal/testsupport"
)

func TestAcquireLeaseIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-lease")

	got, err := store.AcquireLease(ctx, job.ID, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if !got {
		t.Fatal("expected first worker to acquire the lease")
	}

	second, err := store.AcquireLease(ctx, job.ID, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease (competitor) failed: %v", err)
	}
	if second {
		t.Fatal("expected competing acquire to be refused")
	}

	claimed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if claimed.Status != jobs.StatusProcessing || claimed.LockedBy != "worker-1" {
		t.Fatalf("unexpected claimed state: %#v", claimed)
	}
	if claimed.LeaseExpiresAt == nil || claimed.StartedAt == nil {
		t.Fatal("expected lease expiry and start time to be set")
	}
}

func TestAcquireLeaseConcurrentWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-race")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			got, err := store.AcquireLease(ctx, job.ID, fmt.Sprintf("worker-%d", id), time.Minute)
			if err != nil {
				t.Errorf("AcquireLease failed: %v", err)
				return
			}
			if got {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestAcquireLeaseValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-validate")

	if _, err := store.AcquireLease(ctx, job.ID, "", time.Minute); err == nil {
		t.Fatal("expected empty worker id to be rejected")
	}
	if _, err := store.AcquireLease(ctx, job.ID, "worker-1", 0); err == nil {
		t.Fatal("expected non-positive lease duration to be rejected")
	}
}

func TestRenewLeaseRequiresHolder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-renew")
	if got, err := store.AcquireLease(ctx, job.ID, "worker-1", time.Minute); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	renewed, err := store.RenewLease(ctx, job.ID, "worker-1", 2*time.Minute)
	if err != nil {
		t.Fatalf("RenewLease failed: %v", err)
	}
	if !renewed {
		t.Fatal("expected holder to renew its lease")
	}

	stolen, err := store.RenewLease(ctx, job.ID, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("RenewLease (non-holder) failed: %v", err)
	}
	if stolen {
		t.Fatal("expected non-holder renewal to be refused")
	}
}

func TestReleaseLeaseClearsLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-release")
	if got, err := store.AcquireLease(ctx, job.ID, "worker-1", time.Minute); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	if err := store.ReleaseLease(ctx, job.ID, "worker-1"); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	released, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if released.LockedBy != "" || released.LeaseExpiresAt != nil {
		t.Fatalf("expected cleared lock state, got %#v", released)
	}
}

func TestReleaseLeaseScopedToHolder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-release-scope")
	if got, err := store.AcquireLease(ctx, job.ID, "worker-1", time.Minute); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	// A worker that lost its lease must not clear the current holder's claim.
	if err := store.ReleaseLease(ctx, job.ID, "worker-stale"); err != nil {
		t.Fatalf("ReleaseLease (non-holder) failed: %v", err)
	}
	held, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if held.LockedBy != "worker-1" || held.LeaseExpiresAt == nil {
		t.Fatalf("expected holder's lease untouched, got %#v", held)
	}
}

func TestRequeueLeasedReturnsHeldJobToPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-requeue")
	if got, err := store.AcquireLease(ctx, job.ID, "worker-1", time.Minute); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	requeued, err := store.RequeueLeased(ctx, job.ID, "worker-1")
	if err != nil {
		t.Fatalf("RequeueLeased failed: %v", err)
	}
	if !requeued {
		t.Fatal("expected holder to requeue its processing job")
	}

	pending, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if pending.Status != jobs.StatusPending || pending.LockedBy != "" || pending.LeaseExpiresAt != nil {
		t.Fatalf("expected unlocked pending job, got %#v", pending)
	}

	got, err := store.AcquireLease(ctx, job.ID, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease after requeue failed: %v", err)
	}
	if !got {
		t.Fatal("expected requeued job to be claimable again")
	}
}

func TestRequeueLeasedScopedToHolder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-requeue-scope")
	if got, err := store.AcquireLease(ctx, job.ID, "worker-1", time.Minute); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	requeued, err := store.RequeueLeased(ctx, job.ID, "worker-stale")
	if err != nil {
		t.Fatalf("RequeueLeased (non-holder) failed: %v", err)
	}
	if requeued {
		t.Fatal("expected non-holder requeue to be refused")
	}
	held, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if held.Status != jobs.StatusProcessing || held.LockedBy != "worker-1" {
		t.Fatalf("expected holder's claim untouched, got %#v", held)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	dead := testsupport.NewJob(t, store, "doc-dead-worker")
	if got, err := store.AcquireLease(ctx, dead.ID, "worker-dead", time.Minute); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	// Simulate a worker crash by backdating the lease expiry.
	claimed, err := store.GetByID(ctx, dead.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	expired := time.Now().UTC().Add(-time.Hour)
	claimed.LeaseExpiresAt = &expired
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	alive := testsupport.NewJob(t, store, "doc-alive-worker")
	if got, err := store.AcquireLease(ctx, alive.ID, "worker-alive", time.Hour); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	count, err := store.ReclaimExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, dead.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != jobs.StatusPending || reclaimed.LockedBy != "" || reclaimed.LeaseExpiresAt != nil {
		t.Fatalf("expected reclaimed pending job, got %#v", reclaimed)
	}

	got, err := store.AcquireLease(ctx, dead.ID, "worker-new", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease after reclaim failed: %v", err)
	}
	if !got {
		t.Fatal("expected reclaimed job to be acquirable by a new worker")
	}

	untouched, err := store.GetByID(ctx, alive.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.LockedBy != "worker-alive" {
		t.Fatalf("expected healthy lease untouched, got %#v", untouched)
	}
}

func TestReclaimSweepsProcessingOrphans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "doc-orphan")
	if got, err := store.AcquireLease(ctx, job.ID, "worker-1", time.Minute); err != nil || !got {
		t.Fatalf("AcquireLease failed: got=%v err=%v", got, err)
	}

	// A processing row with no lease at all can never be renewed or expire,
	// so the reclaim sweep must pick it up too.
	orphan, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	orphan.LockedBy = ""
	orphan.LeaseExpiresAt = nil
	if err := store.Update(ctx, orphan); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.ReclaimExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != jobs.StatusPending {
		t.Fatalf("expected orphan back in pending, got %#v", reclaimed)
	}
}
