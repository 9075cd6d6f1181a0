package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
)

func seedJob(t *testing.T, store *Store, id string, createdAt time.Time) {
	t.Helper()
	err := store.Enqueue(context.Background(), entities.DistributionJob{
		ID:         id,
		Identifier: "alice",
		Asset:      "USDC",
		SourceRef:  "tx-" + id,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	})
	if err != nil {
		t.Fatalf("enqueue %s failed: %v", id, err)
	}
}

func TestClaimBatchIsFIFOAndTransitionsToProcessing(t *testing.T) {
	store := NewStore(nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedJob(t, store, "job-3", base.Add(3*time.Second))
	seedJob(t, store, "job-1", base.Add(1*time.Second))
	seedJob(t, store, "job-2", base.Add(2*time.Second))

	claimed, err := store.ClaimBatch(context.Background(), 2, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != "job-1" || claimed[1].ID != "job-2" {
		t.Fatalf("expected job-1 and job-2 in order, got %+v", claimed)
	}
	for _, job := range claimed {
		if job.Status != entities.JobStatusProcessing {
			t.Fatalf("expected processing, got %s", job.Status)
		}
	}

	next, err := store.ClaimBatch(context.Background(), 10, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if len(next) != 1 || next[0].ID != "job-3" {
		t.Fatalf("expected only job-3 on second claim, got %+v", next)
	}
}

func TestConcurrentClaimsNeverShareJobs(t *testing.T) {
	store := NewStore(nil)
	base := time.Now().UTC()
	for i := 0; i < 50; i++ {
		seedJob(t, store, fmt.Sprintf("job-%02d", i), base.Add(time.Duration(i)*time.Millisecond))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimBatch(context.Background(), 3, time.Now().UTC())
				if err != nil || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, job := range claimed {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Fatalf("expected 50 distinct claims, got %d", len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
}

func TestTerminalJobsAreNeverReclaimed(t *testing.T) {
	store := NewStore(nil)
	now := time.Now().UTC()
	seedJob(t, store, "done", now)
	seedJob(t, store, "broken", now.Add(time.Millisecond))

	if _, err := store.ClaimBatch(context.Background(), 10, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := store.MarkCompleted(context.Background(), "done", "tx-hash", "", now); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	if err := store.MarkFailed(context.Background(), "broken", "boom", entities.PendingSettlement{}, now); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	claimed, err := store.ClaimBatch(context.Background(), 10, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no claimable jobs, got %+v", claimed)
	}
	if err := store.MarkCompleted(context.Background(), "done", "tx-hash", "", now); !errors.Is(err, domainerrors.ErrJobNotProcessing) {
		t.Fatalf("expected ErrJobNotProcessing, got %v", err)
	}
}

func TestMarkRetryIncrementsAttemptsAndTruncatesError(t *testing.T) {
	store := NewStore(nil)
	now := time.Now().UTC()
	seedJob(t, store, "job", now)
	if _, err := store.ClaimBatch(context.Background(), 1, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	long := make([]rune, entities.LastErrorLimit+40)
	for i := range long {
		long[i] = 'é'
	}
	if err := store.MarkRetry(context.Background(), "job", string(long), entities.PendingSettlement{}, now); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}
	job, err := store.GetJob(context.Background(), "job")
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.Status != entities.JobStatusPending || job.Attempts != 1 {
		t.Fatalf("expected pending with 1 attempt, got %s/%d", job.Status, job.Attempts)
	}
	if got := len([]rune(job.LastError)); got != entities.LastErrorLimit {
		t.Fatalf("expected error truncated to %d runes, got %d", entities.LastErrorLimit, got)
	}
}

func TestEnqueueRejectsDuplicatesAndDeepJobs(t *testing.T) {
	store := NewStore(nil)
	now := time.Now().UTC()
	job := entities.DistributionJob{
		ID:         "root",
		Identifier: "alice",
		Asset:      "USDC",
		SourceRef:  "tx-1",
		DedupeKey:  entities.RootDedupeKey("tx-1", "alice", "USDC"),
		CreatedAt:  now,
	}
	if err := store.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	job.ID = "root-again"
	if err := store.Enqueue(context.Background(), job); !errors.Is(err, domainerrors.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}

	deep := job
	deep.ID = "deep"
	deep.DedupeKey = ""
	deep.Depth = entities.MaxDepth + 1
	if err := store.Enqueue(context.Background(), deep); !errors.Is(err, domainerrors.ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestMarkRetryCarriesUnconfirmedSubmission(t *testing.T) {
	store := NewStore(nil)
	now := time.Now().UTC()
	seedJob(t, store, "job", now)
	if _, err := store.ClaimBatch(context.Background(), 1, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	unconfirmed := entities.PendingSettlement{TxHash: "tx-pending", Pool: 500}
	if err := store.MarkRetry(context.Background(), "job", "finality timeout", unconfirmed, now); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}
	job, _ := store.GetJob(context.Background(), "job")
	pending, ok := job.PendingSettlement()
	if !ok || pending.TxHash != "tx-pending" || pending.PoolKnown {
		t.Fatalf("expected hash carried without a pool, got %+v ok=%v", pending, ok)
	}

	if _, err := store.ClaimBatch(context.Background(), 1, now); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if err := store.MarkRetry(context.Background(), "job", "submit failed", entities.PendingSettlement{}, now); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}
	job, _ = store.GetJob(context.Background(), "job")
	if _, ok := job.PendingSettlement(); ok || job.ExternalRef != "" {
		t.Fatalf("expected pending submission cleared, got %+v", job)
	}
}

func TestResetStaleAndRequeue(t *testing.T) {
	store := NewStore(nil)
	base := time.Now().UTC()
	seedJob(t, store, "stuck", base)
	seedJob(t, store, "dead", base.Add(time.Millisecond))
	if _, err := store.ClaimBatch(context.Background(), 10, base); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := store.MarkFailed(context.Background(), "dead", "boom", entities.PendingSettlement{}, base); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	reset, err := store.ResetStale(context.Background(), base.Add(time.Minute), base.Add(time.Hour))
	if err != nil || reset != 1 {
		t.Fatalf("expected one stale job reset, got %d err=%v", reset, err)
	}
	if err := store.Requeue(context.Background(), "stuck", base); !errors.Is(err, domainerrors.ErrJobNotFailed) {
		t.Fatalf("expected ErrJobNotFailed for pending job, got %v", err)
	}
	if err := store.Requeue(context.Background(), "dead", base); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	job, _ := store.GetJob(context.Background(), "dead")
	if job.Status != entities.JobStatusPending || job.Attempts != 0 {
		t.Fatalf("expected requeued job pending with 0 attempts, got %s/%d", job.Status, job.Attempts)
	}
}
