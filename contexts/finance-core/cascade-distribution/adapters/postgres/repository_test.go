package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
	contractsv1 "splitflow/contracts/gen/events/v1"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteRepository(t *testing.T) *Repository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("resolve sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return NewRepository(db, nil)
}

func newJob(id string, createdAt time.Time) entities.DistributionJob {
	return entities.DistributionJob{
		ID:         id,
		Identifier: "alice",
		Asset:      "USDC",
		SourceRef:  "tx-" + id,
		DedupeKey:  entities.RootDedupeKey("tx-"+id, "alice", "USDC"),
		Status:     entities.JobStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestRepositoryClaimBatchFIFO(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seeds := []struct {
		id     string
		offset time.Duration
	}{
		{id: "job-c", offset: 3 * time.Second},
		{id: "job-a", offset: 1 * time.Second},
		{id: "job-b", offset: 2 * time.Second},
	}
	for _, seed := range seeds {
		if err := repo.Enqueue(ctx, newJob(seed.id, base.Add(seed.offset))); err != nil {
			t.Fatalf("enqueue %s failed: %v", seed.id, err)
		}
	}

	claimed, err := repo.ClaimBatch(ctx, 2, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != "job-a" || claimed[1].ID != "job-b" {
		t.Fatalf("expected job-a, job-b; got %+v", claimed)
	}
	if claimed[0].Status != entities.JobStatusProcessing || claimed[0].ClaimedAt == nil {
		t.Fatalf("expected processing with claimed_at, got %+v", claimed[0])
	}

	stored, err := repo.GetJob(ctx, "job-a")
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if stored.Status != entities.JobStatusProcessing {
		t.Fatalf("expected stored status processing, got %s", stored.Status)
	}

	rest, err := repo.ClaimBatch(ctx, 10, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "job-c" {
		t.Fatalf("expected only job-c, got %+v", rest)
	}
}

func TestRepositoryEnqueueRejectsDuplicatesAndDepth(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Enqueue(ctx, newJob("job-1", now)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	duplicate := newJob("job-2", now)
	duplicate.DedupeKey = entities.RootDedupeKey("tx-job-1", "alice", "USDC")
	if err := repo.Enqueue(ctx, duplicate); !errors.Is(err, domainerrors.ErrJobExists) {
		t.Fatalf("expected ErrJobExists for duplicate dedupe key, got %v", err)
	}

	deep := newJob("job-3", now)
	deep.Depth = entities.MaxDepth + 1
	if err := repo.Enqueue(ctx, deep); !errors.Is(err, domainerrors.ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}

	found, err := repo.GetJobByDedupeKey(ctx, entities.RootDedupeKey("tx-job-1", "alice", "USDC"))
	if err != nil || found.ID != "job-1" {
		t.Fatalf("expected job-1 by dedupe key, got %+v err=%v", found, err)
	}
	if _, err := repo.GetJobByDedupeKey(ctx, "root:missing"); !errors.Is(err, domainerrors.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRepositoryMarkTransitionsRequireProcessing(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Enqueue(ctx, newJob("job-1", now)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkCompleted(ctx, "job-1", "hash", "", now); !errors.Is(err, domainerrors.ErrJobNotProcessing) {
		t.Fatalf("expected ErrJobNotProcessing on pending job, got %v", err)
	}
	if err := repo.MarkRetry(ctx, "missing", "boom", entities.PendingSettlement{}, now); !errors.Is(err, domainerrors.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if _, err := repo.ClaimBatch(ctx, 1, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := repo.MarkRetry(ctx, "job-1", strings.Repeat("x", 900), entities.PendingSettlement{}, now); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}
	job, _ := repo.GetJob(ctx, "job-1")
	if job.Status != entities.JobStatusPending || job.Attempts != 1 {
		t.Fatalf("expected pending with one attempt, got %+v", job)
	}
	if len([]rune(job.LastError)) != entities.LastErrorLimit {
		t.Fatalf("expected last_error truncated to %d runes, got %d", entities.LastErrorLimit, len([]rune(job.LastError)))
	}

	if _, err := repo.ClaimBatch(ctx, 1, now); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "job-1", "permanent", entities.PendingSettlement{}, now); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}
	job, _ = repo.GetJob(ctx, "job-1")
	if job.Status != entities.JobStatusFailed || job.Attempts != 2 || job.ProcessedAt == nil {
		t.Fatalf("expected failed with two attempts, got %+v", job)
	}

	claimed, err := repo.ClaimBatch(ctx, 10, now)
	if err != nil || len(claimed) != 0 {
		t.Fatalf("failed jobs must not be claimed, got %+v err=%v", claimed, err)
	}

	if err := repo.Requeue(ctx, "job-1", now); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	job, _ = repo.GetJob(ctx, "job-1")
	if job.Status != entities.JobStatusPending || job.Attempts != 0 {
		t.Fatalf("expected requeued pending job with reset attempts, got %+v", job)
	}
	if err := repo.Requeue(ctx, "job-1", now); !errors.Is(err, domainerrors.ErrJobNotFailed) {
		t.Fatalf("expected ErrJobNotFailed, got %v", err)
	}
}

func TestRepositoryMarkCompletedStoresReference(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Enqueue(ctx, newJob("job-1", now)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.ClaimBatch(ctx, 1, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := repo.MarkCompleted(ctx, "job-1", "abc123", "noop", now); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	job, _ := repo.GetJob(ctx, "job-1")
	if job.Status != entities.JobStatusCompleted || job.ExternalRef != "abc123" || job.Note != "noop" {
		t.Fatalf("unexpected completed job %+v", job)
	}
	if err := repo.MarkFailed(ctx, "job-1", "late", entities.PendingSettlement{}, now); !errors.Is(err, domainerrors.ErrJobNotProcessing) {
		t.Fatalf("completed job must not transition, got %v", err)
	}
}

func TestRepositoryMarkRetryCarriesUnconfirmedSubmission(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Enqueue(ctx, newJob("job-1", now)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.ClaimBatch(ctx, 1, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	unconfirmed := entities.PendingSettlement{TxHash: "tx-pending", Pool: 1_000_000, PoolKnown: true}
	if err := repo.MarkRetry(ctx, "job-1", "finality timeout", unconfirmed, now); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}

	claimed, err := repo.ClaimBatch(ctx, 1, now)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected reclaimed job, got %+v err=%v", claimed, err)
	}
	pending, ok := claimed[0].PendingSettlement()
	if !ok || pending != unconfirmed {
		t.Fatalf("expected carried submission %+v, got %+v ok=%v", unconfirmed, pending, ok)
	}

	if err := repo.MarkCompleted(ctx, "job-1", "tx-pending", "", now); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	job, _ := repo.GetJob(ctx, "job-1")
	if job.ExternalRef != "tx-pending" || job.PendingPool != nil {
		t.Fatalf("expected completed job to keep hash and drop pending pool, got %+v", job)
	}
	if _, ok := job.PendingSettlement(); ok {
		t.Fatalf("completed job must not report a pending submission")
	}
}

func TestRepositoryResetStale(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.Enqueue(ctx, newJob("old", base)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.ClaimBatch(ctx, 1, base); err != nil {
		t.Fatalf("claim old failed: %v", err)
	}
	if err := repo.Enqueue(ctx, newJob("fresh", base.Add(time.Second))); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.ClaimBatch(ctx, 1, base.Add(30*time.Minute)); err != nil {
		t.Fatalf("claim fresh failed: %v", err)
	}

	count, err := repo.ResetStale(ctx, base.Add(15*time.Minute), base.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("reset stale failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one stale job reset, got %d", count)
	}
	old, _ := repo.GetJob(ctx, "old")
	fresh, _ := repo.GetJob(ctx, "fresh")
	if old.Status != entities.JobStatusPending || old.ClaimedAt != nil {
		t.Fatalf("expected old job back to pending, got %+v", old)
	}
	if fresh.Status != entities.JobStatusProcessing {
		t.Fatalf("expected fresh job still processing, got %+v", fresh)
	}
}

func TestRepositoryLedgerAndCascadeListing(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	entries := []entities.LedgerEntry{
		{ID: "e-2", EntryType: entities.LedgerEntryDistribution, FromIdentifier: "alice", ToIdentifier: "carol", Amount: 50_000_000, Asset: "USDC", SourceRef: "tx-1", Depth: 0, ShareBps: 500, CreatedAt: now},
		{ID: "e-1", EntryType: entities.LedgerEntryDistribution, FromIdentifier: "alice", ToIdentifier: "bob", Amount: 100_000_000, Asset: "USDC", SourceRef: "tx-1", Depth: 0, ShareBps: 1000, CreatedAt: now},
		{ID: "e-3", EntryType: entities.LedgerEntryDistribution, FromIdentifier: "x", ToIdentifier: "y", Amount: 1, Asset: "USDC", SourceRef: "tx-2", CreatedAt: now},
	}
	if err := repo.AppendLedgerEntries(ctx, entries); err != nil {
		t.Fatalf("append ledger failed: %v", err)
	}
	listed, err := repo.ListLedgerEntries(ctx, "tx-1")
	if err != nil {
		t.Fatalf("list ledger failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "e-1" || listed[1].Amount != 50_000_000 {
		t.Fatalf("unexpected ledger listing %+v", listed)
	}
	if err := repo.AppendLedgerEntries(ctx, []entities.LedgerEntry{{ID: "", Asset: "USDC"}}); !errors.Is(err, domainerrors.ErrInvalidJobInput) {
		t.Fatalf("expected invalid input for empty id, got %v", err)
	}
}

func TestRepositorySplitRulesAndDirectory(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	empty, err := repo.GetSplitRule(ctx, "nobody")
	if err != nil || empty.HasRecipients() {
		t.Fatalf("expected empty rule for unknown owner, got %+v err=%v", empty, err)
	}

	rule := entities.SplitRule{Owner: "alice", Recipients: []entities.Recipient{
		{Identifier: "bob", ShareBps: 1000},
		{Identifier: "carol", ShareBps: 500},
	}}
	if err := repo.PutSplitRule(ctx, rule); err != nil {
		t.Fatalf("put rule failed: %v", err)
	}
	if err := repo.PutSplitRule(ctx, entities.SplitRule{Owner: "alice", Recipients: []entities.Recipient{
		{Identifier: "dave", ShareBps: 2500},
	}}); err != nil {
		t.Fatalf("replace rule failed: %v", err)
	}
	got, err := repo.GetSplitRule(ctx, "alice")
	if err != nil {
		t.Fatalf("get rule failed: %v", err)
	}
	if len(got.Recipients) != 1 || got.Recipients[0].Identifier != "dave" || got.TotalBps() != 2500 {
		t.Fatalf("expected replaced rule, got %+v", got)
	}

	if _, err := repo.ResolveAccount(ctx, "alice"); !errors.Is(err, domainerrors.ErrAccountUnresolved) {
		t.Fatalf("expected ErrAccountUnresolved, got %v", err)
	}
	if err := repo.PutAccount(ctx, "alice", "acct-1"); err != nil {
		t.Fatalf("put account failed: %v", err)
	}
	if err := repo.PutAccount(ctx, "alice", "acct-2"); err != nil {
		t.Fatalf("update account failed: %v", err)
	}
	account, err := repo.ResolveAccount(ctx, "alice")
	if err != nil || account != "acct-2" {
		t.Fatalf("expected acct-2, got %q err=%v", account, err)
	}
}

func TestRepositoryIdempotencyRecords(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := ports.IdempotencyRecord{
		Key:             "idem-1",
		RequestHash:     "hash-a",
		ResponsePayload: []byte(`{"id":"job-1"}`),
		ExpiresAt:       now.Add(time.Hour),
	}
	if err := repo.PutRecord(ctx, record); err != nil {
		t.Fatalf("put record failed: %v", err)
	}
	if err := repo.PutRecord(ctx, record); err != nil {
		t.Fatalf("same-hash put should be a no-op, got %v", err)
	}
	record.RequestHash = "hash-b"
	if err := repo.PutRecord(ctx, record); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}

	got, found, err := repo.GetRecord(ctx, "idem-1", now)
	if err != nil || !found || got.RequestHash != "hash-a" || string(got.ResponsePayload) != `{"id":"job-1"}` {
		t.Fatalf("unexpected record %+v found=%v err=%v", got, found, err)
	}
	_, found, err = repo.GetRecord(ctx, "idem-1", now.Add(2*time.Hour))
	if err != nil || found {
		t.Fatalf("expected expired record to be dropped, found=%v err=%v", found, err)
	}
}

func TestRepositoryOutboxLifecycle(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	envelope := ports.EventEnvelope{
		EventID:       "evt-1",
		EventType:     contractsv1.EventHopCompleted,
		OccurredAt:    now,
		SourceService: "cascade-distribution",
		SchemaVersion: 1,
		PartitionKey:  "tx-1",
		Data:          []byte(`{"job_id":"job-1"}`),
	}
	if err := repo.AppendOutbox(ctx, envelope); err != nil {
		t.Fatalf("append outbox failed: %v", err)
	}
	if err := repo.AppendOutbox(ctx, envelope); err != nil {
		t.Fatalf("identical append should be idempotent, got %v", err)
	}
	envelope.Data = []byte(`{"job_id":"job-2"}`)
	if err := repo.AppendOutbox(ctx, envelope); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected conflict for different payload, got %v", err)
	}

	pending, err := repo.ListPendingOutbox(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].EventType != contractsv1.EventHopCompleted {
		t.Fatalf("unexpected pending outbox %+v err=%v", pending, err)
	}
	if err := repo.MarkOutboxPublished(ctx, "evt-1", now); err != nil {
		t.Fatalf("mark published failed: %v", err)
	}
	pending, _ = repo.ListPendingOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending outbox rows, got %d", len(pending))
	}
	if err := repo.MarkOutboxPublished(ctx, "missing", now); err == nil {
		t.Fatal("expected error for unknown outbox id")
	}
}
