package ports

import (
	"context"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	contractsv1 "splitflow/contracts/gen/events/v1"
)

type JobQueue interface {
	Enqueue(ctx context.Context, job entities.DistributionJob) error
	ClaimBatch(ctx context.Context, limit int, claimedAt time.Time) ([]entities.DistributionJob, error)
	MarkCompleted(ctx context.Context, jobID string, externalRef string, note string, at time.Time) error
	// MarkRetry and MarkFailed store pending on the job, replacing any
	// submission carried from an earlier attempt. A zero pending clears it.
	MarkRetry(ctx context.Context, jobID string, lastError string, pending entities.PendingSettlement, at time.Time) error
	MarkFailed(ctx context.Context, jobID string, lastError string, pending entities.PendingSettlement, at time.Time) error

	GetJob(ctx context.Context, jobID string) (entities.DistributionJob, error)
	GetJobByDedupeKey(ctx context.Context, dedupeKey string) (entities.DistributionJob, error)
	ListJobsBySource(ctx context.Context, sourceRef string) ([]entities.DistributionJob, error)
	ResetStale(ctx context.Context, processingBefore time.Time, at time.Time) (int, error)
	Requeue(ctx context.Context, jobID string, at time.Time) error
}

type LedgerRepository interface {
	AppendLedgerEntries(ctx context.Context, entries []entities.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, sourceRef string) ([]entities.LedgerEntry, error)
}

// SplitRuleReader reads rules owned upstream. Owners without rules return an
// empty rule, not an error.
type SplitRuleReader interface {
	GetSplitRule(ctx context.Context, owner string) (entities.SplitRule, error)
}

type IdentifierDirectory interface {
	ResolveAccount(ctx context.Context, identifier string) (string, error)
}

type DistributeRequest struct {
	Identifier      string
	Asset           string
	MinDistribution int64
	// PendingTxHash is a prior submission to look up before submitting again.
	PendingTxHash string
}

// Settlement is the worker-facing view of the settlement mechanism: a pool read
// and a distribute call that runs to a classified terminal outcome.
type Settlement interface {
	PoolBalance(ctx context.Context, identifier string, asset string) (int64, error)
	Distribute(ctx context.Context, req DistributeRequest) (entities.SettlementResult, error)
}

type BalanceReader interface {
	Balances(ctx context.Context, identifier string, asset string) (entities.Balances, error)
}

type DistributeSubmission struct {
	Source          string
	Sequence        int64
	Identifier      string
	Asset           string
	MinDistribution int64
	Signature       []byte
}

// SettlementGateway is the external contract surface the adapter drives.
type SettlementGateway interface {
	AccountSequence(ctx context.Context, account string) (int64, error)
	SubmitDistribute(ctx context.Context, submission DistributeSubmission) (string, error)
	GetTransaction(ctx context.Context, txHash string) (entities.TxStatus, error)

	Pool(ctx context.Context, identifier string, asset string) (int64, error)
	Unclaimed(ctx context.Context, identifier string, asset string) (int64, error)
	TotalReceived(ctx context.Context, identifier string, asset string) (int64, error)
	TotalForwarded(ctx context.Context, identifier string, asset string) (int64, error)
}

type BatchObserver interface {
	ObserveJob(outcome entities.JobOutcome, depth int)
	ObserveBatch(summary entities.BatchSummary, elapsed time.Duration)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type IdempotencyRecord struct {
	Key             string
	RequestHash     string
	ResponsePayload []byte
	ExpiresAt       time.Time
}

type IdempotencyStore interface {
	GetRecord(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	PutRecord(ctx context.Context, record IdempotencyRecord) error
}

type EventEnvelope = contractsv1.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	OutboxWriter
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}
