package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.RWMutex

	jobs        map[string]jobRecord
	dedupe      map[string]string
	sequence    int64
	ledger      []entities.LedgerEntry
	rules       map[string]entities.SplitRule
	accounts    map[string]string
	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
}

type jobRecord struct {
	job entities.DistributionJob
	seq int64
}

type outboxRecord struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
	PublishedAt  *time.Time
}

func NewStore(rules []entities.SplitRule) *Store {
	store := &Store{
		jobs:        make(map[string]jobRecord),
		dedupe:      make(map[string]string),
		rules:       make(map[string]entities.SplitRule),
		accounts:    make(map[string]string),
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
	}
	for _, rule := range rules {
		store.rules[strings.TrimSpace(rule.Owner)] = cloneRule(rule)
	}
	return store
}

func (s *Store) PutSplitRule(rule entities.SplitRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[strings.TrimSpace(rule.Owner)] = cloneRule(rule)
}

func (s *Store) PutAccount(identifier string, account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.TrimSpace(identifier)] = strings.TrimSpace(account)
}

func (s *Store) Enqueue(_ context.Context, job entities.DistributionJob) error {
	if err := validateJob(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return domainerrors.ErrJobExists
	}
	if job.DedupeKey != "" {
		if _, exists := s.dedupe[job.DedupeKey]; exists {
			return domainerrors.ErrJobExists
		}
		s.dedupe[job.DedupeKey] = job.ID
	}
	if job.Status == "" {
		job.Status = entities.JobStatusPending
	}
	s.sequence++
	s.jobs[job.ID] = jobRecord{job: job, seq: s.sequence}
	return nil
}

// ClaimBatch selects and transitions jobs under one write lock, so a job can
// only ever be handed to a single caller.
func (s *Store) ClaimBatch(_ context.Context, limit int, claimedAt time.Time) ([]entities.DistributionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	pending := make([]jobRecord, 0, limit)
	for _, record := range s.jobs {
		if record.job.Status == entities.JobStatusPending {
			pending = append(pending, record)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].job.CreatedAt.Equal(pending[j].job.CreatedAt) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].job.CreatedAt.Before(pending[j].job.CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	at := claimedAt.UTC()
	claimed := make([]entities.DistributionJob, 0, len(pending))
	for _, record := range pending {
		record.job.Status = entities.JobStatusProcessing
		record.job.ClaimedAt = &at
		record.job.UpdatedAt = at
		s.jobs[record.job.ID] = record
		claimed = append(claimed, record.job)
	}
	return claimed, nil
}

func (s *Store) MarkCompleted(_ context.Context, jobID string, externalRef string, note string, at time.Time) error {
	return s.transition(jobID, func(job *entities.DistributionJob) {
		processedAt := at.UTC()
		job.Status = entities.JobStatusCompleted
		job.ExternalRef = strings.TrimSpace(externalRef)
		job.PendingPool = nil
		job.Note = strings.TrimSpace(note)
		job.ProcessedAt = &processedAt
		job.UpdatedAt = processedAt
	})
}

func (s *Store) MarkRetry(_ context.Context, jobID string, lastError string, pending entities.PendingSettlement, at time.Time) error {
	return s.transition(jobID, func(job *entities.DistributionJob) {
		job.Status = entities.JobStatusPending
		job.Attempts++
		job.LastError = entities.TruncateError(lastError)
		job.ExternalRef = strings.TrimSpace(pending.TxHash)
		job.PendingPool = pending.PoolRef()
		job.UpdatedAt = at.UTC()
	})
}

func (s *Store) MarkFailed(_ context.Context, jobID string, lastError string, pending entities.PendingSettlement, at time.Time) error {
	return s.transition(jobID, func(job *entities.DistributionJob) {
		processedAt := at.UTC()
		job.Status = entities.JobStatusFailed
		job.Attempts++
		job.LastError = entities.TruncateError(lastError)
		job.ExternalRef = strings.TrimSpace(pending.TxHash)
		job.PendingPool = pending.PoolRef()
		job.ProcessedAt = &processedAt
		job.UpdatedAt = processedAt
	})
}

func (s *Store) transition(jobID string, apply func(job *entities.DistributionJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return domainerrors.ErrJobNotFound
	}
	if record.job.Status != entities.JobStatusProcessing {
		return domainerrors.ErrJobNotProcessing
	}
	apply(&record.job)
	s.jobs[record.job.ID] = record
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (entities.DistributionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return entities.DistributionJob{}, domainerrors.ErrJobNotFound
	}
	return record.job, nil
}

func (s *Store) GetJobByDedupeKey(_ context.Context, dedupeKey string) (entities.DistributionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, ok := s.dedupe[strings.TrimSpace(dedupeKey)]
	if !ok {
		return entities.DistributionJob{}, domainerrors.ErrJobNotFound
	}
	return s.jobs[jobID].job, nil
}

func (s *Store) ListJobsBySource(_ context.Context, sourceRef string) ([]entities.DistributionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]jobRecord, 0)
	for _, record := range s.jobs {
		if record.job.SourceRef == strings.TrimSpace(sourceRef) {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].seq < records[j].seq
	})
	jobs := make([]entities.DistributionJob, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, record.job)
	}
	return jobs, nil
}

func (s *Store) ResetStale(_ context.Context, processingBefore time.Time, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for id, record := range s.jobs {
		if record.job.Status != entities.JobStatusProcessing || record.job.ClaimedAt == nil {
			continue
		}
		if !record.job.ClaimedAt.Before(processingBefore) {
			continue
		}
		record.job.Status = entities.JobStatusPending
		record.job.ClaimedAt = nil
		record.job.UpdatedAt = at.UTC()
		s.jobs[id] = record
		reset++
	}
	return reset, nil
}

func (s *Store) Requeue(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return domainerrors.ErrJobNotFound
	}
	if record.job.Status != entities.JobStatusFailed {
		return domainerrors.ErrJobNotFailed
	}
	record.job.Status = entities.JobStatusPending
	record.job.Attempts = 0
	record.job.ClaimedAt = nil
	record.job.ProcessedAt = nil
	record.job.UpdatedAt = at.UTC()
	s.jobs[record.job.ID] = record
	return nil
}

func (s *Store) AppendLedgerEntries(_ context.Context, entries []entities.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, entries...)
	return nil
}

func (s *Store) ListLedgerEntries(_ context.Context, sourceRef string) ([]entities.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.LedgerEntry, 0)
	for _, entry := range s.ledger {
		if entry.SourceRef == strings.TrimSpace(sourceRef) {
			items = append(items, entry)
		}
	}
	return items, nil
}

func (s *Store) GetSplitRule(_ context.Context, owner string) (entities.SplitRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[strings.TrimSpace(owner)]
	if !ok {
		return entities.SplitRule{Owner: strings.TrimSpace(owner)}, nil
	}
	return cloneRule(rule), nil
}

func (s *Store) ResolveAccount(_ context.Context, identifier string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[strings.TrimSpace(identifier)]
	if !ok {
		return "", domainerrors.ErrAccountUnresolved
	}
	return account, nil
}

func (s *Store) GetRecord(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.idempotency[strings.TrimSpace(key)]
	if !ok {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
		delete(s.idempotency, record.Key)
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) PutRecord(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	if existing, ok := s.idempotency[key]; ok {
		if existing.RequestHash != record.RequestHash {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	record.Key = key
	record.ResponsePayload = append([]byte(nil), record.ResponsePayload...)
	s.idempotency[key] = record
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, exists := s.outbox[outboxID]; exists {
		if !bytes.Equal(existing.Payload, payload) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	s.outbox[outboxID] = outboxRecord{
		OutboxID:     outboxID,
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.PublishedAt == nil {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrInvalidJobInput
	}
	timestamp := publishedAt.UTC()
	row.PublishedAt = &timestamp
	s.outbox[row.OutboxID] = row
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func validateJob(job entities.DistributionJob) error {
	if strings.TrimSpace(job.ID) == "" ||
		strings.TrimSpace(job.Identifier) == "" ||
		strings.TrimSpace(job.Asset) == "" ||
		strings.TrimSpace(job.SourceRef) == "" ||
		job.Depth < 0 {
		return domainerrors.ErrInvalidJobInput
	}
	if job.Depth > entities.MaxDepth {
		return domainerrors.ErrDepthExceeded
	}
	return nil
}

func cloneRule(rule entities.SplitRule) entities.SplitRule {
	return entities.SplitRule{
		Owner:      strings.TrimSpace(rule.Owner),
		Recipients: append([]entities.Recipient(nil), rule.Recipients...),
	}
}

var _ ports.JobQueue = (*Store)(nil)
var _ ports.LedgerRepository = (*Store)(nil)
var _ ports.SplitRuleReader = (*Store)(nil)
var _ ports.IdentifierDirectory = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
