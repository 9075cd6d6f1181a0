package postgresadapter

import (
	"strings"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"

	"gorm.io/gorm"
)

type distributionJobModel struct {
	ID          string     `gorm:"column:id;primaryKey"`
	Identifier  string     `gorm:"column:identifier;not null"`
	Asset       string     `gorm:"column:asset;not null"`
	Depth       int        `gorm:"column:depth;not null"`
	SourceRef   string     `gorm:"column:source_ref;not null;index"`
	ParentJobID string     `gorm:"column:parent_job_id"`
	DedupeKey   *string    `gorm:"column:dedupe_key;uniqueIndex"`
	Status      string     `gorm:"column:status;not null;index:idx_distribution_queue_claim,priority:1"`
	Attempts    int        `gorm:"column:attempts;not null;default:0"`
	LastError   string     `gorm:"column:last_error"`
	Note        string     `gorm:"column:note"`
	ExternalRef string     `gorm:"column:external_ref"`
	PendingPool *int64     `gorm:"column:pending_pool"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index:idx_distribution_queue_claim,priority:2"`
	ClaimedAt   *time.Time `gorm:"column:claimed_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (distributionJobModel) TableName() string {
	return "distribution_queue"
}

func distributionJobModelFromEntity(job entities.DistributionJob) distributionJobModel {
	status := string(job.Status)
	if status == "" {
		status = string(entities.JobStatusPending)
	}
	row := distributionJobModel{
		ID:          strings.TrimSpace(job.ID),
		Identifier:  strings.TrimSpace(job.Identifier),
		Asset:       strings.TrimSpace(job.Asset),
		Depth:       job.Depth,
		SourceRef:   strings.TrimSpace(job.SourceRef),
		ParentJobID: strings.TrimSpace(job.ParentJobID),
		Status:      status,
		Attempts:    job.Attempts,
		LastError:   entities.TruncateError(job.LastError),
		Note:        strings.TrimSpace(job.Note),
		ExternalRef: strings.TrimSpace(job.ExternalRef),
		PendingPool: job.PendingPool,
		CreatedAt:   job.CreatedAt.UTC(),
		ClaimedAt:   normalizeOptionalTime(job.ClaimedAt),
		ProcessedAt: normalizeOptionalTime(job.ProcessedAt),
		UpdatedAt:   job.UpdatedAt.UTC(),
	}
	if key := strings.TrimSpace(job.DedupeKey); key != "" {
		row.DedupeKey = &key
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m distributionJobModel) toEntity() entities.DistributionJob {
	job := entities.DistributionJob{
		ID:          m.ID,
		Identifier:  m.Identifier,
		Asset:       m.Asset,
		Depth:       m.Depth,
		SourceRef:   m.SourceRef,
		ParentJobID: m.ParentJobID,
		Status:      entities.JobStatus(m.Status),
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		Note:        m.Note,
		ExternalRef: m.ExternalRef,
		PendingPool: m.PendingPool,
		CreatedAt:   m.CreatedAt.UTC(),
		ClaimedAt:   normalizeOptionalTime(m.ClaimedAt),
		ProcessedAt: normalizeOptionalTime(m.ProcessedAt),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
	if m.DedupeKey != nil {
		job.DedupeKey = *m.DedupeKey
	}
	return job
}

type ledgerEntryModel struct {
	ID             string    `gorm:"column:id;primaryKey"`
	EntryType      string    `gorm:"column:entry_type;not null"`
	FromIdentifier string    `gorm:"column:from_identifier"`
	ToIdentifier   string    `gorm:"column:to_identifier"`
	FromAccount    string    `gorm:"column:from_account"`
	ToAccount      string    `gorm:"column:to_account"`
	Amount         int64     `gorm:"column:amount;not null"`
	Asset          string    `gorm:"column:asset;not null"`
	Status         string    `gorm:"column:status"`
	TxRef          string    `gorm:"column:tx_ref"`
	SourceRef      string    `gorm:"column:source_ref;index"`
	JobID          string    `gorm:"column:job_id;index"`
	Depth          int       `gorm:"column:depth"`
	ShareBps       int       `gorm:"column:share_bps"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (ledgerEntryModel) TableName() string {
	return "distribution_ledger"
}

func ledgerEntryModelFromEntity(entry entities.LedgerEntry) ledgerEntryModel {
	return ledgerEntryModel{
		ID:             strings.TrimSpace(entry.ID),
		EntryType:      string(entry.EntryType),
		FromIdentifier: strings.TrimSpace(entry.FromIdentifier),
		ToIdentifier:   strings.TrimSpace(entry.ToIdentifier),
		FromAccount:    strings.TrimSpace(entry.FromAccount),
		ToAccount:      strings.TrimSpace(entry.ToAccount),
		Amount:         entry.Amount,
		Asset:          strings.TrimSpace(entry.Asset),
		Status:         strings.TrimSpace(entry.Status),
		TxRef:          strings.TrimSpace(entry.TxRef),
		SourceRef:      strings.TrimSpace(entry.SourceRef),
		JobID:          strings.TrimSpace(entry.JobID),
		Depth:          entry.Depth,
		ShareBps:       entry.ShareBps,
		CreatedAt:      entry.CreatedAt.UTC(),
	}
}

func (m ledgerEntryModel) toEntity() entities.LedgerEntry {
	return entities.LedgerEntry{
		ID:             m.ID,
		EntryType:      entities.LedgerEntryType(m.EntryType),
		FromIdentifier: m.FromIdentifier,
		ToIdentifier:   m.ToIdentifier,
		FromAccount:    m.FromAccount,
		ToAccount:      m.ToAccount,
		Amount:         m.Amount,
		Asset:          m.Asset,
		Status:         m.Status,
		TxRef:          m.TxRef,
		SourceRef:      m.SourceRef,
		JobID:          m.JobID,
		Depth:          m.Depth,
		ShareBps:       m.ShareBps,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

// splitRuleModel mirrors the upstream rule set, one row per recipient.
type splitRuleModel struct {
	Owner     string    `gorm:"column:owner;primaryKey"`
	Position  int       `gorm:"column:position;primaryKey;autoIncrement:false"`
	Recipient string    `gorm:"column:recipient;not null"`
	ShareBps  int       `gorm:"column:share_bps;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (splitRuleModel) TableName() string {
	return "split_rules"
}

type identifierAccountModel struct {
	Identifier string    `gorm:"column:identifier;primaryKey"`
	Account    string    `gorm:"column:account;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (identifierAccountModel) TableName() string {
	return "identifier_accounts"
}

type idempotencyModel struct {
	Key             string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash     string    `gorm:"column:request_hash;not null"`
	ResponsePayload []byte    `gorm:"column:response_payload"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "distribution_idempotency"
}

type distributionOutboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (distributionOutboxModel) TableName() string {
	return "distribution_outbox"
}

// AutoMigrate creates or updates every table the repository touches.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&distributionJobModel{},
		&ledgerEntryModel{},
		&splitRuleModel{},
		&identifierAccountModel{},
		&idempotencyModel{},
		&distributionOutboxModel{},
	)
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := value.UTC()
	return &t
}
