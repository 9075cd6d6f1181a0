package entities

import "time"

const (
	// MaxDepth bounds how many hops a cascade may take beyond its root payment.
	MaxDepth = 10
	// DefaultMaxAttempts is the total number of settlement attempts per job.
	DefaultMaxAttempts = 3
	// LastErrorLimit is the number of runes of an error kept on a job.
	LastErrorLimit = 500
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type DistributionJob struct {
	ID          string
	Identifier  string
	Asset       string
	Depth       int
	SourceRef   string
	ParentJobID string
	DedupeKey   string
	Status      JobStatus
	Attempts    int
	LastError   string
	Note        string
	ExternalRef string
	// While a job is not terminal, ExternalRef holds a submission whose
	// finality was never observed and PendingPool the pool read before it.
	PendingPool *int64
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	ProcessedAt *time.Time
	UpdatedAt   time.Time
}

// PendingSettlement returns the unconfirmed submission carried by a job
// returned to pending after a finality timeout.
func (j DistributionJob) PendingSettlement() (PendingSettlement, bool) {
	if j.Status.Terminal() || j.ExternalRef == "" {
		return PendingSettlement{}, false
	}
	pending := PendingSettlement{TxHash: j.ExternalRef}
	if j.PendingPool != nil {
		pending.Pool = *j.PendingPool
		pending.PoolKnown = true
	}
	return pending, true
}

func (j DistributionJob) IsRoot() bool {
	return j.Depth == 0 && j.ParentJobID == ""
}

func RootDedupeKey(sourceRef string, identifier string, asset string) string {
	return "root:" + sourceRef + ":" + identifier + ":" + asset
}

func HopDedupeKey(parentJobID string, recipient string) string {
	return "hop:" + parentJobID + ":" + recipient
}

// TruncateError keeps at most LastErrorLimit runes of message.
func TruncateError(message string) string {
	runes := []rune(message)
	if len(runes) <= LastErrorLimit {
		return message
	}
	return string(runes[:LastErrorLimit])
}
