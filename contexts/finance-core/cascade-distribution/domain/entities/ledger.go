package entities

import "time"

type LedgerEntryType string

const (
	LedgerEntryPayment      LedgerEntryType = "payment"
	LedgerEntryDistribution LedgerEntryType = "distribution"
)

const LedgerStatusCompleted = "completed"

// LedgerEntry is an audit record of one transfer. Amount is in the asset's
// smallest unit and must match the settlement side's fixed-point result.
type LedgerEntry struct {
	ID             string
	EntryType      LedgerEntryType
	FromIdentifier string
	ToIdentifier   string
	FromAccount    string
	ToAccount      string
	Amount         int64
	Asset          string
	Status         string
	TxRef          string
	SourceRef      string
	JobID          string
	Depth          int
	ShareBps       int
	CreatedAt      time.Time
}
