package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProcessBatchResponse is the trigger response. Individual job failures are
// reported in Failed, never through the status code.
type ProcessBatchResponse struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Enqueued  int `json:"enqueued"`
	Skipped   int `json:"skipped"`
}

// EnqueuePaymentRequest accepts the amount either in smallest units or as a
// decimal string; Amount wins when both are set.
type EnqueuePaymentRequest struct {
	SourceRef     string `json:"source_ref"`
	Identifier    string `json:"identifier"`
	Asset         string `json:"asset"`
	Payer         string `json:"payer,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	AmountDisplay string `json:"amount_display,omitempty"`
}

type JobDTO struct {
	JobID       string `json:"job_id"`
	Identifier  string `json:"identifier"`
	Asset       string `json:"asset"`
	Depth       int    `json:"depth"`
	SourceRef   string `json:"source_ref"`
	ParentJobID string `json:"parent_job_id,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	Note        string `json:"note,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
	CreatedAt   string `json:"created_at"`
	ClaimedAt   string `json:"claimed_at,omitempty"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

type JobResponse struct {
	Status   string `json:"status"`
	Replayed bool   `json:"replayed,omitempty"`
	Data     JobDTO `json:"data"`
}

type ResetStaleRequest struct {
	OlderThan string `json:"older_than"`
}

type ResetStaleResponse struct {
	Status string `json:"status"`
	Reset  int    `json:"reset"`
}

type LedgerEntryDTO struct {
	EntryID        string `json:"entry_id"`
	EntryType      string `json:"entry_type"`
	FromIdentifier string `json:"from_identifier,omitempty"`
	ToIdentifier   string `json:"to_identifier"`
	FromAccount    string `json:"from_account,omitempty"`
	ToAccount      string `json:"to_account,omitempty"`
	Amount         int64  `json:"amount"`
	AmountDisplay  string `json:"amount_display"`
	Asset          string `json:"asset"`
	TxRef          string `json:"tx_ref,omitempty"`
	JobID          string `json:"job_id,omitempty"`
	Depth          int    `json:"depth"`
	ShareBps       int    `json:"share_bps,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type CascadeResponse struct {
	Status string `json:"status"`
	Data   struct {
		SourceRef               string           `json:"source_ref"`
		Jobs                    []JobDTO         `json:"jobs"`
		Entries                 []LedgerEntryDTO `json:"entries"`
		TotalDistributed        int64            `json:"total_distributed"`
		TotalDistributedDisplay string           `json:"total_distributed_display"`
	} `json:"data"`
}

type BalancesResponse struct {
	Status string `json:"status"`
	Data   struct {
		Identifier     string `json:"identifier"`
		Asset          string `json:"asset"`
		Pool           string `json:"pool"`
		Unclaimed      string `json:"unclaimed"`
		TotalReceived  string `json:"total_received"`
		TotalForwarded string `json:"total_forwarded"`
	} `json:"data"`
}
