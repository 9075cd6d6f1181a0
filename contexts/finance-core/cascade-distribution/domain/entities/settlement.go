package entities

type SettlementOutcome string

const (
	SettlementSubmitError      SettlementOutcome = "submit_error"
	SettlementFinalizedSuccess SettlementOutcome = "finalized_success"
	SettlementFinalizedNoop    SettlementOutcome = "finalized_noop"
	SettlementFinalizedFailure SettlementOutcome = "finalized_failure"
	SettlementFinalityTimeout  SettlementOutcome = "finality_timeout"
)

type SettlementResult struct {
	Outcome SettlementOutcome
	TxHash  string
	Note    string
}

// PendingSettlement is a submitted transaction whose outcome is unknown and
// the pool observed just before it was submitted. The zero value means
// nothing is pending.
type PendingSettlement struct {
	TxHash    string
	Pool      int64
	PoolKnown bool
}

// PoolRef is the pool as stored on a job row, nil when nothing was observed.
func (p PendingSettlement) PoolRef() *int64 {
	if p.TxHash == "" || !p.PoolKnown {
		return nil
	}
	pool := p.Pool
	return &pool
}

type TxState string

const (
	TxStatePending  TxState = "PENDING"
	TxStateNotFound TxState = "NOT_FOUND"
	TxStateSuccess  TxState = "SUCCESS"
	TxStateFailed   TxState = "FAILED"
)

// TxStatus is the gateway's view of one submitted transaction. ContractCode is
// set when a FAILED transaction was rejected by the contract itself.
type TxStatus struct {
	Hash         string
	State        TxState
	ContractCode int
	ResultError  string
}

func (s TxStatus) Terminal() bool {
	return s.State == TxStateSuccess || s.State == TxStateFailed
}

type Balances struct {
	Identifier     string
	Asset          string
	Pool           int64
	Unclaimed      int64
	TotalReceived  int64
	TotalForwarded int64
}
