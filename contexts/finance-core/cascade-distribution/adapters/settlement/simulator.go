package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/domain/services"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

type SimulatorOptions struct {
	// FeeBps is withheld from every received payment before it reaches the pool.
	FeeBps int
	// PendingPolls is how many GetTransaction calls report PENDING before the
	// terminal status becomes visible.
	PendingPolls int
}

type balanceKey struct {
	identifier string
	asset      string
}

type simulatedTx struct {
	status entities.TxStatus
	polls  int
}

// Payment is one received payment as credited, after the platform fee.
type Payment struct {
	Payer      string
	Identifier string
	Asset      string
	Amount     int64
	Fee        int64
}

type Withdrawal struct {
	Identifier  string
	Asset       string
	Destination string
	Amount      int64
}

type injectedTxFailure struct {
	contractCode int
	resultError  string
}

// Simulator is an in-process settlement contract with the same all-or-nothing
// distribute semantics as the real mechanism. It backs local runs and tests.
type Simulator struct {
	mu      sync.Mutex
	options SimulatorOptions

	registered map[string]bool
	rules      map[string][]entities.Recipient
	pools      map[balanceKey]int64
	unclaimed  map[balanceKey]int64
	received   map[balanceKey]int64
	forwarded  map[balanceKey]int64
	fees       map[string]int64
	sequences  map[string]int64
	txs        map[string]*simulatedTx

	payments       []Payment
	withdrawals    []Withdrawal
	submitFailures []error
	txFailures     []injectedTxFailure
	poolFailures   []error
	stalled        bool
	submissions    int
}

func NewSimulator(options SimulatorOptions) *Simulator {
	return &Simulator{
		options:    options,
		registered: make(map[string]bool),
		rules:      make(map[string][]entities.Recipient),
		pools:      make(map[balanceKey]int64),
		unclaimed:  make(map[balanceKey]int64),
		received:   make(map[balanceKey]int64),
		forwarded:  make(map[balanceKey]int64),
		fees:       make(map[string]int64),
		sequences:  make(map[string]int64),
		txs:        make(map[string]*simulatedTx),
	}
}

func (s *Simulator) Register(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domainerrors.ErrUserNotFound
	}
	if s.registered[identifier] {
		return domainerrors.ErrAlreadyRegistered
	}
	s.registered[identifier] = true
	return nil
}

// SetRules replaces the owner's recipients. An empty list clears them.
func (s *Simulator) SetRules(_ context.Context, owner string, recipients []entities.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner = strings.TrimSpace(owner)
	if !s.registered[owner] {
		return domainerrors.ErrUserNotFound
	}
	if len(recipients) > entities.MaxRecipients {
		return domainerrors.ErrTooManyRules
	}
	total := 0
	for _, recipient := range recipients {
		if recipient.ShareBps <= 0 || recipient.ShareBps > entities.BasisPointsDenominator {
			return domainerrors.ErrInvalidPercentage
		}
		if recipient.Identifier == owner {
			return domainerrors.ErrSelfReference
		}
		if !s.registered[recipient.Identifier] {
			return domainerrors.ErrRecipientNotRegistered
		}
		total += recipient.ShareBps
	}
	if total > entities.RulesCapBps {
		return domainerrors.ErrRulesTotalExceedsCap
	}
	if len(recipients) == 0 {
		delete(s.rules, owner)
		return nil
	}
	s.rules[owner] = append([]entities.Recipient(nil), recipients...)
	return nil
}

func (s *Simulator) ReceivePayment(_ context.Context, payer string, identifier string, asset string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount <= 0 {
		return domainerrors.ErrInvalidAmount
	}
	if !s.registered[identifier] {
		return domainerrors.ErrUserNotFound
	}
	fee := services.ShareOf(amount, s.options.FeeBps)
	net := amount - fee
	key := balanceKey{identifier: identifier, asset: asset}
	s.pools[key] += net
	s.received[key] += net
	s.fees[asset] += fee
	s.payments = append(s.payments, Payment{
		Payer:      strings.TrimSpace(payer),
		Identifier: identifier,
		Asset:      asset,
		Amount:     net,
		Fee:        fee,
	})
	return nil
}

// SeedPool credits a pool directly, bypassing fees and counters.
func (s *Simulator) SeedPool(identifier string, asset string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[balanceKey{identifier: identifier, asset: asset}] += amount
}

func (s *Simulator) Claim(_ context.Context, identifier string, asset string, destination string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered[identifier] {
		return 0, domainerrors.ErrUserNotFound
	}
	key := balanceKey{identifier: identifier, asset: asset}
	amount := s.unclaimed[key]
	if amount <= 0 {
		return 0, domainerrors.ErrNothingToClaim
	}
	s.unclaimed[key] = 0
	s.withdrawals = append(s.withdrawals, Withdrawal{
		Identifier:  identifier,
		Asset:       asset,
		Destination: destination,
		Amount:      amount,
	})
	return amount, nil
}

func (s *Simulator) AccountSequence(_ context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequences[account], nil
}

// SubmitDistribute preflights and applies the distribution. Contract errors
// surface here, before a sequence number is consumed.
func (s *Simulator) SubmitDistribute(_ context.Context, submission ports.DistributeSubmission) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submissions++
	if len(s.submitFailures) > 0 {
		err := s.submitFailures[0]
		s.submitFailures = s.submitFailures[1:]
		return "", err
	}
	if !VerifySubmission(submission) {
		return "", domainerrors.ErrInvalidSignature
	}
	if submission.Sequence != s.sequences[submission.Source]+1 {
		return "", fmt.Errorf("%w: expected %d got %d",
			domainerrors.ErrBadSequence, s.sequences[submission.Source]+1, submission.Sequence)
	}

	hash := transactionHash(submission)
	tx := &simulatedTx{status: entities.TxStatus{Hash: hash}}
	if len(s.txFailures) > 0 {
		failure := s.txFailures[0]
		s.txFailures = s.txFailures[1:]
		tx.status.State = entities.TxStateFailed
		tx.status.ContractCode = failure.contractCode
		tx.status.ResultError = failure.resultError
	} else {
		if err := s.distributeLocked(submission.Identifier, submission.Asset, submission.MinDistribution); err != nil {
			return "", err
		}
		tx.status.State = entities.TxStateSuccess
	}
	s.sequences[submission.Source] = submission.Sequence
	s.txs[hash] = tx
	return hash, nil
}

func (s *Simulator) distributeLocked(identifier string, asset string, minimum int64) error {
	if !s.registered[identifier] {
		return domainerrors.ErrUserNotFound
	}
	recipients := s.rules[identifier]
	if len(recipients) == 0 {
		return domainerrors.ErrRulesNotSet
	}
	key := balanceKey{identifier: identifier, asset: asset}
	pool := s.pools[key]
	if pool <= 0 {
		return domainerrors.ErrNothingToDistribute
	}

	shares := services.ComputeShares(pool, recipients, minimum)
	for _, share := range shares {
		recipientKey := balanceKey{identifier: share.Recipient, asset: asset}
		if len(s.rules[share.Recipient]) > 0 {
			s.pools[recipientKey] += share.Amount
		} else {
			s.unclaimed[recipientKey] += share.Amount
		}
	}
	distributed := services.TotalOf(shares)
	s.unclaimed[key] += pool - distributed
	s.forwarded[key] += distributed
	s.pools[key] = 0
	return nil
}

func (s *Simulator) GetTransaction(_ context.Context, txHash string) (entities.TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txHash]
	if !ok {
		return entities.TxStatus{Hash: txHash, State: entities.TxStateNotFound}, nil
	}
	if s.stalled || tx.polls < s.options.PendingPolls {
		tx.polls++
		return entities.TxStatus{Hash: txHash, State: entities.TxStatePending}, nil
	}
	return tx.status, nil
}

func (s *Simulator) Pool(_ context.Context, identifier string, asset string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.poolFailures) > 0 {
		err := s.poolFailures[0]
		s.poolFailures = s.poolFailures[1:]
		return 0, err
	}
	return s.pools[balanceKey{identifier: identifier, asset: asset}], nil
}

func (s *Simulator) Unclaimed(_ context.Context, identifier string, asset string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unclaimed[balanceKey{identifier: identifier, asset: asset}], nil
}

func (s *Simulator) TotalReceived(_ context.Context, identifier string, asset string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[balanceKey{identifier: identifier, asset: asset}], nil
}

func (s *Simulator) TotalForwarded(_ context.Context, identifier string, asset string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwarded[balanceKey{identifier: identifier, asset: asset}], nil
}

func (s *Simulator) GetSplitRule(_ context.Context, owner string) (entities.SplitRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entities.SplitRule{
		Owner:      owner,
		Recipients: append([]entities.Recipient(nil), s.rules[owner]...),
	}, nil
}

func (s *Simulator) PlatformFees(asset string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fees[asset]
}

func (s *Simulator) Payments() []Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payment(nil), s.payments...)
}

func (s *Simulator) Withdrawals() []Withdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Withdrawal(nil), s.withdrawals...)
}

func (s *Simulator) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions
}

// FailNextSubmits makes the next len(errs) submissions return errs in order.
func (s *Simulator) FailNextSubmits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitFailures = append(s.submitFailures, errs...)
}

// FailNextTransactions accepts the next n submissions but finalizes them as
// FAILED with contractCode, leaving balances untouched.
func (s *Simulator) FailNextTransactions(n int, contractCode int, resultError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.txFailures = append(s.txFailures, injectedTxFailure{contractCode: contractCode, resultError: resultError})
	}
}

func (s *Simulator) FailNextPoolReads(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poolFailures = append(s.poolFailures, errs...)
}

// Stall keeps every transaction PENDING until Stall(false).
func (s *Simulator) Stall(stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalled = stalled
}

func transactionHash(submission ports.DistributeSubmission) string {
	sum := sha256.Sum256(SigningPayload(submission))
	return hex.EncodeToString(sum[:])
}

var _ ports.SettlementGateway = (*Simulator)(nil)
var _ ports.SplitRuleReader = (*Simulator)(nil)
