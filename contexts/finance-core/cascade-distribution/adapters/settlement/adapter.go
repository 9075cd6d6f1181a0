package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	FinalityTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		PollInterval:    2 * time.Second,
		MaxPollInterval: 10 * time.Second,
		FinalityTimeout: 60 * time.Second,
	}
}

var errNotFinal = errors.New("transaction not final")

// Adapter submits distributions through the gateway with the distributor
// credential. Submit and finality polling run under one mutex, so at most one
// transaction from the credential is in flight.
type Adapter struct {
	gateway    ports.SettlementGateway
	credential Credential
	policy     Policy
	logger     *slog.Logger

	mu             sync.Mutex
	sequence       int64
	sequenceLoaded bool
}

func NewAdapter(gateway ports.SettlementGateway, credential Credential, policy Policy, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultPolicy()
	if policy.PollInterval <= 0 {
		policy.PollInterval = defaults.PollInterval
	}
	if policy.MaxPollInterval < policy.PollInterval {
		policy.MaxPollInterval = policy.PollInterval
	}
	if policy.FinalityTimeout <= 0 {
		policy.FinalityTimeout = defaults.FinalityTimeout
	}
	return &Adapter{
		gateway:    gateway,
		credential: credential,
		policy:     policy,
		logger:     logger,
	}
}

func (a *Adapter) PoolBalance(ctx context.Context, identifier string, asset string) (int64, error) {
	return a.gateway.Pool(ctx, identifier, asset)
}

func (a *Adapter) Balances(ctx context.Context, identifier string, asset string) (entities.Balances, error) {
	balances := entities.Balances{Identifier: identifier, Asset: asset}
	var err error
	if balances.Pool, err = a.gateway.Pool(ctx, identifier, asset); err != nil {
		return entities.Balances{}, err
	}
	if balances.Unclaimed, err = a.gateway.Unclaimed(ctx, identifier, asset); err != nil {
		return entities.Balances{}, err
	}
	if balances.TotalReceived, err = a.gateway.TotalReceived(ctx, identifier, asset); err != nil {
		return entities.Balances{}, err
	}
	if balances.TotalForwarded, err = a.gateway.TotalForwarded(ctx, identifier, asset); err != nil {
		return entities.Balances{}, err
	}
	return balances, nil
}

func (a *Adapter) Distribute(ctx context.Context, req ports.DistributeRequest) (entities.SettlementResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pendingHash := strings.TrimSpace(req.PendingTxHash); pendingHash != "" {
		if result, resolved, err := a.resume(ctx, req, pendingHash); resolved {
			return result, err
		}
	}

	txHash, err := a.submit(ctx, req)
	if err != nil {
		if domainerrors.IsBenignNoop(err) {
			return entities.SettlementResult{
				Outcome: entities.SettlementFinalizedNoop,
				Note:    noteFor(err),
			}, nil
		}
		a.logWarn("settlement_submit_failed",
			"identifier", req.Identifier,
			"asset", req.Asset,
			"error", err.Error(),
		)
		return entities.SettlementResult{Outcome: entities.SettlementSubmitError},
			fmt.Errorf("%w: %w", domainerrors.ErrSubmitFailed, err)
	}

	status, err := a.awaitFinality(ctx, txHash)
	if err != nil {
		a.logWarn("settlement_finality_timeout",
			"identifier", req.Identifier,
			"tx_hash", txHash,
			"timeout", a.policy.FinalityTimeout.String(),
			"error", err.Error(),
		)
		return entities.SettlementResult{Outcome: entities.SettlementFinalityTimeout, TxHash: txHash}, err
	}
	return a.classify(txHash, status)
}

// resume settles a submission left unconfirmed by an earlier attempt. It
// reports resolved=false when the submission failed or was never seen, in
// which case the caller submits afresh.
func (a *Adapter) resume(ctx context.Context, req ports.DistributeRequest, txHash string) (entities.SettlementResult, bool, error) {
	status, err := a.gateway.GetTransaction(ctx, txHash)
	if err == nil && status.State == entities.TxStatePending {
		status, err = a.awaitFinality(ctx, txHash)
	} else if err != nil {
		err = fmt.Errorf("%w: recheck tx %s: %w", domainerrors.ErrFinalityTimeout, txHash, err)
	}
	if err != nil {
		a.logWarn("settlement_pending_unresolved",
			"identifier", req.Identifier,
			"tx_hash", txHash,
			"error", err.Error(),
		)
		return entities.SettlementResult{Outcome: entities.SettlementFinalityTimeout, TxHash: txHash}, true, err
	}
	if status.State != entities.TxStateSuccess {
		a.logWarn("settlement_pending_not_applied",
			"identifier", req.Identifier,
			"tx_hash", txHash,
			"state", string(status.State),
			"result_error", status.ResultError,
		)
		return entities.SettlementResult{}, false, nil
	}
	result, err := a.classify(txHash, status)
	return result, true, err
}

func (a *Adapter) classify(txHash string, status entities.TxStatus) (entities.SettlementResult, error) {
	if status.State == entities.TxStateSuccess {
		return entities.SettlementResult{Outcome: entities.SettlementFinalizedSuccess, TxHash: txHash}, nil
	}

	cause := error(domainerrors.ErrTransactionFailed)
	if status.ContractCode > 0 {
		cause = domainerrors.ContractErrorFromCode(status.ContractCode)
	}
	if domainerrors.IsBenignNoop(cause) {
		return entities.SettlementResult{
			Outcome: entities.SettlementFinalizedNoop,
			TxHash:  txHash,
			Note:    noteFor(cause),
		}, nil
	}
	if errors.Is(cause, domainerrors.ErrTransactionFailed) {
		return entities.SettlementResult{Outcome: entities.SettlementFinalizedFailure, TxHash: txHash},
			fmt.Errorf("%w: tx %s: %s", cause, txHash, status.ResultError)
	}
	return entities.SettlementResult{Outcome: entities.SettlementFinalizedFailure, TxHash: txHash},
		fmt.Errorf("%w: tx %s: %w", domainerrors.ErrTransactionFailed, txHash, cause)
}

func (a *Adapter) submit(ctx context.Context, req ports.DistributeRequest) (string, error) {
	if !a.sequenceLoaded {
		sequence, err := a.gateway.AccountSequence(ctx, a.credential.Account())
		if err != nil {
			return "", fmt.Errorf("load account sequence: %w", err)
		}
		a.sequence = sequence
		a.sequenceLoaded = true
	}

	submission := ports.DistributeSubmission{
		Source:          a.credential.Account(),
		Sequence:        a.sequence + 1,
		Identifier:      req.Identifier,
		Asset:           req.Asset,
		MinDistribution: req.MinDistribution,
	}
	submission.Signature = a.credential.Sign(submission)

	txHash, err := a.gateway.SubmitDistribute(ctx, submission)
	if err != nil {
		if errors.Is(err, domainerrors.ErrBadSequence) {
			a.sequenceLoaded = false
		}
		return "", err
	}
	a.sequence = submission.Sequence
	return txHash, nil
}

func (a *Adapter) awaitFinality(ctx context.Context, txHash string) (entities.TxStatus, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.policy.PollInterval
	policy.MaxInterval = a.policy.MaxPollInterval
	policy.MaxElapsedTime = a.policy.FinalityTimeout
	policy.Reset()

	polls := 0
	status, err := backoff.RetryWithData(func() (entities.TxStatus, error) {
		polls++
		status, err := a.gateway.GetTransaction(ctx, txHash)
		if err != nil {
			return status, err
		}
		if !status.Terminal() {
			return status, errNotFinal
		}
		return status, nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return status, fmt.Errorf("%w: tx %s after %d polls: %w", domainerrors.ErrFinalityTimeout, txHash, polls, err)
	}
	return status, nil
}

func (a *Adapter) logWarn(event string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"module", "finance-core/cascade-distribution",
		"layer", "adapter",
	)
	fields = append(fields, attrs...)
	a.logger.Warn("settlement adapter warning", fields...)
}

func noteFor(err error) string {
	var contractErr *domainerrors.ContractError
	if errors.As(err, &contractErr) {
		return contractErr.Message
	}
	return err.Error()
}

var _ ports.Settlement = (*Adapter)(nil)
var _ ports.BalanceReader = (*Adapter)(nil)
