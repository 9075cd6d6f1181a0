package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAsset = "USDC"

func fastPolicy() Policy {
	return Policy{
		PollInterval:    time.Millisecond,
		MaxPollInterval: 2 * time.Millisecond,
		FinalityTimeout: 50 * time.Millisecond,
	}
}

func newTestCredential(t *testing.T) Credential {
	t.Helper()
	credential, err := GenerateCredential()
	require.NoError(t, err)
	return credential
}

func seededSimulator(t *testing.T, options SimulatorOptions) *Simulator {
	t.Helper()
	ctx := context.Background()
	simulator := NewSimulator(options)
	for _, identifier := range []string{"alice", "bob", "carol"} {
		require.NoError(t, simulator.Register(ctx, identifier))
	}
	require.NoError(t, simulator.SetRules(ctx, "alice", []entities.Recipient{
		{Identifier: "bob", ShareBps: 1000},
		{Identifier: "carol", ShareBps: 500},
	}))
	return simulator
}

func TestAdapterDistributeFinalizesSuccess(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{PendingPolls: 2})
	simulator.SeedPool("alice", testAsset, 1_000_000_000)
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)

	pool, err := adapter.PoolBalance(ctx, "alice", testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), pool)

	result, err := adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "alice", Asset: testAsset})
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedSuccess, result.Outcome)
	assert.NotEmpty(t, result.TxHash)

	bob, err := adapter.Balances(ctx, "bob", testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), bob.Unclaimed)

	alice, err := adapter.Balances(ctx, "alice", testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(0), alice.Pool)
	assert.Equal(t, int64(850_000_000), alice.Unclaimed)
	assert.Equal(t, int64(150_000_000), alice.TotalForwarded)
}

func TestAdapterClassifiesBenignContractErrorsAsNoop(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)

	result, err := adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "alice", Asset: testAsset})
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedNoop, result.Outcome)
	assert.Equal(t, "nothing to distribute", result.Note)

	simulator.SeedPool("bob", testAsset, 10)
	result, err = adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "bob", Asset: testAsset})
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedNoop, result.Outcome)
	assert.Equal(t, "rules not set", result.Note)
}

func TestAdapterTreatsBenignCodeAfterFinalityAsNoop(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	simulator.SeedPool("alice", testAsset, 500)
	simulator.FailNextTransactions(1, domainerrors.ErrNothingToDistribute.Code, "Error(Contract, #8)")
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)

	result, err := adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "alice", Asset: testAsset})
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedNoop, result.Outcome)
	assert.NotEmpty(t, result.TxHash)
}

func TestAdapterReportsFinalizedFailure(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	simulator.SeedPool("alice", testAsset, 500)
	simulator.FailNextTransactions(1, domainerrors.ErrUserNotFound.Code, "Error(Contract, #2)")
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)

	result, err := adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "alice", Asset: testAsset})
	require.Error(t, err)
	assert.Equal(t, entities.SettlementFinalizedFailure, result.Outcome)
	assert.ErrorIs(t, err, domainerrors.ErrTransactionFailed)
	assert.ErrorIs(t, err, domainerrors.ErrUserNotFound)

	pool, err := simulator.Pool(ctx, "alice", testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(500), pool, "failed transaction must not move funds")
}

func TestAdapterFinalityTimeout(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	simulator.SeedPool("alice", testAsset, 500)
	simulator.Stall(true)
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)

	startedAt := time.Now()
	result, err := adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "alice", Asset: testAsset})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrFinalityTimeout)
	assert.Equal(t, entities.SettlementFinalityTimeout, result.Outcome)
	assert.NotEmpty(t, result.TxHash)
	assert.Less(t, time.Since(startedAt), 5*time.Second)
}

func TestAdapterSettlesPendingSubmissionWithoutResubmitting(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	simulator.SeedPool("alice", testAsset, 500)
	simulator.Stall(true)
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)
	request := ports.DistributeRequest{Identifier: "alice", Asset: testAsset}

	timedOut, err := adapter.Distribute(ctx, request)
	require.ErrorIs(t, err, domainerrors.ErrFinalityTimeout)
	require.NotEmpty(t, timedOut.TxHash)

	request.PendingTxHash = timedOut.TxHash
	again, err := adapter.Distribute(ctx, request)
	require.ErrorIs(t, err, domainerrors.ErrFinalityTimeout)
	assert.Equal(t, entities.SettlementFinalityTimeout, again.Outcome)
	assert.Equal(t, timedOut.TxHash, again.TxHash)

	simulator.Stall(false)
	result, err := adapter.Distribute(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedSuccess, result.Outcome)
	assert.Equal(t, timedOut.TxHash, result.TxHash)
	assert.Equal(t, 1, simulator.Submissions())
}

func TestAdapterResubmitsWhenPendingSubmissionIsUnknown(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	simulator.SeedPool("alice", testAsset, 500)
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)

	result, err := adapter.Distribute(ctx, ports.DistributeRequest{
		Identifier:    "alice",
		Asset:         testAsset,
		PendingTxHash: "dropped-tx",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedSuccess, result.Outcome)
	assert.NotEqual(t, "dropped-tx", result.TxHash)
	assert.Equal(t, 1, simulator.Submissions())
}

func TestAdapterResubmitsWhenPendingSubmissionFailed(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	simulator.SeedPool("alice", testAsset, 500)
	simulator.FailNextTransactions(1, 0, "tx_bad_auth")
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)
	request := ports.DistributeRequest{Identifier: "alice", Asset: testAsset}

	failed, err := adapter.Distribute(ctx, request)
	require.ErrorIs(t, err, domainerrors.ErrTransactionFailed)

	request.PendingTxHash = failed.TxHash
	result, err := adapter.Distribute(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedSuccess, result.Outcome)
	assert.NotEqual(t, failed.TxHash, result.TxHash)
	assert.Equal(t, 2, simulator.Submissions())
}

// gatedGateway holds every poll until release is closed and tracks how many
// submissions are between submit and a terminal poll at once.
type gatedGateway struct {
	*Simulator
	release chan struct{}
	polling chan string

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	sequences   []int64
}

func (g *gatedGateway) SubmitDistribute(ctx context.Context, submission ports.DistributeSubmission) (string, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.sequences = append(g.sequences, submission.Sequence)
	g.mu.Unlock()

	hash, err := g.Simulator.SubmitDistribute(ctx, submission)
	if err != nil {
		g.settled()
	}
	return hash, err
}

func (g *gatedGateway) GetTransaction(ctx context.Context, txHash string) (entities.TxStatus, error) {
	select {
	case g.polling <- txHash:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return entities.TxStatus{}, ctx.Err()
	}
	status, err := g.Simulator.GetTransaction(ctx, txHash)
	if err == nil && status.Terminal() {
		g.settled()
	}
	return status, err
}

func (g *gatedGateway) settled() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight--
}

func (g *gatedGateway) submitted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sequences)
}

func TestAdapterKeepsOneSubmissionInFlight(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	require.NoError(t, simulator.SetRules(ctx, "bob", []entities.Recipient{{Identifier: "carol", ShareBps: 1000}}))
	simulator.SeedPool("alice", testAsset, 500)
	simulator.SeedPool("bob", testAsset, 500)
	gateway := &gatedGateway{
		Simulator: simulator,
		release:   make(chan struct{}),
		polling:   make(chan string, 1),
	}
	credential := newTestCredential(t)
	adapter := NewAdapter(gateway, credential, Policy{
		PollInterval:    time.Millisecond,
		MaxPollInterval: 2 * time.Millisecond,
		FinalityTimeout: 5 * time.Second,
	}, nil)

	results := make(chan entities.SettlementOutcome, 2)
	var wg sync.WaitGroup
	distribute := func(identifier string) {
		defer wg.Done()
		result, err := adapter.Distribute(ctx, ports.DistributeRequest{Identifier: identifier, Asset: testAsset})
		assert.NoError(t, err)
		results <- result.Outcome
	}

	wg.Add(1)
	go distribute("alice")
	select {
	case <-gateway.polling:
	case <-time.After(5 * time.Second):
		t.Fatal("first distribution never reached finality polling")
	}

	wg.Add(1)
	go distribute("bob")
	assert.Never(t, func() bool { return gateway.submitted() > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"second submission started while the first was still polling")

	close(gateway.release)
	wg.Wait()
	close(results)

	for outcome := range results {
		assert.Equal(t, entities.SettlementFinalizedSuccess, outcome)
	}
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	assert.Equal(t, 1, gateway.maxInFlight)
	assert.Equal(t, []int64{1, 2}, gateway.sequences)

	sequence, err := simulator.AccountSequence(ctx, credential.Account())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sequence)
}

func TestAdapterSubmitErrorIsTransient(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	simulator.SeedPool("alice", testAsset, 500)
	simulator.FailNextSubmits(errors.New("connection reset"))
	adapter := NewAdapter(simulator, newTestCredential(t), fastPolicy(), nil)

	result, err := adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "alice", Asset: testAsset})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrSubmitFailed)
	assert.Equal(t, entities.SettlementSubmitError, result.Outcome)

	result, err = adapter.Distribute(ctx, ports.DistributeRequest{Identifier: "alice", Asset: testAsset})
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedSuccess, result.Outcome)
}

func TestAdapterReloadsSequenceAfterMismatch(t *testing.T) {
	ctx := context.Background()
	simulator := seededSimulator(t, SimulatorOptions{})
	credential := newTestCredential(t)
	first := NewAdapter(simulator, credential, fastPolicy(), nil)
	second := NewAdapter(simulator, credential, fastPolicy(), nil)
	request := ports.DistributeRequest{Identifier: "alice", Asset: testAsset}

	simulator.SeedPool("alice", testAsset, 500)
	_, err := second.Distribute(ctx, request)
	require.NoError(t, err)

	simulator.SeedPool("alice", testAsset, 500)
	_, err = first.Distribute(ctx, request)
	require.NoError(t, err)

	simulator.SeedPool("alice", testAsset, 500)
	result, err := second.Distribute(ctx, request)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrBadSequence)
	assert.Equal(t, entities.SettlementSubmitError, result.Outcome)

	result, err = second.Distribute(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementFinalizedSuccess, result.Outcome)

	sequence, err := simulator.AccountSequence(ctx, credential.Account())
	require.NoError(t, err)
	assert.Equal(t, int64(3), sequence)
}

func TestNewCredentialRejectsBadSeed(t *testing.T) {
	_, err := NewCredential("zz")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidCredential)

	_, err = NewCredential("abcd")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidCredential)

	credential, err := NewCredential("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	assert.Len(t, credential.Account(), 64)
}
