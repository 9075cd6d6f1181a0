package queries_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/adapters/memory"
	"splitflow/contexts/finance-core/cascade-distribution/application/queries"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
)

type staticBalances struct {
	balances entities.Balances
}

func (s staticBalances) Balances(_ context.Context, identifier string, asset string) (entities.Balances, error) {
	out := s.balances
	out.Identifier = identifier
	out.Asset = asset
	return out, nil
}

func TestGetCascadeTotalsHopEntries(t *testing.T) {
	store := memory.NewStore(nil)
	now := time.Now().UTC()
	if err := store.Enqueue(context.Background(), entities.DistributionJob{
		ID: "job-1", Identifier: "alice", Asset: "USDC", SourceRef: "pay-1", CreatedAt: now,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.AppendLedgerEntries(context.Background(), []entities.LedgerEntry{
		{ID: "e1", EntryType: entities.LedgerEntryPayment, Amount: 1000, SourceRef: "pay-1"},
		{ID: "e2", EntryType: entities.LedgerEntryDistribution, Amount: 100, SourceRef: "pay-1"},
		{ID: "e3", EntryType: entities.LedgerEntryDistribution, Amount: 50, SourceRef: "pay-1"},
		{ID: "e4", EntryType: entities.LedgerEntryDistribution, Amount: 7, SourceRef: "pay-2"},
	}); err != nil {
		t.Fatalf("append ledger: %v", err)
	}

	useCase := queries.UseCase{Jobs: store, Ledger: store}
	cascade, err := useCase.GetCascade(context.Background(), " pay-1 ")
	if err != nil {
		t.Fatalf("get cascade: %v", err)
	}
	if len(cascade.Jobs) != 1 || len(cascade.Entries) != 3 || cascade.TotalDistributed != 150 {
		t.Fatalf("unexpected cascade: %+v", cascade)
	}
	if _, err := useCase.GetCascade(context.Background(), "pay-missing"); !errors.Is(err, domainerrors.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGetBalances(t *testing.T) {
	useCase := queries.UseCase{}
	if _, err := useCase.GetBalances(context.Background(), "alice", "USDC"); !errors.Is(err, domainerrors.ErrSettlementOffline) {
		t.Fatalf("expected offline error, got %v", err)
	}
	useCase.Balances = staticBalances{balances: entities.Balances{Pool: 10, Unclaimed: 5}}
	balances, err := useCase.GetBalances(context.Background(), "alice", "USDC")
	if err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if balances.Pool != 10 || balances.Identifier != "alice" {
		t.Fatalf("unexpected balances: %+v", balances)
	}
	if _, err := useCase.GetBalances(context.Background(), "", "USDC"); !errors.Is(err, domainerrors.ErrInvalidPaymentInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
