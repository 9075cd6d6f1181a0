package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/adapters/memory"
	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/application/commands"
	"splitflow/contexts/finance-core/cascade-distribution/application/workers"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
	contractsv1 "splitflow/contracts/gen/events/v1"
)

type stubSubscriber struct {
	topic   string
	group   string
	handler func(context.Context, ports.EventEnvelope) error
}

func (s *stubSubscriber) Subscribe(
	_ context.Context,
	topic string,
	group string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	s.topic = topic
	s.group = group
	s.handler = handler
	return nil
}

type recordingPublisher struct {
	topics []string
	fail   error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ ports.EventEnvelope) error {
	if p.fail != nil {
		return p.fail
	}
	p.topics = append(p.topics, topic)
	return nil
}

func TestOutboxRelayPublishesOnce(t *testing.T) {
	fixture := newCascadeFixture(t, []string{"alice", "bob"}, map[string][]entities.Recipient{
		"alice": {{Identifier: "bob", ShareBps: 1000}},
	})
	fixture.simulator.SeedPool("alice", asset, 1_000)
	fixture.enqueue(t, "pay-r", "alice", 1_000)
	if _, err := fixture.worker.RunBatch(context.Background()); err != nil {
		t.Fatalf("run batch: %v", err)
	}

	failing := &recordingPublisher{fail: errors.New("bus down")}
	relay := workers.OutboxRelay{Outbox: fixture.store, Publisher: failing, Clock: fixture.store}
	if err := relay.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected publish failure to surface")
	}

	publisher := &recordingPublisher{}
	relay.Publisher = publisher
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay run: %v", err)
	}
	if len(publisher.topics) != 2 {
		t.Fatalf("expected two published events, got %v", publisher.topics)
	}
	seen := map[string]bool{}
	for _, topic := range publisher.topics {
		seen[topic] = true
	}
	if !seen[contractsv1.EventPaymentEnqueued] || !seen[contractsv1.EventHopCompleted] {
		t.Fatalf("unexpected topics: %v", publisher.topics)
	}

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("second relay run: %v", err)
	}
	if len(publisher.topics) != 2 {
		t.Fatalf("published rows must not be relayed again, got %v", publisher.topics)
	}
}

func TestPaymentSettledConsumerEnqueuesRootOnce(t *testing.T) {
	store := memory.NewStore(nil)
	sub := &stubSubscriber{}
	consumer := workers.PaymentSettledConsumer{
		Subscriber: sub,
		Commands: commands.UseCase{
			Jobs:   store,
			Ledger: store,
			Events: application.EventAppender{Outbox: store, IDGen: store},
			Clock:  store,
			IDGen:  store,
		},
		ConsumerGroup: "test-payment-settled",
	}
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start consumer: %v", err)
	}
	if sub.topic != contractsv1.EventPaymentSettled || sub.handler == nil {
		t.Fatalf("expected subscription to %s, got %q", contractsv1.EventPaymentSettled, sub.topic)
	}

	payload, _ := json.Marshal(map[string]any{
		"source_ref": "tx-42",
		"identifier": "alice",
		"asset":      asset,
		"payer":      "buyer",
		"amount":     1_000_000_000,
	})
	for i := 0; i < 2; i++ {
		if err := sub.handler(context.Background(), ports.EventEnvelope{
			EventID:   "event-42",
			EventType: contractsv1.EventPaymentSettled,
			Data:      payload,
		}); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	jobs, _ := store.ListJobsBySource(context.Background(), "tx-42")
	if len(jobs) != 1 || jobs[0].Depth != 0 || jobs[0].Identifier != "alice" {
		t.Fatalf("expected a single root job, got %+v", jobs)
	}
	entries, _ := store.ListLedgerEntries(context.Background(), "tx-42")
	if len(entries) != 1 || entries[0].EntryType != entities.LedgerEntryPayment || entries[0].Amount != 1_000_000_000 {
		t.Fatalf("expected one payment entry, got %+v", entries)
	}

	if err := sub.handler(context.Background(), ports.EventEnvelope{
		EventID: "event-bad",
		Data:    []byte(`{"source_ref":"tx-43"}`),
	}); err == nil {
		t.Fatalf("expected invalid payload to fail")
	}
}

func TestStaleResetJobReturnsStuckJobsToPending(t *testing.T) {
	store := memory.NewStore(nil)
	useCase := commands.UseCase{Jobs: store, Clock: store, IDGen: store}
	root, _, err := useCase.EnqueueRoot(context.Background(), commands.EnqueuePaymentCommand{
		SourceRef: "pay-s", Identifier: "alice", Asset: asset,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimBatch(context.Background(), 1, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	job := workers.StaleResetJob{Commands: useCase, OlderThan: 15 * time.Minute}
	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("stale reset: %v", err)
	}
	reset, _ := store.GetJob(context.Background(), root.ID)
	if reset.Status != entities.JobStatusPending || reset.ClaimedAt != nil {
		t.Fatalf("expected pending job, got %+v", reset)
	}
}
