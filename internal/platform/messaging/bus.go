package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	contractsv1 "splitflow/contracts/gen/events/v1"
)

const defaultBufferSize = 128

// ErrNoDelivery reports that a topic had subscribers but every consumer group
// dropped the event.
var ErrNoDelivery = errors.New("no consumer group accepted event")

// Bus is the in-process event bus behind the outbox relay and the payment
// consumer. Publish never blocks on a full subscriber; the event is dropped
// for that subscriber. When no group accepts it Publish returns ErrNoDelivery
// and the outbox row stays pending.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	brokers     []string
	bufferSize  int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type subscription struct {
	group string
	ch    chan contractsv1.Envelope
}

func NewBus(brokers []string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]subscription),
		brokers:     append([]string(nil), brokers...),
		bufferSize:  defaultBufferSize,
		logger:      logger,
	}
}

// Publish fans the event out to one subscription per consumer group. A topic
// without subscribers is not an error.
func (b *Bus) Publish(ctx context.Context, topic string, event contractsv1.Envelope) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	delivered := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if delivered[sub.group] {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub.ch <- event:
			delivered[sub.group] = true
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"event", "bus_publish_drop",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", sub.group,
				"event_id", event.EventID,
			)
		}
	}

	if len(subs) > 0 && len(delivered) == 0 {
		return fmt.Errorf("%w: topic %s event %s", ErrNoDelivery, topic, event.EventID)
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"subscribers", len(delivered),
	)
	return nil
}

func (b *Bus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, contractsv1.Envelope) error,
) error {
	sub := subscription{
		group: consumerGroup,
		ch:    make(chan contractsv1.Envelope, b.bufferSize),
	}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(topic, sub.ch)
				return
			case event := <-sub.ch:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// Brokers returns the configured external broker addresses. The in-process
// bus does not dial them.
func (b *Bus) Brokers() []string {
	return append([]string(nil), b.brokers...)
}

// Wait blocks until every subscription goroutine has exited.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) removeSubscriber(topic string, target chan contractsv1.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[topic]
	if len(items) == 0 {
		return
	}
	filtered := make([]subscription, 0, len(items))
	for _, item := range items {
		if item.ch != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[topic] = filtered
}
