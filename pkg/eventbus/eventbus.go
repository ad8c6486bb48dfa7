// Package eventbus provides the in-process pub/sub fabric that connects the
// pipeline stages. Delivery is synchronous and in subscription order, so a
// publisher observes all subscriber side effects before Publish returns.
// Subscribers that need to block must offload to their own goroutine.
package eventbus

import (
	"context"
	"fmt"
	"sync"
)

// Topics carried on the bus.
const (
	TopicTick          = "trend.tick"
	TopicEarlyWarning  = "trend.early_warning"
	TopicAssessment    = "risk.assessment"
	TopicPreAssessment = "risk.pre_assessment"
	TopicAction        = "enforce.action"
	TopicThresholds    = "evolver.thresholds"
)

// Event is a single message on the bus.
type Event struct {
	Type    string
	Source  string
	Payload any
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Handler receives events for a topic.
type Handler func(ctx context.Context, evt Event)

// Bus is an in-memory pub/sub bus. Handlers for a topic run inline, in the
// order they subscribed. A panicking handler is isolated and does not stop
// delivery to later handlers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler

	// OnPanic, if set, is called with the recovered value when a handler
	// panics. Used to surface handler bugs without crashing the publisher.
	OnPanic func(topic string, recovered any)
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], h)
	b.mu.Unlock()
}

// Publish delivers evt to every handler subscribed to evt.Type, in
// subscription order, before returning. Returns ctx.Err() if the context is
// already done; an in-flight handler is never interrupted.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[evt.Type]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(ctx, evt, h)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, evt Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			if b.OnPanic != nil {
				b.OnPanic(evt.Type, r)
			}
		}
	}()
	h(ctx, evt)
}

// SubscriberCount reports registered handlers for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// String implements fmt.Stringer for debug logs.
func (b *Bus) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, hs := range b.subs {
		total += len(hs)
	}
	return fmt.Sprintf("eventbus(topics=%d handlers=%d)", len(b.subs), total)
}
