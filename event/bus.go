// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package event implements the ordered fan-out of committed governance events
// to external subscribers such as indexers and user interfaces.
//
// Publishing never blocks: every event receives a bus-wide sequence number and
// is appended to the bounded queue of each subscriber interested in its type.
// A dedicated worker per subscriber delivers events in sequence order. A
// handler error triggers redelivery with exponential backoff. With
// Config.MaxAttempts set to zero redelivery continues until the handler
// succeeds or the subscriber is removed, so delivery is at-least-once for every
// event accepted into a subscriber queue; a positive MaxAttempts abandons the
// event after that many failures. Handlers deduplicate by Event.ID. An event that finds a subscriber queue full is
// dropped for that subscriber only, and the drop is logged and counted.
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Type names a kind of event
type Type string

// SubscriptionID identifies a subscriber on a bus
type SubscriptionID uint64

// Event is a published domain event
type Event struct {
	ID        uuid.UUID
	Seq       uint64
	Type      Type
	Timestamp time.Time
	Payload   any
}

// Handler consumes an event. A non-nil error requests redelivery.
type Handler func(Event) error

// Config holds the configuration of the event bus
type Config struct {
	QueueSize      int           // per-subscriber buffer
	MaxAttempts    int           // delivery attempts per event, including the first; 0 retries until delivered
	InitialBackoff time.Duration // delay before the first redelivery
	MaxBackoff     time.Duration
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:      1024,
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("event queue size must be positive, got %d", c.QueueSize)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("event max attempts must not be negative, got %d", c.MaxAttempts)
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid event backoff bounds [%v, %v]", c.InitialBackoff, c.MaxBackoff)
	}
	return nil
}

// Bus fans events out to subscribers
type Bus struct {
	config  Config
	clock   clock.Clock
	logger  log.Logger
	metrics *busMetrics

	mu      sync.Mutex // guards everything below and orders publication
	seq     uint64
	lastID  SubscriptionID
	subs    map[SubscriptionID]*subscriber
	stopped bool
}

// Option configures a Bus
type Option func(*Bus)

// WithClock sets the clock used to timestamp events.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithRegisterer registers the bus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bus) {
		if reg != nil {
			b.metrics = newBusMetrics(reg)
		}
	}
}

// NewBus creates an event bus.
func NewBus(config Config, opts ...Option) *Bus {
	b := &Bus{
		config: config,
		clock:  clock.New(),
		logger: log.New("module", "event"),
		subs:   make(map[SubscriptionID]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscriber struct {
	id      SubscriptionID
	name    string
	types   mapset.Set[Type] // empty matches every type
	handler Handler
	queue   chan Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscriber) wants(t Type) bool {
	return s.types.Cardinality() == 0 || s.types.Contains(t)
}

// Subscribe registers handler for the given event types; no types means all.
// The name labels the subscriber in logs.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) (SubscriptionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return 0, ErrBusStopped
	}
	b.lastID++
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		id:      b.lastID,
		name:    name,
		types:   mapset.NewThreadUnsafeSet(types...),
		handler: handler,
		queue:   make(chan Event, b.config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	go b.loop(sub)

	if b.metrics != nil {
		b.metrics.subscribers.Inc()
	}
	b.logger.Debug("Event subscriber registered", "id", sub.id, "name", name, "types", len(types))
	return sub.id, nil
}

// Unsubscribe stops delivery to a subscriber and waits for its worker to exit.
// Events still queued for it are discarded.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.cancel()
	<-sub.done
	if b.metrics != nil {
		b.metrics.subscribers.Dec()
	}
}

// Publish appends an event to the queue of every interested subscriber and
// returns without waiting for delivery.
func (b *Bus) Publish(eventType Type, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.seq++
	evt := Event{
		ID:        uuid.New(),
		Seq:       b.seq,
		Type:      eventType,
		Timestamp: b.clock.Now(),
		Payload:   payload,
	}
	if b.metrics != nil {
		b.metrics.published.WithLabelValues(string(eventType)).Inc()
	}
	for _, sub := range b.subs {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.queue <- evt:
		default:
			b.logger.Warn("Event subscriber queue full, dropping event", "subscriber", sub.name, "type", eventType, "seq", evt.Seq)
			if b.metrics != nil {
				b.metrics.dropped.WithLabelValues(string(eventType)).Inc()
			}
		}
	}
}

// Stop shuts every subscriber down and waits for the workers to exit.
// Publishing after Stop is a no-op.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	subs := b.subs
	b.subs = make(map[SubscriptionID]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	for _, sub := range subs {
		<-sub.done
	}
	if b.metrics != nil {
		b.metrics.subscribers.Set(0)
	}
}

// loop delivers queued events to one subscriber in order.
func (b *Bus) loop(sub *subscriber) {
	defer close(sub.done)
	for {
		select {
		case <-sub.ctx.Done():
			return
		case evt := <-sub.queue:
			b.deliver(sub, evt)
		}
	}
}

// deliver hands evt to the subscriber, retrying failures with backoff.
func (b *Bus) deliver(sub *subscriber, evt Event) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.config.InitialBackoff
	policy.MaxInterval = b.config.MaxBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 && b.metrics != nil {
			b.metrics.retried.WithLabelValues(string(evt.Type)).Inc()
		}
		return invoke(sub.handler, evt)
	}
	var retries backoff.BackOff = policy
	if b.config.MaxAttempts > 0 {
		retries = backoff.WithMaxRetries(policy, uint64(b.config.MaxAttempts-1))
	}
	err := backoff.Retry(operation, backoff.WithContext(retries, sub.ctx))
	if err != nil {
		if sub.ctx.Err() == nil {
			b.logger.Warn("Event delivery failed", "subscriber", sub.name, "type", evt.Type, "seq", evt.Seq, "attempts", attempt, "err", err)
		}
		if b.metrics != nil {
			b.metrics.failed.WithLabelValues(string(evt.Type)).Inc()
		}
		return
	}
	if b.metrics != nil {
		b.metrics.delivered.WithLabelValues(string(evt.Type)).Inc()
	}
}

// invoke calls handler, converting a panic into an error.
func invoke(handler Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return handler(evt)
}
