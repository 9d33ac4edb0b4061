// Package bus implements the internal event conduit. All registry mutations
// publish exactly one Event here; the bus assigns the global sequence number
// and fans events out, in publish order, to internal subscribers (the
// broadcast hub and the event-log recorder).
//
// Publishing never blocks on a consumer: Publish appends to a bounded
// in-memory ring under a single mutex and wakes subscribers. Each
// subscription is an owner goroutine with its own cursor into the ring, so a
// slow subscriber only stalls itself.
package bus

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck/internal/metrics"
	"github.com/opsdeck/opsdeck/internal/models"
)

// ErrSequenceTooOld is returned by ReplaySince when the requested sequence
// predates the retained ring. Callers must fall back to a full resync.
var ErrSequenceTooOld = errors.New("sequence older than retained window")

// Bus is the single ordered event conduit.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	lastSeq uint64
	ring    []models.Event // oldest..newest, bounded by retain
	retain  int
	closed  bool
}

// New creates a Bus retaining up to retain events for replay.
func New(retain int) *Bus {
	if retain <= 0 {
		retain = 10000
	}
	b := &Bus{retain: retain}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// SeedSequence advances the counter so sequences stay monotonic across
// restarts. It only applies before the first publish.
func (b *Bus) SeedSequence(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastSeq == 0 && len(b.ring) == 0 {
		b.lastSeq = seq
	}
}

// LastSequence returns the most recently assigned sequence number.
func (b *Bus) LastSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}

// Publish assigns the next sequence number to a new event and appends it to
// the ring. It never blocks on subscribers and never fails; payloads are
// the registries' own structs, so marshalling cannot realistically error.
func (b *Bus) Publish(topic models.Topic, eventType string, payload any) models.Event {
	raw := marshalPayload(payload)

	b.mu.Lock()
	b.lastSeq++
	ev := models.Event{
		Sequence:  b.lastSeq,
		Topic:     topic,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
	b.ring = append(b.ring, ev)
	if len(b.ring) > b.retain {
		b.ring = b.ring[len(b.ring)-b.retain:]
	}
	b.cond.Broadcast()
	b.mu.Unlock()

	metrics.EventPublished(string(topic))
	return ev
}

// ReplaySince returns retained events with sequence greater than seq, in
// order. ErrSequenceTooOld is returned when seq is outside the ring (either
// pruned or from a future epoch).
func (b *Bus) ReplaySince(seq uint64) ([]models.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq > b.lastSeq {
		return nil, ErrSequenceTooOld
	}
	if seq == b.lastSeq {
		return nil, nil
	}
	if len(b.ring) == 0 {
		// Sequence counter was seeded past persisted history; nothing
		// retained to replay.
		return nil, ErrSequenceTooOld
	}

	oldest := b.ring[0].Sequence
	if seq+1 < oldest {
		return nil, ErrSequenceTooOld
	}

	start := int(seq + 1 - oldest)
	out := make([]models.Event, len(b.ring)-start)
	copy(out, b.ring[start:])
	return out, nil
}

// Close wakes all subscribers; each drains its remaining events and then
// its channel is closed. Publish must not be called after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscription is an ordered, no-duplicate view of the bus for one internal
// consumer. Events arrive on Events() in sequence order.
type Subscription struct {
	bus    *Bus
	name   string
	start  uint64
	cursor uint64
	ch     chan models.Event
	done   chan struct{}
	closed bool
}

// StartSequence returns the sequence the subscription was registered at.
// Every event with a greater sequence is delivered on Events(); nothing at
// or below it will be.
func (s *Subscription) StartSequence() uint64 {
	return s.start
}

// Subscribe registers an internal consumer starting at the current sequence.
// buffer is the size of the delivery channel.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	s := &Subscription{
		bus:    b,
		name:   name,
		start:  b.lastSeq,
		cursor: b.lastSeq,
		ch:     make(chan models.Event, buffer),
		done:   make(chan struct{}),
	}
	b.mu.Unlock()

	go s.run()
	return s
}

// Events returns the delivery channel. It is closed when the subscription
// or the bus is closed, after remaining events have been drained.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// Close stops delivery. Pending events are discarded.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if s.closed {
		s.bus.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.bus.cond.Broadcast()
	s.bus.mu.Unlock()
}

// run is the subscription's owner goroutine: wait for new events, copy the
// pending slice out of the ring, deliver outside the lock.
func (s *Subscription) run() {
	defer close(s.ch)
	b := s.bus

	for {
		b.mu.Lock()
		for b.lastSeq == s.cursor && !b.closed && !s.closed {
			b.cond.Wait()
		}
		if s.closed || (b.closed && b.lastSeq == s.cursor) {
			b.mu.Unlock()
			return
		}

		if len(b.ring) == 0 {
			// Counter moved past the cursor with nothing retained (seeded
			// after this subscription registered). Jump forward.
			s.cursor = b.lastSeq
			b.mu.Unlock()
			continue
		}

		// A subscriber that fell behind the ring skips forward. The hub
		// and recorder consume far faster than the ring turns over, so
		// this only fires when something is seriously wrong.
		oldest := b.ring[0].Sequence
		if s.cursor+1 < oldest {
			slog.Warn("bus subscriber lagged, skipping events",
				"subscriber", s.name,
				"skipped", oldest-s.cursor-1,
			)
			s.cursor = oldest - 1
		}

		start := int(s.cursor + 1 - oldest)
		batch := make([]models.Event, len(b.ring)-start)
		copy(batch, b.ring[start:])
		s.cursor = b.lastSeq
		b.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// marshalPayload encodes an event payload, passing through pre-encoded raw
// messages untouched.
func marshalPayload(p any) json.RawMessage {
	switch v := p.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return v
	}
	raw, err := json.Marshal(p)
	if err != nil {
		slog.Error("event payload marshal failed", "error", err)
		return json.RawMessage(`{}`)
	}
	return raw
}
