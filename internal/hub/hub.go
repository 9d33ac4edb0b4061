// Package hub fans bus events out to connected stream clients.
//
// Owner-goroutine pattern, no mutexes: Run is the only goroutine that
// touches the client map; register/unregister arrive over command channels.
// Each client has a bounded delivery queue. Delivery to one client never
// blocks on another client or on producers: a queue that would overflow
// gets its client dropped and flagged for resync instead.
package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/bus"
	"github.com/opsdeck/opsdeck/internal/metrics"
	"github.com/opsdeck/opsdeck/internal/models"
)

// ErrStopped is returned by Register when the hub is shut down.
var ErrStopped = errors.New("hub stopped")

// Client is one stream subscription. Events arrive on Events() in sequence
// order; the channel closes when the client is dropped or the hub stops.
type Client struct {
	id     uuid.UUID
	topics map[models.Topic]bool
	ch     chan models.Event

	// Written only by the hub goroutine before ch is closed; the channel
	// close is the reader's synchronization point.
	dropReason     string
	resyncRequired bool
}

// Events returns the client's delivery channel.
func (c *Client) Events() <-chan models.Event {
	return c.ch
}

// ResyncRequired reports whether the client must fetch a full snapshot
// instead of relying on delta replay. Valid at registration time and after
// Events() closes.
func (c *Client) ResyncRequired() bool {
	return c.resyncRequired
}

// DropReason is non-empty after Events() closes because the hub dropped the
// client (as opposed to a clean unregister).
func (c *Client) DropReason() string {
	return c.dropReason
}

type registerCmd struct {
	topics  map[models.Topic]bool
	lastSeq uint64
	reply   chan *Client
}

// Hub routes bus events to clients.
type Hub struct {
	bus      *bus.Bus
	queueCap int

	regCh   chan registerCmd
	unregCh chan *Client
	done    chan struct{}

	// Owned by the Run goroutine.
	clients    map[uuid.UUID]*Client
	lastRouted uint64
}

// New creates a Hub delivering through queues of the given capacity.
func New(b *bus.Bus, queueCap int) *Hub {
	if queueCap <= 0 {
		queueCap = 1000
	}
	return &Hub{
		bus:      b,
		queueCap: queueCap,
		regCh:    make(chan registerCmd),
		unregCh:  make(chan *Client, 16),
		done:     make(chan struct{}),
		clients:  make(map[uuid.UUID]*Client),
	}
}

// Register attaches a new client. topics nil/empty means all topics.
// lastSeq > 0 requests replay of events after that sequence: when the gap
// fits the retained window the missed events are queued ahead of live
// traffic with no gap or duplication; otherwise the client comes back
// flagged resync-required and streams from the current position.
func (h *Hub) Register(ctx context.Context, topics []models.Topic, lastSeq uint64) (*Client, error) {
	set := make(map[models.Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	if len(set) == 0 {
		for _, t := range models.KnownTopics {
			set[t] = true
		}
	}

	cmd := registerCmd{topics: set, lastSeq: lastSeq, reply: make(chan *Client, 1)}

	select {
	case h.regCh <- cmd:
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case c := <-cmd.reply:
		return c, nil
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unregister detaches a client. Safe to call after the hub already dropped it.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregCh <- c:
	case <-h.done:
	}
}

// Run is the hub's owner goroutine. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe("hub", 256)
	defer close(h.done)

	// The routing position must match the subscription's cursor exactly:
	// everything at or below it is served from replay, everything above it
	// arrives live. Reading the bus sequence separately would race with a
	// concurrent publish and hand the same event to both paths.
	h.lastRouted = sub.StartSequence()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				h.closeAll("")
				return
			}
			h.route(ev)

		case cmd := <-h.regCh:
			h.handleRegister(cmd)

		case c := <-h.unregCh:
			h.remove(c, "")

		case <-ctx.Done():
			sub.Close()
			h.closeAll("")
			return
		}
	}
}

// route delivers one event to every subscribed client. Slow consumers are
// dropped, never waited on.
func (h *Hub) route(ev models.Event) {
	h.lastRouted = ev.Sequence
	for _, c := range h.clients {
		if !c.topics[ev.Topic] {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			h.remove(c, metrics.DropQueueOverflow)
		}
	}
}

func (h *Hub) handleRegister(cmd registerCmd) {
	c := &Client{
		id:     uuid.New(),
		topics: cmd.topics,
		ch:     make(chan models.Event, h.queueCap),
	}

	if cmd.lastSeq > 0 {
		h.replayInto(c, cmd.lastSeq)
	}

	h.clients[c.id] = c
	metrics.SetStreamClients(len(h.clients))
	slog.Info("stream client registered",
		"client_id", c.id,
		"topics", len(c.topics),
		"last_sequence", cmd.lastSeq,
		"resync_required", c.resyncRequired,
	)
	cmd.reply <- c
}

// replayInto queues missed events up to the hub's routing position. Events
// past lastRouted arrive through normal routing, so replay plus live
// delivery is gapless and duplicate-free.
func (h *Hub) replayInto(c *Client, lastSeq uint64) {
	replay, err := h.bus.ReplaySince(lastSeq)
	if err != nil {
		c.resyncRequired = true
		return
	}

	for _, ev := range replay {
		if ev.Sequence > h.lastRouted {
			break
		}
		if !c.topics[ev.Topic] {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			// The gap alone overflows the queue; replay is pointless.
			c.resyncRequired = true
			return
		}
	}
}

func (h *Hub) remove(c *Client, reason string) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)

	if reason != "" {
		c.dropReason = reason
		c.resyncRequired = true
		metrics.StreamClientDropped(reason)
		slog.Warn("stream client dropped", "client_id", c.id, "reason", reason)
	}
	close(c.ch)
	metrics.SetStreamClients(len(h.clients))
}

func (h *Hub) closeAll(reason string) {
	for _, c := range h.clients {
		if reason != "" {
			c.dropReason = reason
		}
		close(c.ch)
	}
	h.clients = make(map[uuid.UUID]*Client)
	metrics.SetStreamClients(0)
}
