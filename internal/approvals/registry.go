// Package approvals owns human-in-the-loop approval requests. A request
// receives exactly one terminal decision: approved, rejected, or — when its
// deadline passes while still pending — expired.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/models"
)

// State is an approval request state.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Terminal reports whether s permits no further transitions. Expired is
// terminal the same as approved/rejected.
func (s State) Terminal() bool {
	return s != StatePending
}

// Decision is an operator's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("approval request not found")
	// ErrAlreadyDecided is returned when deciding a request that is no
	// longer pending, including expired ones.
	ErrAlreadyDecided = errors.New("approval request already decided")
)

// Request is a pending or decided approval gate.
type Request struct {
	ID          uuid.UUID  `json:"id"`
	Subject     string     `json:"subject"`
	State       State      `json:"state"`
	RequestedAt time.Time  `json:"requested_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	DecidedBy   string     `json:"decided_by,omitempty"`
}

// Publisher is the slice of the bus the registry needs.
type Publisher interface {
	Publish(topic models.Topic, eventType string, payload any) models.Event
}

// DecisionHook runs the side effect gated by a request (e.g. unlocking a
// resource) before the decision is committed. A hook error aborts the
// decision and the request stays pending.
type DecisionHook func(ctx context.Context, req Request, decision Decision) error

// Registry owns all approval-request state.
type Registry struct {
	pub  Publisher
	hook DecisionHook

	mu   sync.RWMutex
	reqs map[uuid.UUID]*entry
}

type entry struct {
	mu  sync.Mutex
	req Request
}

// NewRegistry creates an empty Registry. hook may be nil.
func NewRegistry(pub Publisher, hook DecisionHook) *Registry {
	return &Registry{
		pub:  pub,
		hook: hook,
		reqs: make(map[uuid.UUID]*entry),
	}
}

// Create registers a pending request expiring after ttl and publishes
// approval.created.
func (r *Registry) Create(subject string, ttl time.Duration) (Request, error) {
	if subject == "" {
		return Request{}, fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		return Request{}, fmt.Errorf("expiry must be in the future")
	}

	now := time.Now().UTC()
	req := Request{
		ID:          uuid.New(),
		Subject:     subject,
		State:       StatePending,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
	}

	r.mu.Lock()
	r.reqs[req.ID] = &entry{req: req}
	r.mu.Unlock()

	r.pub.Publish(models.TopicApprovals, models.EventApprovalCreated, req)
	return req, nil
}

// Decide applies a terminal decision. The entry mutex holds from the
// pending check through the hook and the commit, so the side effect and the
// state flip land together or not at all: a hook failure leaves the request
// pending and publishes nothing.
func (r *Registry) Decide(ctx context.Context, id uuid.UUID, decision Decision, decider string) (Request, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return Request{}, fmt.Errorf("unknown decision %q", decision)
	}
	if decider == "" {
		return Request{}, fmt.Errorf("decider identity is required")
	}

	r.mu.RLock()
	e, ok := r.reqs[id]
	r.mu.RUnlock()
	if !ok {
		return Request{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.req.State != StatePending {
		return Request{}, fmt.Errorf("%w: %s by %s", ErrAlreadyDecided, e.req.State, e.req.DecidedBy)
	}

	if r.hook != nil {
		if err := r.hook(ctx, e.req, decision); err != nil {
			return Request{}, fmt.Errorf("decision side effect: %w", err)
		}
	}

	now := time.Now().UTC()
	if decision == DecisionApprove {
		e.req.State = StateApproved
	} else {
		e.req.State = StateRejected
	}
	e.req.DecidedAt = &now
	e.req.DecidedBy = decider

	req := e.req
	r.pub.Publish(models.TopicApprovals, models.EventApprovalDecided, req)
	return req, nil
}

// Get returns a request by id.
func (r *Registry) Get(id uuid.UUID) (Request, error) {
	r.mu.RLock()
	e, ok := r.reqs[id]
	r.mu.RUnlock()
	if !ok {
		return Request{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.req, nil
}

// List returns all requests, newest first. When pendingOnly is set, decided
// requests are filtered out.
func (r *Registry) List(pendingOnly bool) []Request {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.reqs))
	for _, e := range r.reqs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Request, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		req := e.req
		e.mu.Unlock()

		if pendingOnly && req.State != StatePending {
			continue
		}
		out = append(out, req)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out
}

// Sweep expires pending requests past their deadline and returns how many
// were transitioned. It is idempotent: terminal requests are skipped, so
// re-running on the same data produces no duplicate transitions.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.reqs))
	for _, e := range r.reqs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	expired := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.req.State == StatePending && !now.Before(e.req.ExpiresAt) {
			deadline := e.req.ExpiresAt
			e.req.State = StateExpired
			e.req.DecidedAt = &deadline
			req := e.req
			r.pub.Publish(models.TopicApprovals, models.EventApprovalDecided, req)
			expired++
		}
		e.mu.Unlock()
	}
	return expired
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			r.Sweep(tick.UTC())
		}
	}
}
