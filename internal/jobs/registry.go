// Package jobs owns the lifecycle state of externally submitted work units.
//
// Writes are serialized per job (one mutex per entry), so transitions on
// different jobs never block each other while concurrent transitions on the
// same job are applied one at a time. Every accepted mutation publishes
// exactly one event; rejected mutations publish nothing.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/models"
)

// State is a job lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// KnownStates lists every valid state in lifecycle order.
var KnownStates = []State{StateQueued, StateRunning, StateSucceeded, StateFailed, StateCancelled}

// Terminal reports whether s permits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, k := range KnownStates {
		if s == k {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a transition violates the
	// monotonic lifecycle (leaving a terminal state, moving back to queued).
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrStaleTransition is returned to the loser of a concurrent update
	// race: a running→running report whose progress does not advance.
	ErrStaleTransition = errors.New("stale job transition")
	// ErrInvalidProgress is returned for progress outside 0–100.
	ErrInvalidProgress = errors.New("progress out of range")
)

// Job is a tracked unit of work.
type Job struct {
	ID        uuid.UUID       `json:"id"`
	Producer  string          `json:"producer"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	State     State           `json:"state"`
	Progress  int             `json:"progress"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TransitionDetail carries the optional fields of a transition report.
type TransitionDetail struct {
	Progress *int            `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Publisher is the slice of the bus the registry needs.
type Publisher interface {
	Publish(topic models.Topic, eventType string, payload any) models.Event
}

// Registry owns all job state.
type Registry struct {
	pub Publisher

	mu   sync.RWMutex
	jobs map[uuid.UUID]*entry
}

type entry struct {
	mu  sync.Mutex
	job Job
}

// NewRegistry creates an empty Registry publishing to pub.
func NewRegistry(pub Publisher) *Registry {
	return &Registry{
		pub:  pub,
		jobs: make(map[uuid.UUID]*entry),
	}
}

// Register creates a job in the queued state and publishes job.created.
func (r *Registry) Register(producer string, payload json.RawMessage) (Job, error) {
	if producer == "" {
		return Job{}, fmt.Errorf("producer tag is required")
	}

	now := time.Now().UTC()
	job := Job{
		ID:        uuid.New(),
		Producer:  producer,
		Payload:   payload,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{job: job}
	r.mu.Unlock()

	r.pub.Publish(models.TopicJobs, models.EventJobCreated, job)
	return job, nil
}

// Transition applies a state report to a job. The per-entry mutex makes the
// check-and-apply atomic; the event is published before the lock is released
// so per-job event order matches state order.
func (r *Registry) Transition(id uuid.UUID, next State, detail TransitionDetail) (Job, error) {
	if !next.Valid() {
		return Job{}, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, next)
	}
	if detail.Progress != nil && (*detail.Progress < 0 || *detail.Progress > 100) {
		return Job{}, fmt.Errorf("%w: %d", ErrInvalidProgress, *detail.Progress)
	}

	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return Job{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.job.State
	switch {
	case cur.Terminal():
		return Job{}, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, cur)
	case next == StateQueued:
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	case cur == StateQueued && next == StateRunning:
		// start
	case cur == StateQueued && next.Terminal():
		// producers that never report running go straight to terminal
	case cur == StateRunning && next == StateRunning:
		// progress report; the loser of a concurrent race shows up here
		// as a non-advancing progress value
		if detail.Progress == nil || *detail.Progress <= e.job.Progress {
			return Job{}, fmt.Errorf("%w: progress did not advance past %d", ErrStaleTransition, e.job.Progress)
		}
	case cur == StateRunning && next.Terminal():
		// finish
	default:
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}

	e.job.State = next
	e.job.UpdatedAt = time.Now().UTC()
	if detail.Progress != nil {
		e.job.Progress = *detail.Progress
	}
	if next.Terminal() {
		e.job.Result = detail.Result
		if next == StateSucceeded && e.job.Progress < 100 {
			e.job.Progress = 100
		}
	}
	if next == StateFailed {
		e.job.Error = detail.Error
	}

	job := e.job
	r.pub.Publish(models.TopicJobs, models.EventJobUpdated, job)
	return job, nil
}

// Get returns a job by id.
func (r *Registry) Get(id uuid.UUID) (Job, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return Job{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// Filter restricts Query results. Zero values match everything.
type Filter struct {
	Producer string
	State    State
	Since    time.Time
}

// Query returns jobs matching the filter, newest first.
func (r *Registry) Query(f Filter) []Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		job := e.job
		e.mu.Unlock()

		if f.Producer != "" && job.Producer != f.Producer {
			continue
		}
		if f.State != "" && job.State != f.State {
			continue
		}
		if !f.Since.IsZero() && job.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, job)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats returns per-state job counts, including zero counts, for summaries.
func (r *Registry) Stats() map[State]int {
	counts := make(map[State]int, len(KnownStates))
	for _, s := range KnownStates {
		counts[s] = 0
	}
	for _, job := range r.Query(Filter{}) {
		counts[job.State]++
	}
	return counts
}
