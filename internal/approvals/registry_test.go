package approvals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/models"
)

type capturePub struct {
	mu     sync.Mutex
	seq    uint64
	events []models.Event
}

func (p *capturePub) Publish(topic models.Topic, eventType string, payload any) models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ev := models.Event{Sequence: p.seq, Topic: topic, Type: eventType, Timestamp: time.Now().UTC()}
	p.events = append(p.events, ev)
	return ev
}

func (p *capturePub) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func TestCreateAndDecide(t *testing.T) {
	pub := &capturePub{}
	reg := NewRegistry(pub, nil)

	req, err := reg.Create("scale prod to 10 replicas", time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.State != StatePending {
		t.Errorf("expected pending, got %s", req.State)
	}
	if got := pub.count(models.EventApprovalCreated); got != 1 {
		t.Errorf("expected 1 approval.created, got %d", got)
	}

	decided, err := reg.Decide(context.Background(), req.ID, DecisionApprove, "alice")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.State != StateApproved {
		t.Errorf("expected approved, got %s", decided.State)
	}
	if decided.DecidedBy != "alice" {
		t.Errorf("expected decider alice, got %s", decided.DecidedBy)
	}
	if decided.DecidedAt == nil {
		t.Error("expected decided_at to be set")
	}
	if got := pub.count(models.EventApprovalDecided); got != 1 {
		t.Errorf("expected 1 approval.decided, got %d", got)
	}
}

func TestCreateValidation(t *testing.T) {
	reg := NewRegistry(&capturePub{}, nil)
	if _, err := reg.Create("", time.Minute); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := reg.Create("subject", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
	if _, err := reg.Create("subject", -time.Second); err == nil {
		t.Error("expected error for negative ttl")
	}
}

func TestSecondDecisionRejected(t *testing.T) {
	pub := &capturePub{}
	reg := NewRegistry(pub, nil)

	req, _ := reg.Create("restart gateway", time.Minute)
	if _, err := reg.Decide(context.Background(), req.ID, DecisionReject, "alice"); err != nil {
		t.Fatalf("first decision: %v", err)
	}

	_, err := reg.Decide(context.Background(), req.ID, DecisionApprove, "bob")
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
	if got := pub.count(models.EventApprovalDecided); got != 1 {
		t.Errorf("expected 1 approval.decided after double decide, got %d", got)
	}
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	pub := &capturePub{}
	reg := NewRegistry(pub, nil)
	req, _ := reg.Create("drop table", time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = reg.Decide(context.Background(), req.ID, DecisionApprove, "racer")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyDecided):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winning decision, got %d", winners)
	}
	if got := pub.count(models.EventApprovalDecided); got != 1 {
		t.Errorf("expected 1 approval.decided, got %d", got)
	}
}

func TestHookFailureLeavesPending(t *testing.T) {
	pub := &capturePub{}
	hookErr := errors.New("lock service unavailable")
	reg := NewRegistry(pub, func(ctx context.Context, req Request, d Decision) error {
		return hookErr
	})

	req, _ := reg.Create("unlock artifact", time.Minute)
	created := len(pub.events)

	_, err := reg.Decide(context.Background(), req.ID, DecisionApprove, "alice")
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}

	got, _ := reg.Get(req.ID)
	if got.State != StatePending {
		t.Errorf("expected request to stay pending, got %s", got.State)
	}
	if len(pub.events) != created {
		t.Errorf("failed decision published %d extra events", len(pub.events)-created)
	}

	// The same request can still be decided once the hook recovers.
	reg.hook = nil
	if _, err := reg.Decide(context.Background(), req.ID, DecisionApprove, "alice"); err != nil {
		t.Fatalf("retry after hook failure: %v", err)
	}
}

func TestSweepExpiresOverduePending(t *testing.T) {
	pub := &capturePub{}
	reg := NewRegistry(pub, nil)

	short, _ := reg.Create("short-lived", 10*time.Millisecond)
	long, _ := reg.Create("long-lived", time.Hour)
	decided, _ := reg.Create("decided early", 10*time.Millisecond)
	reg.Decide(context.Background(), decided.ID, DecisionReject, "alice")

	cutoff := time.Now().UTC().Add(time.Second)
	if got := reg.Sweep(cutoff); got != 1 {
		t.Fatalf("expected 1 expiry, got %d", got)
	}

	expired, _ := reg.Get(short.ID)
	if expired.State != StateExpired {
		t.Errorf("expected expired, got %s", expired.State)
	}
	if expired.DecidedAt == nil || !expired.DecidedAt.Equal(expired.ExpiresAt) {
		t.Errorf("expected decided_at pinned to the deadline, got %v", expired.DecidedAt)
	}

	still, _ := reg.Get(long.ID)
	if still.State != StatePending {
		t.Errorf("expected long-lived request to stay pending, got %s", still.State)
	}

	// Sweep is idempotent: a second pass finds nothing.
	if got := reg.Sweep(cutoff); got != 0 {
		t.Errorf("expected idempotent re-sweep, got %d expiries", got)
	}

	// An expired request counts as decided.
	if _, err := reg.Decide(context.Background(), short.ID, DecisionApprove, "bob"); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected already decided for expired request, got %v", err)
	}
}

func TestListPendingOnly(t *testing.T) {
	pub := &capturePub{}
	reg := NewRegistry(pub, nil)

	reg.Create("one", time.Minute)
	two, _ := reg.Create("two", time.Minute)
	reg.Decide(context.Background(), two.ID, DecisionApprove, "alice")

	if got := len(reg.List(false)); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
	pending := reg.List(true)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	if pending[0].Subject != "one" {
		t.Errorf("expected pending request one, got %s", pending[0].Subject)
	}
}

func TestDecideUnknownRequest(t *testing.T) {
	reg := NewRegistry(&capturePub{}, nil)
	if _, err := reg.Decide(context.Background(), uuid.New(), DecisionApprove, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
