package bus

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opsdeck/opsdeck/internal/models"
)

func TestPublishAssignsMonotonicSequences(t *testing.T) {
	b := New(100)

	for i := 1; i <= 5; i++ {
		ev := b.Publish(models.TopicJobs, models.EventJobCreated, map[string]int{"n": i})
		if ev.Sequence != uint64(i) {
			t.Fatalf("expected sequence %d, got %d", i, ev.Sequence)
		}
	}
	if got := b.LastSequence(); got != 5 {
		t.Errorf("expected last sequence 5, got %d", got)
	}
}

func TestConcurrentPublishersNoGapsNoDuplicates(t *testing.T) {
	b := New(10000)

	const publishers = 8
	const perPublisher = 200

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(models.TopicLedger, models.EventLedgerEntry, nil)
			}
		}()
	}
	wg.Wait()

	events, err := b.ReplaySince(0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != publishers*perPublisher {
		t.Fatalf("expected %d events, got %d", publishers*perPublisher, len(events))
	}
	for i, ev := range events {
		if ev.Sequence != uint64(i+1) {
			t.Fatalf("gap or duplicate at index %d: sequence %d", i, ev.Sequence)
		}
	}
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	b := New(100)
	sub := b.Subscribe("test", 16)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish(models.TopicJobs, models.EventJobUpdated, nil)
	}

	var last uint64
	for i := 0; i < 10; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Sequence != last+1 {
				t.Fatalf("expected sequence %d, got %d", last+1, ev.Sequence)
			}
			last = ev.Sequence
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func TestSubscribeStartsAtCurrentSequence(t *testing.T) {
	b := New(100)
	b.Publish(models.TopicJobs, models.EventJobCreated, nil)
	b.Publish(models.TopicJobs, models.EventJobCreated, nil)

	sub := b.Subscribe("late", 16)
	defer sub.Close()

	b.Publish(models.TopicJobs, models.EventJobCreated, nil)

	select {
	case ev := <-sub.Events():
		if ev.Sequence != 3 {
			t.Fatalf("expected only the post-subscribe event (seq 3), got %d", ev.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestCloseDrainsSubscribers(t *testing.T) {
	b := New(100)
	sub := b.Subscribe("drain", 16)

	for i := 0; i < 5; i++ {
		b.Publish(models.TopicMetrics, models.EventMetricsUpdated, nil)
	}
	b.Close()

	got := 0
	for range sub.Events() {
		got++
	}
	if got != 5 {
		t.Fatalf("expected all 5 events before channel close, got %d", got)
	}
}

func TestReplaySince(t *testing.T) {
	b := New(100)
	for i := 0; i < 10; i++ {
		b.Publish(models.TopicLedger, models.EventLedgerEntry, nil)
	}

	tests := []struct {
		name    string
		since   uint64
		want    int
		wantErr error
	}{
		{name: "from zero", since: 0, want: 10},
		{name: "mid stream", since: 7, want: 3},
		{name: "caught up", since: 10, want: 0},
		{name: "future sequence", since: 11, wantErr: ErrSequenceTooOld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := b.ReplaySince(tt.since)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			if len(events) != tt.want {
				t.Fatalf("expected %d events, got %d", tt.want, len(events))
			}
			if tt.want > 0 && events[0].Sequence != tt.since+1 {
				t.Errorf("expected first sequence %d, got %d", tt.since+1, events[0].Sequence)
			}
		})
	}
}

func TestReplayBeyondRetention(t *testing.T) {
	b := New(5)
	for i := 0; i < 20; i++ {
		b.Publish(models.TopicJobs, models.EventJobUpdated, nil)
	}

	if _, err := b.ReplaySince(3); !errors.Is(err, ErrSequenceTooOld) {
		t.Fatalf("expected sequence too old, got %v", err)
	}

	// The newest retained window still replays.
	events, err := b.ReplaySince(15)
	if err != nil {
		t.Fatalf("replay within window: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 retained events, got %d", len(events))
	}
}

func TestSeedSequence(t *testing.T) {
	b := New(100)
	b.SeedSequence(500)

	if got := b.LastSequence(); got != 500 {
		t.Fatalf("expected seeded sequence 500, got %d", got)
	}
	ev := b.Publish(models.TopicJobs, models.EventJobCreated, nil)
	if ev.Sequence != 501 {
		t.Errorf("expected 501 after seed, got %d", ev.Sequence)
	}

	// Seeding after the first publish is a no-op.
	b.SeedSequence(9000)
	if got := b.LastSequence(); got != 501 {
		t.Errorf("expected seed to be ignored after publish, got %d", got)
	}

	// Replay from before the seed point cannot be served.
	if _, err := b.ReplaySince(100); !errors.Is(err, ErrSequenceTooOld) {
		t.Errorf("expected sequence too old for pre-seed replay, got %v", err)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("slow", 1) // tiny buffer, never read until the end
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(models.TopicLedger, models.EventLedgerEntry, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPayloadPassthrough(t *testing.T) {
	b := New(10)

	raw := `{"k":7}`
	ev := b.Publish(models.TopicJobs, models.EventJobCreated, json.RawMessage(raw))
	if string(ev.Payload) != raw {
		t.Errorf("expected raw passthrough, got %s", ev.Payload)
	}

	ev = b.Publish(models.TopicJobs, models.EventJobCreated, struct {
		K int `json:"k"`
	}{K: 7})
	if string(ev.Payload) != raw {
		t.Errorf("expected marshalled payload %s, got %s", raw, ev.Payload)
	}

	ev = b.Publish(models.TopicJobs, models.EventJobCreated, nil)
	if ev.Payload != nil {
		t.Errorf("expected nil payload, got %s", ev.Payload)
	}
}

func TestStartSequenceCapturedAtRegistration(t *testing.T) {
	b := New(1000)
	b.Publish(models.TopicJobs, models.EventJobCreated, nil)
	b.Publish(models.TopicJobs, models.EventJobCreated, nil)

	sub := b.Subscribe("cursor", 16)
	defer sub.Close()
	if got := sub.StartSequence(); got != 2 {
		t.Fatalf("expected start sequence 2, got %d", got)
	}

	// Publishes racing the registration must all land above the captured
	// start: the first delivered event is always start+1.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				b.Publish(models.TopicJobs, models.EventJobUpdated, nil)
			}
		}()
	}
	wg.Wait()

	want := sub.StartSequence() + 1
	for i := 0; i < 100; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Sequence != want {
				t.Fatalf("expected sequence %d, got %d", want, ev.Sequence)
			}
			want++
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSeedAfterSubscribeDeliversNextPublish(t *testing.T) {
	b := New(5)
	sub := b.Subscribe("early", 4)
	defer sub.Close()

	// The subscriber's cursor is 0 but nothing is retained; the goroutine
	// must jump forward instead of indexing the empty ring.
	b.SeedSequence(50)
	b.Publish(models.TopicJobs, models.EventJobCreated, nil)

	select {
	case ev := <-sub.Events():
		if ev.Sequence != 51 {
			t.Fatalf("expected sequence 51, got %d", ev.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-seed event")
	}
}
