package eventlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsdeck/opsdeck/internal/bus"
	"github.com/opsdeck/opsdeck/internal/metrics"
	"github.com/opsdeck/opsdeck/internal/models"
)

// Recorder decouples event publishing from PostgreSQL writes by collecting
// bus events in memory and flushing them asynchronously in larger batches.
//
// It uses the owner-goroutine pattern (no mutexes): Run is the only
// reader/writer of the pending slice.
type Recorder struct {
	store *Store

	maxBatch      int
	flushInterval time.Duration

	retainEvents  int
	retainAge     time.Duration
	pruneInterval time.Duration
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	MaxBatch      int
	FlushInterval time.Duration
	RetainEvents  int
	RetainAge     time.Duration
	PruneInterval time.Duration
}

// NewRecorder creates a Recorder. Start it with go rec.Run(sub).
func NewRecorder(store *Store, opts RecorderOptions) *Recorder {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Minute
	}
	return &Recorder{
		store:         store,
		maxBatch:      opts.MaxBatch,
		flushInterval: opts.FlushInterval,
		retainEvents:  opts.RetainEvents,
		retainAge:     opts.RetainAge,
		pruneInterval: opts.PruneInterval,
	}
}

// Run consumes the subscription until its channel closes (bus shutdown),
// then flushes whatever is pending and returns. Closing the bus is the
// graceful way to drain the recorder.
func (r *Recorder) Run(sub *bus.Subscription) {
	var pending []models.Event

	flushTimer := time.NewTimer(r.flushInterval)
	defer flushTimer.Stop()

	pruneTicker := time.NewTicker(r.pruneInterval)
	defer pruneTicker.Stop()

	doFlush := func() {
		if len(pending) == 0 {
			return
		}
		r.flushWithRetry(pending)
		pending = pending[:0]

		if !flushTimer.Stop() {
			select {
			case <-flushTimer.C:
			default:
			}
		}
		flushTimer.Reset(r.flushInterval)
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Bus closed — drain remaining events and exit.
				doFlush()
				return
			}
			pending = append(pending, ev)
			if len(pending) >= r.maxBatch {
				doFlush()
			}

		case <-flushTimer.C:
			doFlush()
			flushTimer.Reset(r.flushInterval)

		case <-pruneTicker.C:
			r.prune()
		}
	}
}

// flushWithRetry calls Store.InsertBatch with a simple retry (up to 3
// attempts with exponential backoff) to tolerate transient DB errors.
// Inserts are idempotent on sequence, so retries never duplicate.
func (r *Recorder) flushWithRetry(events []models.Event) {
	const maxRetries = 3
	backoff := 50 * time.Millisecond

	start := time.Now()
	for attempt := 0; attempt < maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		inserted, duplicates, err := r.store.InsertBatch(ctx, events)
		cancel()

		if err == nil {
			metrics.ObserveFlush(time.Since(start))
			slog.Debug("event log flushed",
				"inserted", inserted,
				"duplicates", duplicates,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return
		}

		slog.Warn("event log flush retry",
			"attempt", attempt+1,
			"events", len(events),
			"error", err,
		)
		time.Sleep(backoff)
		backoff *= 2
	}

	// The in-memory registries stay authoritative; a lost batch costs
	// durable replay history, not live state.
	slog.Error("event log flush failed, dropping batch", "events", len(events))
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := r.store.Prune(ctx, r.retainEvents, r.retainAge)
	if err != nil {
		slog.Error("event log prune failed", "error", err)
		return
	}
	if deleted > 0 {
		metrics.EventsPruned(deleted)
		slog.Info("event log pruned", "deleted", deleted)
	}
}
