package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsdeck/opsdeck/internal/approvals"
	"github.com/opsdeck/opsdeck/internal/jobs"
	"github.com/opsdeck/opsdeck/internal/ledger"
	"github.com/opsdeck/opsdeck/internal/models"
)

// Store manages event_log persistence and the entity projections derived
// from it. It is safe for concurrent use — all concurrency is handled by
// PostgreSQL, not by Go-level locks.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertBatch appends events to the log in one transaction and applies
// their entity projections. Replays of already-persisted sequences are
// counted as duplicates and skipped, projections included.
func (s *Store) InsertBatch(ctx context.Context, events []models.Event) (inserted, duplicates int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, queryInsertEvent)
	if err != nil {
		return 0, 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var ok bool
		err := stmt.QueryRowContext(ctx,
			ev.Sequence,
			string(ev.Topic),
			ev.Type,
			ev.Timestamp,
			payloadJSON(ev.Payload),
		).Scan(&ok)
		switch {
		case err == sql.ErrNoRows:
			duplicates++
			continue
		case err != nil:
			return 0, 0, fmt.Errorf("insert event %d: %w", ev.Sequence, err)
		default:
			inserted++
		}

		if err := s.project(ctx, tx, ev); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, duplicates, nil
}

// project maintains the per-entity tables from one event. Payloads that do
// not parse are logged and skipped — the raw event row is already written,
// so nothing is lost.
func (s *Store) project(ctx context.Context, tx *sql.Tx, ev models.Event) error {
	switch ev.Type {
	case models.EventJobCreated, models.EventJobUpdated:
		var job jobs.Job
		if err := json.Unmarshal(ev.Payload, &job); err != nil {
			slog.Error("unparseable job payload", "sequence", ev.Sequence, "error", err)
			return nil
		}
		_, err := tx.ExecContext(ctx, queryUpsertJob,
			job.ID,
			job.Producer,
			string(job.State),
			job.Progress,
			job.CreatedAt,
			job.UpdatedAt,
			payloadJSON(job.Result),
			nullStr(job.Error),
		)
		if err != nil {
			return fmt.Errorf("project job %s: %w", job.ID, err)
		}

	case models.EventApprovalCreated, models.EventApprovalDecided:
		var req approvals.Request
		if err := json.Unmarshal(ev.Payload, &req); err != nil {
			slog.Error("unparseable approval payload", "sequence", ev.Sequence, "error", err)
			return nil
		}
		_, err := tx.ExecContext(ctx, queryUpsertApproval,
			req.ID,
			req.Subject,
			string(req.State),
			req.RequestedAt,
			req.ExpiresAt,
			nullTime(req.DecidedAt),
			nullStr(req.DecidedBy),
		)
		if err != nil {
			return fmt.Errorf("project approval %s: %w", req.ID, err)
		}

	case models.EventLedgerEntry:
		var entry ledger.Entry
		if err := json.Unmarshal(ev.Payload, &entry); err != nil {
			slog.Error("unparseable cost entry payload", "sequence", ev.Sequence, "error", err)
			return nil
		}
		_, err := tx.ExecContext(ctx, queryInsertCostEntry,
			entry.ID,
			entry.Category,
			nullStr(entry.Service),
			entry.Amount,
			entry.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("project cost entry %s: %w", entry.ID, err)
		}
	}
	// metrics.updated and ledger.budget_changed are derived views; the
	// event row alone is enough.
	return nil
}

// MaxSequence returns the newest persisted sequence number, 0 when empty.
func (s *Store) MaxSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := s.db.QueryRowContext(ctx, queryMaxSequence).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return seq, nil
}

// Prune enforces the retention bounds: keep at most keepEvents events and
// nothing older than maxAge. Returns the number of rows deleted.
func (s *Store) Prune(ctx context.Context, keepEvents int, maxAge time.Duration) (int64, error) {
	var total int64

	if keepEvents > 0 {
		maxSeq, err := s.MaxSequence(ctx)
		if err != nil {
			return total, err
		}
		if maxSeq > uint64(keepEvents) {
			res, err := s.db.ExecContext(ctx, queryPruneBySeq, maxSeq-uint64(keepEvents))
			if err != nil {
				return total, fmt.Errorf("prune by sequence: %w", err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
	}

	if maxAge > 0 {
		res, err := s.db.ExecContext(ctx, queryPruneByAge, time.Now().UTC().Add(-maxAge))
		if err != nil {
			return total, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}

func payloadJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
