// Package eventlog persists the event stream and its entity projections to
// PostgreSQL behind a write-behind batching recorder.
package eventlog

// All SQL queries are collected here so they are easy to audit and test.
const (
	// queryInsertEvent appends one event to the log. ON CONFLICT makes
	// retries idempotent — a sequence number is only ever written once.
	// RETURNING true lets us distinguish inserts from no-ops at the Go layer.
	queryInsertEvent = `
INSERT INTO event_log (sequence, topic, event_type, ts, payload)
VALUES ($1, $2, $3, $4, $5::jsonb)
ON CONFLICT (sequence) DO NOTHING
RETURNING true`

	// queryMaxSequence reads the newest persisted sequence; used to seed
	// the bus counter after a restart.
	queryMaxSequence = `SELECT COALESCE(MAX(sequence), 0) FROM event_log`

	// queryPruneBySeq and queryPruneByAge bound the persisted replay
	// window: whichever bound is reached first wins.
	queryPruneBySeq = `DELETE FROM event_log WHERE sequence <= $1`
	queryPruneByAge = `DELETE FROM event_log WHERE ts < $1`

	// queryUpsertJob keeps the jobs projection current. The event stream
	// is the source of truth; the row always reflects the latest event.
	queryUpsertJob = `
INSERT INTO jobs (id, producer, state, progress, created_at, updated_at, result, error_detail)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
ON CONFLICT (id) DO UPDATE SET
    state        = EXCLUDED.state,
    progress     = EXCLUDED.progress,
    updated_at   = EXCLUDED.updated_at,
    result       = EXCLUDED.result,
    error_detail = EXCLUDED.error_detail`

	// queryUpsertApproval keeps the approval_requests projection current.
	queryUpsertApproval = `
INSERT INTO approval_requests (id, subject, state, requested_at, expires_at, decided_at, decided_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    state      = EXCLUDED.state,
    decided_at = EXCLUDED.decided_at,
    decided_by = EXCLUDED.decided_by`

	// queryInsertCostEntry appends one cost entry. Entries are immutable,
	// so conflicts are silently skipped.
	queryInsertCostEntry = `
INSERT INTO cost_entries (id, category, service, amount, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`
)
