// Package models contains shared domain structs used across packages.
package models

import (
	"encoding/json"
	"time"
)

// HealthResponse is returned by /healthz and /readyz endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Topic identifies which registry an event originated from. Clients
// subscribe to a subset of topics on the stream endpoint.
type Topic string

const (
	TopicMetrics   Topic = "metrics"
	TopicJobs      Topic = "jobs"
	TopicApprovals Topic = "approvals"
	TopicLedger    Topic = "ledger"
)

// KnownTopics lists every valid topic in a stable order.
var KnownTopics = []Topic{TopicMetrics, TopicJobs, TopicApprovals, TopicLedger}

// ValidTopic reports whether t is one of the known topics.
func ValidTopic(t Topic) bool {
	for _, k := range KnownTopics {
		if t == k {
			return true
		}
	}
	return false
}

// Event is the normalized envelope distributed to observers. Every
// state-changing operation on a registry publishes exactly one Event;
// the sequence number is globally unique and totally ordered.
type Event struct {
	Sequence  uint64          `json:"sequence"`
	Topic     Topic           `json:"topic"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Event type names. Kept in one place so producers, the event log
// projections, and tests agree on the wire strings.
const (
	EventMetricsUpdated      = "metrics.updated"
	EventJobCreated          = "job.created"
	EventJobUpdated          = "job.updated"
	EventApprovalCreated     = "approval.created"
	EventApprovalDecided     = "approval.decided"
	EventLedgerEntry         = "ledger.entry"
	EventLedgerBudgetChanged = "ledger.budget_changed"
)
