// Package ledger owns the append-only cost record and the budget state
// derived from it. Alert levels are recomputed from the entry history plus
// the configured caps — never incrementally mutated — so replaying the same
// entries always yields the same result.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/config"
	"github.com/opsdeck/opsdeck/internal/models"
)

// AlertLevel classifies budget utilization against a cap.
type AlertLevel string

const (
	LevelNormal   AlertLevel = "normal"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Warning fires at this fraction of the cap; Critical at the cap itself.
const warningFraction = 0.8

// ErrInvalidEntry is returned for malformed appends (negative amount,
// missing category).
var ErrInvalidEntry = errors.New("invalid cost entry")

// Entry is one immutable cost record.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Category   string    `json:"category"`
	Service    string    `json:"service"`
	Amount     float64   `json:"amount"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CategoryBudget is the derived utilization of one category (or the global
// rollup). Cap 0 means uncapped: totals accumulate but never alert.
type CategoryBudget struct {
	Category string     `json:"category,omitempty"`
	Total    float64    `json:"total"`
	Cap      float64    `json:"cap"`
	Level    AlertLevel `json:"level"`
}

// BudgetState is the full derived budget view.
type BudgetState struct {
	Global     CategoryBudget   `json:"global"`
	Categories []CategoryBudget `json:"categories"`
}

// BudgetChange is the payload of a ledger.budget_changed event.
type BudgetChange struct {
	Scope    string     `json:"scope"` // "category" or "global"
	Category string     `json:"category,omitempty"`
	Total    float64    `json:"total"`
	Cap      float64    `json:"cap"`
	Level    AlertLevel `json:"level"`
	Previous AlertLevel `json:"previous"`
}

// Publisher is the slice of the bus the ledger needs.
type Publisher interface {
	Publish(topic models.Topic, eventType string, payload any) models.Event
}

// Ledger owns the entry history.
type Ledger struct {
	pub    Publisher
	policy config.BudgetPolicy

	mu      sync.Mutex
	entries []Entry

	// last published level per category plus the global rollup; used only
	// to detect crossings so each boundary emits exactly one event.
	levels      map[string]AlertLevel
	globalLevel AlertLevel
}

// New creates an empty Ledger with the given caps.
func New(pub Publisher, policy config.BudgetPolicy) *Ledger {
	return &Ledger{
		pub:         pub,
		policy:      policy,
		levels:      make(map[string]AlertLevel),
		globalLevel: LevelNormal,
	}
}

// Append records a cost entry and publishes ledger.entry, followed by
// ledger.budget_changed for any alert level the entry moved across a
// boundary (in either direction — though entries only ever add).
func (l *Ledger) Append(category, service string, amount float64) (Entry, error) {
	if category == "" {
		return Entry{}, fmt.Errorf("%w: category is required", ErrInvalidEntry)
	}
	if amount < 0 {
		return Entry{}, fmt.Errorf("%w: amount %.2f is negative", ErrInvalidEntry, amount)
	}

	entry := Entry{
		ID:         uuid.New(),
		Category:   category,
		Service:    service,
		Amount:     amount,
		RecordedAt: time.Now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	l.pub.Publish(models.TopicLedger, models.EventLedgerEntry, entry)

	state := Compute(l.entries, l.policy)

	prev, seen := l.levels[category]
	if !seen {
		prev = LevelNormal
	}
	cat := state.category(category)
	if cat.Level != prev {
		l.levels[category] = cat.Level
		l.pub.Publish(models.TopicLedger, models.EventLedgerBudgetChanged, BudgetChange{
			Scope:    "category",
			Category: category,
			Total:    cat.Total,
			Cap:      cat.Cap,
			Level:    cat.Level,
			Previous: prev,
		})
	}

	if state.Global.Level != l.globalLevel {
		prevGlobal := l.globalLevel
		l.globalLevel = state.Global.Level
		l.pub.Publish(models.TopicLedger, models.EventLedgerBudgetChanged, BudgetChange{
			Scope:    "global",
			Total:    state.Global.Total,
			Cap:      state.Global.Cap,
			Level:    state.Global.Level,
			Previous: prevGlobal,
		})
	}

	return entry, nil
}

// BudgetState recomputes the full derived budget view.
func (l *Ledger) BudgetState() BudgetState {
	l.mu.Lock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	return Compute(entries, l.policy)
}

// CategoryState recomputes one category's budget.
func (l *Ledger) CategoryState(category string) CategoryBudget {
	cb := l.BudgetState().category(category)
	if cb.Cap == 0 {
		cb.Cap = l.policy.Caps[category]
	}
	return cb
}

// History returns entries recorded at or after since, oldest first.
func (l *Ledger) History(since time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if !since.IsZero() && e.RecordedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Compute derives the budget state from an entry history and caps. It is a
// pure function: same entries, same caps, same result.
func Compute(entries []Entry, policy config.BudgetPolicy) BudgetState {
	totals := make(map[string]float64)
	var global float64
	for _, e := range entries {
		totals[e.Category] += e.Amount
		global += e.Amount
	}

	cats := make([]CategoryBudget, 0, len(totals))
	for cat, total := range totals {
		cap := policy.Caps[cat]
		cats = append(cats, CategoryBudget{
			Category: cat,
			Total:    total,
			Cap:      cap,
			Level:    levelFor(total, cap),
		})
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Category < cats[j].Category })

	return BudgetState{
		Global: CategoryBudget{
			Total: global,
			Cap:   policy.GlobalCap,
			Level: levelFor(global, policy.GlobalCap),
		},
		Categories: cats,
	}
}

// levelFor classifies a running total against a cap. Uncapped totals never
// alert.
func levelFor(total, cap float64) AlertLevel {
	if cap <= 0 {
		return LevelNormal
	}
	switch {
	case total >= cap:
		return LevelCritical
	case total >= cap*warningFraction:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// category finds one category in a computed state, defaulting to an empty
// normal budget for categories with no entries yet.
func (s BudgetState) category(name string) CategoryBudget {
	for _, c := range s.Categories {
		if c.Category == name {
			return c
		}
	}
	return CategoryBudget{Category: name, Level: LevelNormal}
}
