package gateway_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/approvals"
	"github.com/opsdeck/opsdeck/internal/bus"
	"github.com/opsdeck/opsdeck/internal/config"
	"github.com/opsdeck/opsdeck/internal/gateway"
	"github.com/opsdeck/opsdeck/internal/jobs"
	"github.com/opsdeck/opsdeck/internal/ledger"
	"github.com/opsdeck/opsdeck/internal/probe"
)

type fixture struct {
	router    *chi.Mux
	bus       *bus.Bus
	jobs      *jobs.Registry
	approvals *approvals.Registry
	ledger    *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	b := bus.New(1000)
	j := jobs.NewRegistry(b)
	a := approvals.NewRegistry(b, nil)
	l := ledger.New(b, config.BudgetPolicy{
		GlobalCap: 1000,
		Caps:      map[string]float64{"compute": 100},
	})
	p := probe.New(b, probe.NewHTTPChecker(time.Second), probe.RuntimeSource{}, probe.Options{})

	h := gateway.New(b, j, a, l, p)
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)

	return &fixture{router: r, bus: b, jobs: j, approvals: a, ledger: l}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/jobs", gateway.RegisterJobRequest{
		Producer: "deploy-bot",
		Payload:  json.RawMessage(`{"target":"prod"}`),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[gateway.JobResponse](t, w)
	if created.Job.State != jobs.StateQueued {
		t.Errorf("expected queued, got %s", created.Job.State)
	}
	if created.Sequence == 0 {
		t.Error("expected a non-zero sequence in the response")
	}

	progress := 30
	w = f.do(t, http.MethodPost, "/api/v1/jobs/"+created.Job.ID.String()+"/transition", gateway.TransitionRequest{
		State:    jobs.StateRunning,
		Progress: &progress,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	running := decode[gateway.JobResponse](t, w)
	if running.Job.State != jobs.StateRunning || running.Job.Progress != 30 {
		t.Errorf("unexpected job after transition: %+v", running.Job)
	}

	w = f.do(t, http.MethodGet, "/api/v1/jobs/"+created.Job.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestTransitionConflicts(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/jobs", gateway.RegisterJobRequest{Producer: "p"})
	created := decode[gateway.JobResponse](t, w)
	id := created.Job.ID.String()

	f.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/transition", gateway.TransitionRequest{State: jobs.StateSucceeded})

	tests := []struct {
		name     string
		path     string
		body     any
		status   int
		wantKind string
	}{
		{
			name:     "terminal job rejects transition",
			path:     "/api/v1/jobs/" + id + "/transition",
			body:     gateway.TransitionRequest{State: jobs.StateRunning},
			status:   http.StatusConflict,
			wantKind: "invalid_transition",
		},
		{
			name:   "unknown job",
			path:   "/api/v1/jobs/" + uuid.NewString() + "/transition",
			body:   gateway.TransitionRequest{State: jobs.StateRunning},
			status: http.StatusNotFound,
		},
		{
			name:   "malformed id",
			path:   "/api/v1/jobs/not-a-uuid/transition",
			body:   gateway.TransitionRequest{State: jobs.StateRunning},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing state",
			path:   "/api/v1/jobs/" + id + "/transition",
			body:   map[string]string{},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.wantKind != "" {
				var resp struct {
					Kind string `json:"kind"`
				}
				json.NewDecoder(w.Body).Decode(&resp)
				if resp.Kind != tt.wantKind {
					t.Errorf("expected kind %q, got %q", tt.wantKind, resp.Kind)
				}
			}
		})
	}
}

func TestListJobsFilters(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/jobs", gateway.RegisterJobRequest{Producer: "alpha"})
	f.do(t, http.MethodPost, "/api/v1/jobs", gateway.RegisterJobRequest{Producer: "beta"})

	tests := []struct {
		name   string
		query  string
		status int
		want   int
	}{
		{name: "all", query: "", status: http.StatusOK, want: 2},
		{name: "by producer", query: "?producer=alpha", status: http.StatusOK, want: 1},
		{name: "by state", query: "?state=queued", status: http.StatusOK, want: 2},
		{name: "unknown state", query: "?state=bogus", status: http.StatusBadRequest},
		{name: "bad since", query: "?since=yesterday", status: http.StatusBadRequest},
		{name: "future since", query: "?since=" + time.Now().Add(time.Hour).UTC().Format(time.RFC3339), status: http.StatusOK, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/jobs"+tt.query, nil)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK {
				resp := decode[gateway.JobsResponse](t, w)
				if len(resp.Jobs) != tt.want {
					t.Errorf("expected %d jobs, got %d", tt.want, len(resp.Jobs))
				}
			}
		})
	}
}

func TestApprovalDecisionOverHTTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/approvals", gateway.CreateApprovalRequest{
		Subject:    "rotate credentials",
		TTLSeconds: 60,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[gateway.ApprovalResponse](t, w)
	id := created.Approval.ID.String()

	w = f.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/approve", gateway.DecideRequest{DeciderIdentity: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	decided := decode[gateway.ApprovalResponse](t, w)
	if decided.Approval.State != approvals.StateApproved {
		t.Errorf("expected approved, got %s", decided.Approval.State)
	}

	// The second decision conflicts with an explicit kind.
	w = f.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/reject", gateway.DecideRequest{DeciderIdentity: "bob"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Kind string `json:"kind"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Kind != "already_decided" {
		t.Errorf("expected kind already_decided, got %q", resp.Kind)
	}

	w = f.do(t, http.MethodGet, "/api/v1/approvals/pending", nil)
	pending := decode[gateway.ApprovalsResponse](t, w)
	if len(pending.Approvals) != 0 {
		t.Errorf("expected no pending approvals, got %d", len(pending.Approvals))
	}
}

func TestApprovalValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body gateway.CreateApprovalRequest
	}{
		{name: "missing subject", body: gateway.CreateApprovalRequest{TTLSeconds: 60}},
		{name: "zero ttl", body: gateway.CreateApprovalRequest{Subject: "s"}},
		{name: "negative ttl", body: gateway.CreateApprovalRequest{Subject: "s", TTLSeconds: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/approvals", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestLedgerOverHTTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/ledger/entries", gateway.AppendEntryRequest{
		Category: "compute",
		Service:  "trainer",
		Amount:   90,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/api/v1/ledger/entries", gateway.AppendEntryRequest{Category: "compute", Amount: -1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", w.Code)
	}
	var resp struct {
		Kind string `json:"kind"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Kind != "invalid_entry" {
		t.Errorf("expected kind invalid_entry, got %q", resp.Kind)
	}

	w = f.do(t, http.MethodGet, "/api/v1/ledger/status", nil)
	status := decode[gateway.LedgerStatusResponse](t, w)
	if len(status.Budget.Categories) != 1 {
		t.Fatalf("expected 1 category, got %d", len(status.Budget.Categories))
	}
	if got := status.Budget.Categories[0].Level; got != ledger.LevelWarning {
		t.Errorf("expected warning at 90/100, got %s", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/ledger/history", nil)
	history := decode[gateway.LedgerHistoryResponse](t, w)
	if len(history.Entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(history.Entries))
	}
}

func TestSnapshotEmbedsSequence(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/jobs", gateway.RegisterJobRequest{Producer: "p"})
	f.do(t, http.MethodPost, "/api/v1/ledger/entries", gateway.AppendEntryRequest{Category: "compute", Amount: 1})

	w := f.do(t, http.MethodGet, "/api/v1/snapshot", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	snap := decode[gateway.SnapshotResponse](t, w)
	if snap.Sequence != f.bus.LastSequence() {
		t.Errorf("expected sequence %d, got %d", f.bus.LastSequence(), snap.Sequence)
	}
	if len(snap.Jobs) != 1 {
		t.Errorf("expected 1 job in snapshot, got %d", len(snap.Jobs))
	}
	if snap.Budget.Global.Total != 1 {
		t.Errorf("expected global total 1, got %.2f", snap.Budget.Global.Total)
	}
}

func TestJobStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/jobs", gateway.RegisterJobRequest{Producer: "p"})

	w := f.do(t, http.MethodGet, "/api/v1/jobs/stats", nil)
	stats := decode[gateway.JobStatsResponse](t, w)
	if stats.Counts[jobs.StateQueued] != 1 {
		t.Errorf("expected 1 queued, got %d", stats.Counts[jobs.StateQueued])
	}
	if _, ok := stats.Counts[jobs.StateFailed]; !ok {
		t.Error("expected zero counts to be present")
	}
}
