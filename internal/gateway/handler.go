// Package gateway implements the HTTP query and ingest surface over the
// four registries. Reads are stateless; every response embeds the bus
// sequence observed at read time so a client can splice streamed events
// onto a snapshot without gaps.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/approvals"
	"github.com/opsdeck/opsdeck/internal/bus"
	"github.com/opsdeck/opsdeck/internal/jobs"
	"github.com/opsdeck/opsdeck/internal/ledger"
	"github.com/opsdeck/opsdeck/internal/probe"
)

// Handler exposes the control-plane HTTP endpoints.
type Handler struct {
	bus       *bus.Bus
	jobs      *jobs.Registry
	approvals *approvals.Registry
	ledger    *ledger.Ledger
	probe     *probe.Probe
}

// New creates a Handler over the given registries.
func New(b *bus.Bus, j *jobs.Registry, a *approvals.Registry, l *ledger.Ledger, p *probe.Probe) *Handler {
	return &Handler{bus: b, jobs: j, approvals: a, ledger: l, probe: p}
}

// Routes mounts all gateway endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Get("/snapshot", h.Snapshot)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Post("/", h.RegisterJob)
		r.Get("/stats", h.JobStats)
		r.Get("/{id}", h.GetJob)
		r.Post("/{id}/transition", h.TransitionJob)
	})

	r.Route("/approvals", func(r chi.Router) {
		r.Get("/", h.ListApprovals)
		r.Post("/", h.CreateApproval)
		r.Get("/pending", h.ListPendingApprovals)
		r.Post("/{id}/approve", h.decideHandler(approvals.DecisionApprove))
		r.Post("/{id}/reject", h.decideHandler(approvals.DecisionReject))
	})

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/status", h.LedgerStatus)
		r.Get("/history", h.LedgerHistory)
		r.Post("/entries", h.AppendEntry)
	})
}

// ---------------------------------------------------------------------------
// Request / Response types
// ---------------------------------------------------------------------------

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Sequence uint64         `json:"sequence"`
	Snapshot probe.Snapshot `json:"snapshot"`
}

// JobsResponse is returned by GET /api/v1/jobs.
type JobsResponse struct {
	Sequence uint64     `json:"sequence"`
	Jobs     []jobs.Job `json:"jobs"`
}

// JobResponse is returned by job reads and mutations.
type JobResponse struct {
	Sequence uint64   `json:"sequence"`
	Job      jobs.Job `json:"job"`
}

// JobStatsResponse is returned by GET /api/v1/jobs/stats.
type JobStatsResponse struct {
	Sequence uint64             `json:"sequence"`
	Counts   map[jobs.State]int `json:"counts"`
}

// RegisterJobRequest is the body of POST /api/v1/jobs.
type RegisterJobRequest struct {
	Producer string          `json:"producer"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// TransitionRequest is the body of POST /api/v1/jobs/{id}/transition.
type TransitionRequest struct {
	State    jobs.State      `json:"state"`
	Progress *int            `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ApprovalsResponse is returned by the approval list endpoints.
type ApprovalsResponse struct {
	Sequence  uint64              `json:"sequence"`
	Approvals []approvals.Request `json:"approvals"`
}

// ApprovalResponse is returned by approval mutations.
type ApprovalResponse struct {
	Sequence uint64            `json:"sequence"`
	Approval approvals.Request `json:"approval"`
}

// CreateApprovalRequest is the body of POST /api/v1/approvals.
type CreateApprovalRequest struct {
	Subject    string `json:"subject"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// DecideRequest is the body of the approve/reject endpoints.
type DecideRequest struct {
	DeciderIdentity string `json:"decider_identity"`
}

// LedgerStatusResponse is returned by GET /api/v1/ledger/status.
type LedgerStatusResponse struct {
	Sequence uint64             `json:"sequence"`
	Budget   ledger.BudgetState `json:"budget"`
}

// LedgerHistoryResponse is returned by GET /api/v1/ledger/history.
type LedgerHistoryResponse struct {
	Sequence uint64         `json:"sequence"`
	Entries  []ledger.Entry `json:"entries"`
}

// AppendEntryRequest is the body of POST /api/v1/ledger/entries.
type AppendEntryRequest struct {
	Category string  `json:"category"`
	Service  string  `json:"service,omitempty"`
	Amount   float64 `json:"amount"`
}

// EntryResponse is returned by POST /api/v1/ledger/entries.
type EntryResponse struct {
	Sequence uint64       `json:"sequence"`
	Entry    ledger.Entry `json:"entry"`
}

// SnapshotResponse is the full baseline a client fetches before streaming.
type SnapshotResponse struct {
	Sequence  uint64              `json:"sequence"`
	Metrics   probe.Snapshot      `json:"metrics"`
	Jobs      []jobs.Job          `json:"jobs"`
	Approvals []approvals.Request `json:"approvals"`
	Budget    ledger.BudgetState  `json:"budget"`
}

type errorResponse struct {
	Error string `json:"error" example:"request already decided"`
	Kind  string `json:"kind,omitempty" example:"already_decided"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Status godoc
//
//	@Summary		Current health snapshot
//	@Description	Returns the newest metric snapshot with the bus sequence at read time.
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/api/v1/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	seq := h.bus.LastSequence()
	writeJSON(w, http.StatusOK, StatusResponse{
		Sequence: seq,
		Snapshot: h.probe.Current(),
	})
}

// Snapshot godoc
//
//	@Summary		Full state baseline
//	@Description	Returns all registry state plus the bus sequence, for connect-time sync.
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	SnapshotResponse
//	@Router			/api/v1/snapshot [get]
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	// Sequence is captured first: streamed events from this point may
	// already be reflected in the state below, and re-applying an event
	// to newer state is a no-op for every payload we emit.
	seq := h.bus.LastSequence()
	writeJSON(w, http.StatusOK, SnapshotResponse{
		Sequence:  seq,
		Metrics:   h.probe.Current(),
		Jobs:      h.jobs.Query(jobs.Filter{}),
		Approvals: h.approvals.List(false),
		Budget:    h.ledger.BudgetState(),
	})
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// ListJobs godoc
//
//	@Summary		List jobs
//	@Description	Returns jobs filtered by producer, state, and creation time, newest first.
//	@Tags			jobs
//	@Produce		json
//	@Param			producer	query		string	false	"Producer tag"
//	@Param			state		query		string	false	"Job state"	Enums(queued, running, succeeded, failed, cancelled)
//	@Param			since		query		string	false	"Created-at lower bound (RFC3339)"
//	@Success		200			{object}	JobsResponse
//	@Failure		400			{object}	errorResponse
//	@Router			/api/v1/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.Filter{Producer: r.URL.Query().Get("producer")}

	if raw := r.URL.Query().Get("state"); raw != "" {
		state := jobs.State(raw)
		if !state.Valid() {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", raw), "")
			return
		}
		filter.State = state
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid since: "+err.Error(), "")
			return
		}
		filter.Since = since
	}

	seq := h.bus.LastSequence()
	list := h.jobs.Query(filter)
	writeJSON(w, http.StatusOK, JobsResponse{Sequence: seq, Jobs: list})
}

// GetJob godoc
//
//	@Summary	Get one job
//	@Tags		jobs
//	@Produce	json
//	@Param		id	path		string	true	"Job ID"
//	@Success	200	{object}	JobResponse
//	@Failure	400	{object}	errorResponse
//	@Failure	404	{object}	errorResponse
//	@Router		/api/v1/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	seq := h.bus.LastSequence()
	job, err := h.jobs.Get(id)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Sequence: seq, Job: job})
}

// JobStats godoc
//
//	@Summary	Job counts per state
//	@Tags		jobs
//	@Produce	json
//	@Success	200	{object}	JobStatsResponse
//	@Router		/api/v1/jobs/stats [get]
func (h *Handler) JobStats(w http.ResponseWriter, r *http.Request) {
	seq := h.bus.LastSequence()
	writeJSON(w, http.StatusOK, JobStatsResponse{Sequence: seq, Counts: h.jobs.Stats()})
}

// RegisterJob godoc
//
//	@Summary	Register a job
//	@Tags		jobs
//	@Accept		json
//	@Produce	json
//	@Param		request	body		RegisterJobRequest	true	"Job registration"
//	@Success	201		{object}	JobResponse
//	@Failure	400		{object}	errorResponse
//	@Router		/api/v1/jobs [post]
func (h *Handler) RegisterJob(w http.ResponseWriter, r *http.Request) {
	var req RegisterJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "")
		return
	}
	if req.Producer == "" {
		writeErr(w, http.StatusBadRequest, "producer is required", "")
		return
	}

	job, err := h.jobs.Register(req.Producer, req.Payload)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	slog.Info("job registered", "job_id", job.ID, "producer", job.Producer)
	writeJSON(w, http.StatusCreated, JobResponse{Sequence: h.bus.LastSequence(), Job: job})
}

// TransitionJob godoc
//
//	@Summary		Report a job state transition
//	@Description	Applies a lifecycle transition. Violations return 409 with an error kind.
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Job ID"
//	@Param			request	body		TransitionRequest	true	"Transition report"
//	@Success		200		{object}	JobResponse
//	@Failure		400		{object}	errorResponse
//	@Failure		404		{object}	errorResponse
//	@Failure		409		{object}	errorResponse
//	@Router			/api/v1/jobs/{id}/transition [post]
func (h *Handler) TransitionJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "")
		return
	}
	if req.State == "" {
		writeErr(w, http.StatusBadRequest, "state is required", "")
		return
	}

	job, err := h.jobs.Transition(id, req.State, jobs.TransitionDetail{
		Progress: req.Progress,
		Result:   req.Result,
		Error:    req.Error,
	})
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}

	slog.Info("job transitioned", "job_id", job.ID, "state", job.State, "progress", job.Progress)
	writeJSON(w, http.StatusOK, JobResponse{Sequence: h.bus.LastSequence(), Job: job})
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

// ListApprovals godoc
//
//	@Summary	List approval requests
//	@Tags		approvals
//	@Produce	json
//	@Success	200	{object}	ApprovalsResponse
//	@Router		/api/v1/approvals [get]
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	seq := h.bus.LastSequence()
	writeJSON(w, http.StatusOK, ApprovalsResponse{Sequence: seq, Approvals: h.approvals.List(false)})
}

// ListPendingApprovals godoc
//
//	@Summary	List pending approval requests
//	@Tags		approvals
//	@Produce	json
//	@Success	200	{object}	ApprovalsResponse
//	@Router		/api/v1/approvals/pending [get]
func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	seq := h.bus.LastSequence()
	writeJSON(w, http.StatusOK, ApprovalsResponse{Sequence: seq, Approvals: h.approvals.List(true)})
}

// CreateApproval godoc
//
//	@Summary	Create an approval request
//	@Tags		approvals
//	@Accept		json
//	@Produce	json
//	@Param		request	body		CreateApprovalRequest	true	"Approval request"
//	@Success	201		{object}	ApprovalResponse
//	@Failure	400		{object}	errorResponse
//	@Router		/api/v1/approvals [post]
func (h *Handler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	var req CreateApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "")
		return
	}
	if req.Subject == "" {
		writeErr(w, http.StatusBadRequest, "subject is required", "")
		return
	}
	if req.TTLSeconds <= 0 {
		writeErr(w, http.StatusBadRequest, "ttl_seconds must be > 0", "")
		return
	}

	approval, err := h.approvals.Create(req.Subject, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	slog.Info("approval created", "request_id", approval.ID, "expires_at", approval.ExpiresAt)
	writeJSON(w, http.StatusCreated, ApprovalResponse{Sequence: h.bus.LastSequence(), Approval: approval})
}

// decideHandler builds the approve/reject handler for one decision.
//
//	@Summary		Decide an approval request
//	@Description	Records the terminal decision. A request decided or expired earlier returns 409 already_decided.
//	@Tags			approvals
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Request ID"
//	@Param			request	body		DecideRequest	true	"Decider identity"
//	@Success		200		{object}	ApprovalResponse
//	@Failure		400		{object}	errorResponse
//	@Failure		404		{object}	errorResponse
//	@Failure		409		{object}	errorResponse
//	@Router			/api/v1/approvals/{id}/approve [post]
func (h *Handler) decideHandler(decision approvals.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		var req DecideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "")
			return
		}
		if req.DeciderIdentity == "" {
			writeErr(w, http.StatusBadRequest, "decider_identity is required", "")
			return
		}

		approval, err := h.approvals.Decide(r.Context(), id, decision, req.DeciderIdentity)
		if err != nil {
			h.writeDomainErr(w, err)
			return
		}

		slog.Info("approval decided",
			"request_id", approval.ID,
			"state", approval.State,
			"decided_by", approval.DecidedBy,
		)
		writeJSON(w, http.StatusOK, ApprovalResponse{Sequence: h.bus.LastSequence(), Approval: approval})
	}
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// LedgerStatus godoc
//
//	@Summary	Current budget state
//	@Tags		ledger
//	@Produce	json
//	@Success	200	{object}	LedgerStatusResponse
//	@Router		/api/v1/ledger/status [get]
func (h *Handler) LedgerStatus(w http.ResponseWriter, r *http.Request) {
	seq := h.bus.LastSequence()
	writeJSON(w, http.StatusOK, LedgerStatusResponse{Sequence: seq, Budget: h.ledger.BudgetState()})
}

// LedgerHistory godoc
//
//	@Summary	Cost entry history
//	@Tags		ledger
//	@Produce	json
//	@Param		since	query		string	false	"Recorded-at lower bound (RFC3339)"
//	@Success	200		{object}	LedgerHistoryResponse
//	@Failure	400		{object}	errorResponse
//	@Router		/api/v1/ledger/history [get]
func (h *Handler) LedgerHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid since: "+err.Error(), "")
			return
		}
		since = parsed
	}

	seq := h.bus.LastSequence()
	writeJSON(w, http.StatusOK, LedgerHistoryResponse{Sequence: seq, Entries: h.ledger.History(since)})
}

// AppendEntry godoc
//
//	@Summary	Append a cost entry
//	@Tags		ledger
//	@Accept		json
//	@Produce	json
//	@Param		request	body		AppendEntryRequest	true	"Cost entry"
//	@Success	201		{object}	EntryResponse
//	@Failure	400		{object}	errorResponse
//	@Router		/api/v1/ledger/entries [post]
func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req AppendEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "")
		return
	}

	entry, err := h.ledger.Append(req.Category, req.Service, req.Amount)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}

	slog.Info("cost entry appended", "entry_id", entry.ID, "category", entry.Category, "amount", entry.Amount)
	writeJSON(w, http.StatusCreated, EntryResponse{Sequence: h.bus.LastSequence(), Entry: entry})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeDomainErr maps registry errors to status codes. State-machine
// violations become 409 with an explicit kind so clients can surface an
// actionable message rather than a generic failure.
func (h *Handler) writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, approvals.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, jobs.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error(), "invalid_transition")
	case errors.Is(err, jobs.ErrStaleTransition):
		writeErr(w, http.StatusConflict, err.Error(), "stale_transition")
	case errors.Is(err, approvals.ErrAlreadyDecided):
		writeErr(w, http.StatusConflict, err.Error(), "already_decided")
	case errors.Is(err, ledger.ErrInvalidEntry):
		writeErr(w, http.StatusBadRequest, err.Error(), "invalid_entry")
	case errors.Is(err, jobs.ErrInvalidProgress):
		writeErr(w, http.StatusBadRequest, err.Error(), "")
	default:
		slog.Error("registry operation failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error", "")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", raw), "")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
