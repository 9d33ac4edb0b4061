package simulator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck/internal/config"
	"github.com/opsdeck/opsdeck/internal/httpx"
)

// ---------------------------------------------------------------------------
// Types mirroring the control plane's ingest API (local to this package).
// ---------------------------------------------------------------------------

type registerJobRequest struct {
	Producer string `json:"producer"`
}

type transitionRequest struct {
	State    string `json:"state"`
	Progress *int   `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

type jobResponse struct {
	Sequence uint64 `json:"sequence"`
	Job      struct {
		ID    uuid.UUID `json:"id"`
		State string    `json:"state"`
	} `json:"job"`
}

type createApprovalRequest struct {
	Subject    string `json:"subject"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type decideRequest struct {
	DeciderIdentity string `json:"decider_identity"`
}

type approvalResponse struct {
	Sequence uint64 `json:"sequence"`
	Approval struct {
		ID    uuid.UUID `json:"id"`
		State string    `json:"state"`
	} `json:"approval"`
}

type appendEntryRequest struct {
	Category string  `json:"category"`
	Service  string  `json:"service,omitempty"`
	Amount   float64 `json:"amount"`
}

// ---------------------------------------------------------------------------
// Run – main entry point for the replay loop
// ---------------------------------------------------------------------------

// Run loads the scenario and starts the reader → channel → sender pipeline.
// It blocks until ctx is cancelled, looping over the scenario indefinitely.
func Run(ctx context.Context, cfg config.Simulator, client *httpx.Client) {
	steps, err := ReadScenario(cfg.ScenarioPath)
	if err != nil {
		slog.Error("failed to load scenario", "error", err, "path", cfg.ScenarioPath)
		return
	}
	slog.Info("scenario loaded",
		"steps", len(steps),
		"path", cfg.ScenarioPath,
		"interval_ms", cfg.IntervalMS,
		"target", cfg.TargetURL,
	)

	// Buffered channel: the pacing loop never blocks waiting for an HTTP
	// call to finish.
	stepCh := make(chan Step, cfg.ChannelBuffer)

	// Sender goroutine – owns the HTTP client and the entity ids obtained
	// from ingest responses, so follow-up steps can reference them.
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		s := &sender{client: client, baseURL: cfg.TargetURL}
		for step := range stepCh {
			s.execute(ctx, step)
		}
	}()

	readLoop(ctx, steps, cfg.IntervalMS, stepCh)

	close(stepCh)
	<-doneCh
}

// readLoop paces the scenario, sending one step per interval and restarting
// from the top when the scenario runs out.
func readLoop(ctx context.Context, steps []Step, intervalMS int, out chan<- Step) {
	interval := time.Duration(intervalMS) * time.Millisecond

	for {
		for _, step := range steps {
			select {
			case out <- step:
			case <-ctx.Done():
				return
			}

			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
		}
		slog.Info("scenario completed, restarting from beginning")
	}
}

// ---------------------------------------------------------------------------
// Sender goroutine
// ---------------------------------------------------------------------------

// sender executes steps against the ingest API. It remembers the most
// recently created job and approval so later steps can act on them without
// the CSV carrying ids.
type sender struct {
	client  *httpx.Client
	baseURL string

	lastJob      uuid.UUID
	lastApproval uuid.UUID
}

func (s *sender) execute(ctx context.Context, step Step) {
	start := time.Now()

	var err error
	switch step.Action {
	case ActionJobRegister:
		err = s.registerJob(ctx, step.Target)
	case ActionJobProgress:
		p := int(step.Amount)
		err = s.transition(ctx, transitionRequest{State: "running", Progress: &p})
	case ActionJobSucceed:
		err = s.transition(ctx, transitionRequest{State: "succeeded"})
	case ActionJobFail:
		err = s.transition(ctx, transitionRequest{State: "failed", Error: step.Detail})
	case ActionApprovalCreate:
		err = s.createApproval(ctx, step.Target, int(step.Amount))
	case ActionApprovalDecide:
		err = s.decide(ctx, step.Target, step.Detail)
	case ActionCost:
		err = s.appendCost(ctx, step.Target, step.Detail, step.Amount)
	}

	if err != nil {
		slog.Error("step failed",
			"action", step.Action,
			"target", step.Target,
			"error", err,
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	slog.Info("step applied",
		"action", step.Action,
		"target", step.Target,
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

func (s *sender) registerJob(ctx context.Context, producer string) error {
	var resp jobResponse
	err := s.client.PostJSON(ctx, s.baseURL+"/api/v1/jobs", registerJobRequest{Producer: producer}, &resp)
	if err != nil {
		return err
	}
	s.lastJob = resp.Job.ID
	return nil
}

func (s *sender) transition(ctx context.Context, req transitionRequest) error {
	if s.lastJob == uuid.Nil {
		return fmt.Errorf("no job registered yet")
	}
	url := fmt.Sprintf("%s/api/v1/jobs/%s/transition", s.baseURL, s.lastJob)
	var resp jobResponse
	return s.client.PostJSON(ctx, url, req, &resp)
}

func (s *sender) createApproval(ctx context.Context, subject string, ttlSeconds int) error {
	var resp approvalResponse
	err := s.client.PostJSON(ctx, s.baseURL+"/api/v1/approvals", createApprovalRequest{
		Subject:    subject,
		TTLSeconds: ttlSeconds,
	}, &resp)
	if err != nil {
		return err
	}
	s.lastApproval = resp.Approval.ID
	return nil
}

func (s *sender) decide(ctx context.Context, decider, decision string) error {
	if s.lastApproval == uuid.Nil {
		return fmt.Errorf("no approval created yet")
	}
	if decision != "approve" && decision != "reject" {
		return fmt.Errorf("unknown decision %q", decision)
	}
	url := fmt.Sprintf("%s/api/v1/approvals/%s/%s", s.baseURL, s.lastApproval, decision)
	var resp approvalResponse
	return s.client.PostJSON(ctx, url, decideRequest{DeciderIdentity: decider}, &resp)
}

func (s *sender) appendCost(ctx context.Context, category, service string, amount float64) error {
	var resp struct {
		Sequence uint64 `json:"sequence"`
	}
	return s.client.PostJSON(ctx, s.baseURL+"/api/v1/ledger/entries", appendEntryRequest{
		Category: category,
		Service:  service,
		Amount:   amount,
	}, &resp)
}

// Healthy returns nil when the control plane is reachable.
func Healthy(ctx context.Context, client *httpx.Client, baseURL string) error {
	resp, err := client.Get(ctx, baseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("controlplane healthz: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("controlplane healthz: status %d", resp.StatusCode)
	}
	return nil
}
