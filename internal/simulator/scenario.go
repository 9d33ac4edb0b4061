// Package simulator replays a scenario CSV against the control plane's
// ingest API, exercising job lifecycles, approval gates, and cost entries
// the way real producers would.
package simulator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Action names accepted in the scenario CSV.
const (
	ActionJobRegister    = "job_register"
	ActionJobProgress    = "job_progress"
	ActionJobSucceed     = "job_succeed"
	ActionJobFail        = "job_fail"
	ActionApprovalCreate = "approval_create"
	ActionApprovalDecide = "approval_decide"
	ActionCost           = "cost"
)

// Step is one parsed scenario row.
//
// Column meaning depends on the action:
//
//	job_register:    target = producer tag
//	job_progress:    amount = progress (0–100)
//	job_succeed:     —
//	job_fail:        detail = error message
//	approval_create: target = subject, amount = ttl seconds
//	approval_decide: target = decider identity, detail = approve|reject
//	cost:            target = category, amount = spend, detail = service
type Step struct {
	Action string
	Target string
	Amount float64
	Detail string
}

// csvHeader documents the expected column order.
var csvHeader = []string{"action", "target", "amount", "detail"}

// ReadScenario loads and parses a scenario CSV file. The header row is
// required; unknown actions fail loading rather than mid-replay.
func ReadScenario(path string) ([]Step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read scenario header: %w", err)
	}

	var steps []Step
	lineNum := 1
	for {
		lineNum++
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scenario line %d: %w", lineNum, err)
		}
		if len(record) < len(csvHeader) {
			return nil, fmt.Errorf("scenario line %d: expected %d fields, got %d", lineNum, len(csvHeader), len(record))
		}

		step := Step{
			Action: strings.TrimSpace(record[0]),
			Target: strings.TrimSpace(record[1]),
			Detail: strings.TrimSpace(record[3]),
		}
		if raw := strings.TrimSpace(record[2]); raw != "" {
			step.Amount, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("scenario line %d: amount %q: %w", lineNum, raw, err)
			}
		}

		switch step.Action {
		case ActionJobRegister, ActionJobProgress, ActionJobSucceed, ActionJobFail,
			ActionApprovalCreate, ActionApprovalDecide, ActionCost:
		default:
			return nil, fmt.Errorf("scenario line %d: unknown action %q", lineNum, step.Action)
		}
		steps = append(steps, step)
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("scenario %q contains no steps", path)
	}
	return steps, nil
}
