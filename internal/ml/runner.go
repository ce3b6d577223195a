// Package ml runs the offline training/prediction job. The model itself
// lives in a python script; this side only exports events, spawns the
// process and parses its output.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/caresync/backend/internal/repository"
)

// RunError is the structured failure surfaced to the caller. A batch
// that cannot run is never reported as an empty result.
type RunError struct {
	Stage  string `json:"stage"`  // export, spawn, run, parse, script
	Detail string `json:"detail"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("ml %s failed: %s", e.Stage, e.Detail)
}

// exportedEvent matches what the training script expects on disk.
type exportedEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type scriptOutput struct {
	Error string `json:"error"`
}

type Runner struct {
	repo    repository.EventRepository
	python  string
	script  string
	timeout time.Duration
}

func NewRunner(repo repository.EventRepository, python, script string, timeout time.Duration) *Runner {
	return &Runner{
		repo:    repo,
		python:  python,
		script:  script,
		timeout: timeout,
	}
}

// Predict pulls every event, hands the full history to the script and
// returns the script's category→probability map. Synchronous; callers
// should expect it to take a while.
func (r *Runner) Predict(ctx context.Context) (map[string]float64, error) {
	events, err := r.repo.ListEvents(ctx)
	if err != nil {
		return nil, &RunError{Stage: "export", Detail: err.Error()}
	}
	if len(events) == 0 {
		return nil, &RunError{Stage: "export", Detail: "no events to train on"}
	}

	// ListEvents is newest-first; the script wants chronological order.
	exported := make([]exportedEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		exported = append(exported, exportedEvent{
			ID:        ev.ID,
			Type:      string(ev.Category),
			Timestamp: ev.OccurredAt.Format(time.RFC3339),
		})
	}

	tmp, err := os.CreateTemp("", "caresync_events_*.json")
	if err != nil {
		return nil, &RunError{Stage: "export", Detail: err.Error()}
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(exported); err != nil {
		tmp.Close()
		return nil, &RunError{Stage: "export", Detail: err.Error()}
	}
	if err := tmp.Close(); err != nil {
		return nil, &RunError{Stage: "export", Detail: err.Error()}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.python, r.script, tmp.Name())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, &RunError{Stage: "run", Detail: "training timed out"}
		}
		detail := err.Error()
		if stderr.Len() > 0 {
			detail = stderr.String()
		}
		return nil, &RunError{Stage: "run", Detail: detail}
	}

	// The script reports its own failures as {"error": "..."} on stdout.
	var selfReported scriptOutput
	if err := json.Unmarshal(stdout.Bytes(), &selfReported); err == nil && selfReported.Error != "" {
		return nil, &RunError{Stage: "script", Detail: selfReported.Error}
	}

	var probs map[string]float64
	if err := json.Unmarshal(stdout.Bytes(), &probs); err != nil {
		return nil, &RunError{Stage: "parse", Detail: fmt.Sprintf("invalid output: %v", err)}
	}
	if len(probs) == 0 {
		return nil, &RunError{Stage: "parse", Detail: "script produced no probabilities"}
	}

	return probs, nil
}
