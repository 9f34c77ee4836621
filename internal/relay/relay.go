// Package relay consumes the proxied provider event stream for one training
// session, reconciling the backend status vocabulary into the client-visible
// stage and notifying the ledger when a run finishes cleanly.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"finetune-portal/internal/models"
)

// Completer records the outcome of a finished run with the portal. The relay
// only ever reports completed; failures and cancellations leave no record.
type Completer interface {
	Complete(ctx context.Context, jobID, status, artifactKey string) error
}

// Event is one parsed line of the provider stream: a structured record with a
// log line and/or a status token, or a raw log line when the backend emitted
// unstructured text.
type Event struct {
	Log    string `json:"log"`
	Status string `json:"status"`
}

// parseEvent interprets a single stream line. SSE-framed lines have their
// data: prefix stripped. Lines that do not decode as JSON are kept verbatim
// as log text since backend log formatting is not fully structured.
func parseEvent(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if line == "" {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return Event{Log: line}, true
	}
	if ev.Log == "" && ev.Status == "" {
		// Structured record of some other shape; nothing to relay.
		return Event{}, false
	}
	return ev, true
}

// stageForStatus maps a backend status token to a stage. Tokens outside the
// staging vocabulary are ignored.
func stageForStatus(status string) (Stage, bool) {
	switch status {
	case models.StatusPending:
		return StagePending, true
	case models.StatusRunning:
		return StageRunning, true
	case models.StatusCompleted:
		return StageCompleted, true
	case models.StatusFailed:
		return StageFailed, true
	}
	return "", false
}

// Relay drives one stream for one job. Single producer (the provider
// stream), single consumer (Run).
type Relay struct {
	JobID   string
	Tracker *Tracker
	// OnLog receives each log line in stream order. Optional.
	OnLog func(string)
	// Completer is notified exactly once, on clean stream end. Optional.
	Completer Completer
	// IdleTimeout closes the stream when no line arrives for the given
	// span. Zero disables it; the provider stream otherwise runs as long
	// as the provider keeps it open.
	IdleTimeout time.Duration
}

// Run consumes the stream until it ends, closing it on every exit path.
// A clean end forces the stage to completed and records the completion; a
// read error forces failed and records nothing. Cancellation via ctx leaves
// stage handling to the cancelling flow.
func (r *Relay) Run(ctx context.Context, stream io.ReadCloser) error {
	defer stream.Close()

	var watchdog *time.Timer
	if r.IdleTimeout > 0 {
		watchdog = time.AfterFunc(r.IdleTimeout, func() { stream.Close() })
		defer watchdog.Stop()
	}

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(r.IdleTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, ok := parseEvent(scanner.Text())
		if !ok {
			continue
		}
		if ev.Log != "" && r.OnLog != nil {
			r.OnLog(ev.Log)
		}
		if ev.Status != "" {
			if stage, ok := stageForStatus(ev.Status); ok {
				r.Tracker.Advance(stage)
			}
		}
	}

	if ctx.Err() != nil {
		// Aborted locally; the canceller owns the stage.
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		r.Tracker.Force(StageFailed)
		return fmt.Errorf("read provider stream: %w", err)
	}

	r.Tracker.Force(StageCompleted)
	if r.Completer != nil {
		if err := r.Completer.Complete(ctx, r.JobID, models.StatusCompleted, ""); err != nil {
			return fmt.Errorf("record completion: %w", err)
		}
	}
	return nil
}
