package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finetune-portal/internal/relay"
)

// ErrSessionActive is returned when a run is started while another is still
// in flight.
var ErrSessionActive = errors.New("a training run is already in progress")

// ErrNotCancellable is returned when Cancel is called outside the pending or
// running stages.
var ErrNotCancellable = errors.New("no cancellable run in progress")

// Session drives one training run at a time: submission, stream relay, and
// cancellation against a single stage tracker.
type Session struct {
	client  *Client
	tracker *relay.Tracker
	onLog   func(string)

	// IdleTimeout is forwarded to the stream relay. Zero disables it.
	IdleTimeout time.Duration

	mu     sync.Mutex
	jobID  string
	userID string
	abort  context.CancelFunc
}

// NewSession constructs a session. onStage observes every accepted stage
// transition and onLog every stream log line; both may be nil.
func NewSession(c *Client, onStage func(relay.Stage), onLog func(string)) *Session {
	return &Session{
		client:  c,
		tracker: relay.NewTracker(onStage),
		onLog:   onLog,
	}
}

// Stage returns the current stage.
func (s *Session) Stage() relay.Stage {
	return s.tracker.Stage()
}

// JobID returns the predicted job id of the current or most recent run.
func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// Run submits a training run and blocks until its stream ends or is
// cancelled. On a clean stream end the completion has already been recorded
// with the portal when Run returns.
func (s *Session) Run(ctx context.Context, params TrainParams) error {
	if !s.tracker.Advance(relay.StageSubmitting) {
		return ErrSessionActive
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	stream, err := s.client.StartTraining(runCtx, params)
	if err != nil {
		s.tracker.Force(relay.StageFailed)
		return fmt.Errorf("start training: %w", err)
	}

	s.mu.Lock()
	s.jobID = stream.JobID
	s.userID = stream.UserID
	s.abort = abort
	s.mu.Unlock()

	r := &relay.Relay{
		JobID:       stream.JobID,
		Tracker:     s.tracker,
		OnLog:       s.onLog,
		Completer:   s.client,
		IdleTimeout: s.IdleTimeout,
	}
	err = r.Run(runCtx, stream.Body)

	s.mu.Lock()
	s.abort = nil
	s.mu.Unlock()

	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Aborted by Cancel; the cancel flow owns the stage and the error.
		return nil
	}
	return err
}

// Cancel stops the current run: it enters cancelling, aborts the local
// stream, asks the provider to stop the job, and always returns the stage to
// idle. A remote cancel failure is reported but never blocks the reset.
func (s *Session) Cancel(ctx context.Context) error {
	if !s.tracker.BeginCancel() {
		return ErrNotCancellable
	}
	defer s.tracker.Reset()

	s.mu.Lock()
	jobID, userID := s.jobID, s.userID
	abort := s.abort
	s.mu.Unlock()

	if abort != nil {
		abort()
	}
	if err := s.client.Cancel(ctx, userID, jobID); err != nil {
		return fmt.Errorf("remote cancel: %w", err)
	}
	return nil
}
