package relay

import "sync"

// Stage is the client-visible lifecycle of a training session. It is coarser
// than the backend status vocabulary and includes the transient UI-only
// states submitting and cancelling.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageSubmitting Stage = "submitting"
	StagePending    Stage = "pending"
	StageRunning    Stage = "running"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageCancelling Stage = "cancelling"
)

// rank orders the forward path idle -> submitting -> pending -> running ->
// terminal. Cancelling sits outside the order.
func rank(s Stage) int {
	switch s {
	case StageIdle:
		return 0
	case StageSubmitting:
		return 1
	case StagePending:
		return 2
	case StageRunning:
		return 3
	case StageCompleted, StageFailed:
		return 4
	}
	return -1
}

func active(s Stage) bool {
	return s == StageSubmitting || s == StagePending || s == StageRunning
}

// Tracker holds the stage behind a monotonic guard. Once a session has left
// idle only forward transitions are accepted, so a stale duplicate status or
// a late idle->submitting race cannot regress the stage.
type Tracker struct {
	mu       sync.Mutex
	stage    Stage
	onChange func(Stage)
}

// NewTracker starts at idle. onChange fires on every accepted transition and
// may be nil.
func NewTracker(onChange func(Stage)) *Tracker {
	return &Tracker{stage: StageIdle, onChange: onChange}
}

// Stage returns the current stage.
func (t *Tracker) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// Advance moves the stage forward. It accepts idle -> submitting and any
// strictly forward move from an active stage; everything else is dropped and
// reported false.
func (t *Tracker) Advance(next Stage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.stage == StageIdle && next == StageSubmitting:
	case active(t.stage) && rank(next) > rank(t.stage):
	default:
		return false
	}
	t.set(next)
	return true
}

// Force pins a terminal stage at stream end. It only applies while the
// session is active; after a cancel reset or an earlier terminal it is a
// no-op.
func (t *Tracker) Force(terminal Stage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !active(t.stage) {
		return false
	}
	t.set(terminal)
	return true
}

// BeginCancel enters cancelling, which is reachable from pending or running
// only.
func (t *Tracker) BeginCancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage != StagePending && t.stage != StageRunning {
		return false
	}
	t.set(StageCancelling)
	return true
}

// Reset returns to idle unconditionally. Cancellation always ends here, no
// matter how the remote cancel call went.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(StageIdle)
}

func (t *Tracker) set(next Stage) {
	if t.stage == next {
		return
	}
	t.stage = next
	if t.onChange != nil {
		t.onChange(next)
	}
}
