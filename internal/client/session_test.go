package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"finetune-portal/internal/relay"
)

// portalStub emulates the portal API for session tests: a scripted /train
// stream plus recording /cancel and /jobs/complete handlers.
type portalStub struct {
	mu            sync.Mutex
	streamLines   []string
	holdStream    bool // keep the stream open until the request is aborted
	cancelStatus  int
	cancelCalls   []map[string]string
	completeCalls []map[string]string
}

func (p *portalStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/train", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Job-Id", "5")
		w.Header().Set("X-User-Id", "user-1")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		f := w.(http.Flusher)
		for _, line := range p.streamLines {
			io.WriteString(w, line+"\n")
			f.Flush()
		}
		if p.holdStream {
			<-r.Context().Done()
		}
	})
	mux.HandleFunc("/cancel", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.cancelCalls = append(p.cancelCalls, body)
		p.mu.Unlock()
		status := p.cancelStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, `{"success":true}`)
	})
	mux.HandleFunc("/jobs/complete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.completeCalls = append(p.completeCalls, body)
		p.mu.Unlock()
		io.WriteString(w, `{"success":true}`)
	})
	return mux
}

func (p *portalStub) cancels() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]string(nil), p.cancelCalls...)
}

func (p *portalStub) completes() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]string(nil), p.completeCalls...)
}

func waitForStage(t *testing.T, s *Session, want relay.Stage) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stage() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stage = %s, never reached %s", s.Stage(), want)
}

func TestSessionCleanRun(t *testing.T) {
	stub := &portalStub{streamLines: []string{
		`data: {"status":"pending"}`,
		`data: {"log":"epoch 1/2"}`,
		`data: {"status":"running"}`,
		`data: {"log":"epoch 2/2"}`,
	}}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	var stages []relay.Stage
	var logs []string
	var mu sync.Mutex
	s := NewSession(New(ts.URL, "tok"),
		func(st relay.Stage) { mu.Lock(); stages = append(stages, st); mu.Unlock() },
		func(l string) { mu.Lock(); logs = append(logs, l); mu.Unlock() },
	)

	if err := s.Run(context.Background(), TrainParams{Rank: 4, Checkpoint: "tiny", Dataset: "TIG", Epochs: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := s.Stage(); got != relay.StageCompleted {
		t.Errorf("final stage = %s, want completed", got)
	}
	wantStages := []relay.Stage{relay.StageSubmitting, relay.StagePending, relay.StageRunning, relay.StageCompleted}
	mu.Lock()
	defer mu.Unlock()
	if len(stages) != len(wantStages) {
		t.Fatalf("stages = %v, want %v", stages, wantStages)
	}
	for i := range wantStages {
		if stages[i] != wantStages[i] {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i], wantStages[i])
		}
	}
	if len(logs) != 2 || !strings.Contains(logs[0], "epoch 1/2") {
		t.Errorf("logs = %v", logs)
	}

	// Exactly one completion, for the predicted job id.
	completes := stub.completes()
	if len(completes) != 1 {
		t.Fatalf("completion calls = %d, want 1", len(completes))
	}
	if completes[0]["jobId"] != "5" || completes[0]["status"] != "completed" {
		t.Errorf("completion = %v", completes[0])
	}
}

func TestSessionCancel(t *testing.T) {
	stub := &portalStub{
		streamLines: []string{`data: {"status":"running"}`},
		holdStream:  true,
	}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	s := NewSession(New(ts.URL, "tok"), nil, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), TrainParams{}) }()

	waitForStage(t, s, relay.StageRunning)
	if err := s.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := s.Stage(); got != relay.StageIdle {
		t.Errorf("stage after cancel = %s, want idle", got)
	}
	cancels := stub.cancels()
	if len(cancels) != 1 || cancels[0]["userId"] != "user-1" || cancels[0]["jobId"] != "5" {
		t.Errorf("cancel calls = %v", cancels)
	}
	// No completion for a cancelled run.
	if completes := stub.completes(); len(completes) != 0 {
		t.Errorf("cancelled run recorded a completion: %v", completes)
	}

	// The session is idle again; a second cancel has nothing to do.
	if err := s.Cancel(context.Background()); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second cancel err = %v, want ErrNotCancellable", err)
	}
}

func TestSessionCancelRemoteFailureStillResets(t *testing.T) {
	stub := &portalStub{
		streamLines:  []string{`data: {"status":"running"}`},
		holdStream:   true,
		cancelStatus: http.StatusInternalServerError,
	}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	s := NewSession(New(ts.URL, "tok"), nil, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), TrainParams{}) }()
	waitForStage(t, s, relay.StageRunning)

	err := s.Cancel(context.Background())
	if err == nil || !strings.Contains(err.Error(), "remote cancel") {
		t.Fatalf("err = %v, want remote cancel failure", err)
	}
	if got := s.Stage(); got != relay.StageIdle {
		t.Errorf("stage = %s, want idle even when the remote cancel failed", got)
	}
	<-done
}

func TestSessionRejectsConcurrentRun(t *testing.T) {
	stub := &portalStub{
		streamLines: []string{`data: {"status":"running"}`},
		holdStream:  true,
	}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	s := NewSession(New(ts.URL, "tok"), nil, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), TrainParams{}) }()
	waitForStage(t, s, relay.StageRunning)

	if err := s.Run(context.Background(), TrainParams{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second run err = %v, want ErrSessionActive", err)
	}

	s.Cancel(context.Background())
	<-done
}

func TestSessionSubmissionFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"User not authorized to train models"}`)
	}))
	defer ts.Close()

	s := NewSession(New(ts.URL, "tok"), nil, nil)
	err := s.Run(context.Background(), TrainParams{})
	if err == nil || !strings.Contains(err.Error(), "start training") {
		t.Fatalf("err = %v", err)
	}
	if got := s.Stage(); got != relay.StageFailed {
		t.Errorf("stage = %s, want failed", got)
	}
}
