package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"finetune-portal/internal/models"
)

const validTrainBody = `{"rank":8,"checkpoint":"base_plus","dataset":"TIG","epochs":10,"fullfinetune":false}`

func TestTrainProxiesStream(t *testing.T) {
	ledger := &fakeLedger{nextID: "3"}
	backend := &fakeBackend{trainResp: providerResponse(200, "data: {\"log\":\"starting\"}\ndata: {\"status\":\"running\"}\n")}
	ts, deps := newTestServer(t, testDeps{ledger: ledger, backend: backend})

	resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "user-1"), validTrainBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("train: got %d, want 200: %s", resp.StatusCode, readBody(t, resp))
	}
	if got := resp.Header.Get("X-Job-Id"); got != "3" {
		t.Errorf("X-Job-Id = %q, want %q", got, "3")
	}
	if got := resp.Header.Get("X-User-Id"); got != "user-1" {
		t.Errorf("X-User-Id = %q, want %q", got, "user-1")
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, `"log":"starting"`) || !strings.Contains(body, `"status":"running"`) {
		t.Errorf("stream body not passed through: %q", body)
	}

	if len(deps.backend.trainCalls) != 1 {
		t.Fatalf("backend called %d times, want 1", len(deps.backend.trainCalls))
	}
	call := deps.backend.trainCalls[0]
	if call.UserJob.UserID != "user-1" || call.UserJob.JobID != 3 {
		t.Errorf("provider payload user/job = %q/%d, want user-1/3", call.UserJob.UserID, call.UserJob.JobID)
	}
	if call.LoraRank == nil || *call.LoraRank != 8 {
		t.Errorf("lora rank not forwarded: %+v", call.LoraRank)
	}
	if len(deps.ledger.recordCalls) != 0 {
		t.Errorf("train must not write the ledger, got %d writes", len(deps.ledger.recordCalls))
	}
}

func TestTrainFullFinetuneDropsRank(t *testing.T) {
	ts, deps := newTestServer(t, testDeps{})
	body := `{"rank":8,"checkpoint":"tiny","dataset":"MAZAK","epochs":5,"fullfinetune":true}`
	resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "user-1"), body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("train: got %d, want 200: %s", resp.StatusCode, readBody(t, resp))
	}
	resp.Body.Close()
	if call := deps.backend.trainCalls[0]; !call.FullFinetune || call.LoraRank != nil {
		t.Errorf("full finetune submission carried a lora rank: %+v", call)
	}
}

func TestTrainValidation(t *testing.T) {
	cases := []struct {
		name, body, wantMsg string
	}{
		{"bad rank", `{"rank":3,"checkpoint":"tiny","dataset":"TIG","epochs":5}`, "rank must be one of"},
		{"bad checkpoint", `{"rank":4,"checkpoint":"huge","dataset":"TIG","epochs":5}`, "checkpoint must be one of"},
		{"bad dataset", `{"rank":4,"checkpoint":"tiny","dataset":"other","epochs":5}`, "dataset must be one of"},
		{"epochs too high", `{"rank":4,"checkpoint":"tiny","dataset":"TIG","epochs":101}`, "epochs must be a number between 1 and 100"},
		{"epochs zero", `{"rank":4,"checkpoint":"tiny","dataset":"TIG","epochs":0}`, "epochs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, deps := newTestServer(t, testDeps{})
			resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "user-1"), tc.body)
			body := readBody(t, resp)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("got %d, want 400: %s", resp.StatusCode, body)
			}
			if !strings.Contains(body, tc.wantMsg) {
				t.Errorf("body %q missing %q", body, tc.wantMsg)
			}
			if len(deps.backend.trainCalls) != 0 {
				t.Errorf("provider called on invalid input")
			}
		})
	}
}

func TestTrainRequiresApproval(t *testing.T) {
	users := newFakeDirectory(
		models.User{ID: "pending-1", Email: "p@example.com", Approved: false},
	)
	ts, deps := newTestServer(t, testDeps{users: users})

	resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "pending-1"), validTrainBody)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unapproved user: got %d, want 403", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "pending admin approval") {
		t.Errorf("body %q missing approval message", body)
	}

	// A valid token for a user absent from the directory is also rejected.
	resp = doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "ghost"), validTrainBody)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown user: got %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	if len(deps.backend.trainCalls) != 0 {
		t.Errorf("provider called for unauthorized user")
	}
}

func TestTrainRateLimited(t *testing.T) {
	ts, deps := newTestServer(t, testDeps{limiter: &fakeLimiter{allow: false}})
	resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "user-1"), validTrainBody)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", resp.StatusCode)
	}
	resp.Body.Close()
	if len(deps.backend.trainCalls) != 0 {
		t.Errorf("provider called while rate limited")
	}
}

func TestTrainBodyTooLarge(t *testing.T) {
	ts, _ := newTestServer(t, testDeps{})
	big := `{"rank":8,"checkpoint":"tiny","dataset":"TIG","epochs":5,"pad":"` + strings.Repeat("x", 20*1024) + `"}`
	resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "user-1"), big)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d, want 413", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTrainProviderFailures(t *testing.T) {
	t.Run("provider rejects", func(t *testing.T) {
		backend := &fakeBackend{trainResp: providerResponse(422, "bad dataset")}
		ts, _ := newTestServer(t, testDeps{backend: backend})
		resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "user-1"), validTrainBody)
		body := readBody(t, resp)
		if resp.StatusCode != 422 {
			t.Fatalf("got %d, want 422", resp.StatusCode)
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			t.Fatalf("unmarshal error body: %v", err)
		}
		if !strings.Contains(payload["error"], "Compute provider error: bad dataset") {
			t.Errorf("error = %q, want provider detail", payload["error"])
		}
	})

	t.Run("provider unreachable", func(t *testing.T) {
		backend := &fakeBackend{trainErr: errTransport}
		ts, _ := newTestServer(t, testDeps{backend: backend})
		resp := doJSON(t, "POST", ts.URL+"/train", sessionToken(t, "user-1"), validTrainBody)
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("got %d, want 502", resp.StatusCode)
		}
		resp.Body.Close()
	})
}
