// Package client is the Go client for the portal API. It starts training
// runs, consumes their event streams, and drives the ledger and cancel
// endpoints on the caller's behalf.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"finetune-portal/internal/models"
)

// Client talks to one portal instance with one session token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New constructs a client. The http.Client carries no timeout because
// training streams stay open for the length of a run.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// TrainParams are the training submission fields.
type TrainParams struct {
	Rank         int    `json:"rank"`
	Checkpoint   string `json:"checkpoint"`
	Dataset      string `json:"dataset"`
	Epochs       int    `json:"epochs"`
	FullFinetune bool   `json:"fullfinetune"`
}

// TrainStream is an accepted training submission: the predicted job id, the
// authenticated user id echoed back by the server, and the live event
// stream. The caller owns Body and must close it.
type TrainStream struct {
	JobID  string
	UserID string
	Body   io.ReadCloser
}

// StartTraining submits a run and returns the open event stream.
func (c *Client) StartTraining(ctx context.Context, params TrainParams) (*TrainStream, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal train params: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/train", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return &TrainStream{
		JobID:  resp.Header.Get("X-Job-Id"),
		UserID: resp.Header.Get("X-User-Id"),
		Body:   resp.Body,
	}, nil
}

// Jobs lists the caller's completed jobs, newest first.
func (c *Client) Jobs(ctx context.Context) ([]models.Job, error) {
	resp, err := c.do(ctx, http.MethodGet, "/jobs", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var payload struct {
		Jobs []models.Job `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return payload.Jobs, nil
}

// Cancel asks the provider, via the portal, to stop an in-flight run.
func (c *Client) Cancel(ctx context.Context, userID, jobID string) error {
	payload, err := json.Marshal(map[string]string{"userId": userID, "jobId": jobID})
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/cancel", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Complete records a run outcome in the ledger. It satisfies the stream
// relay's completion hook.
func (c *Client) Complete(ctx context.Context, jobID, status, artifactKey string) error {
	payload, err := json.Marshal(map[string]string{
		"jobId":  jobID,
		"status": status,
		"r2Key":  artifactKey,
	})
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/jobs/complete", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Download opens the checkpoint archive for a completed job. The returned
// filename comes from the server's disposition header when present.
func (c *Client) Download(ctx context.Context, jobID string) (io.ReadCloser, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/download?jobId="+url.QueryEscape(jobID), nil)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", apiError(resp)
	}
	filename := "checkpoint.zip"
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if i := strings.Index(cd, `filename="`); i >= 0 {
			rest := cd[i+len(`filename="`):]
			if j := strings.Index(rest, `"`); j > 0 {
				filename = rest[:j]
			}
		}
	}
	return resp.Body, filename, nil
}

// UserStatus reports whether the session's user has been approved to train.
func (c *Client) UserStatus(ctx context.Context) (bool, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user/status", nil)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, "", apiError(resp)
	}
	var payload struct {
		Approved bool   `json:"approved"`
		UserID   string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, "", fmt.Errorf("decode user status: %w", err)
	}
	return payload.Approved, payload.UserID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// apiError drains an error response into a readable error, preferring the
// server's JSON error message.
func apiError(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
