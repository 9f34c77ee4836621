// Package provider talks to the external compute backend that runs the
// actual fine-tuning.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Client calls the provider's train and cancel endpoints, authenticating
// every request with the two-part credential pair.
type Client struct {
	trainURL  string
	cancelURL string
	key       string
	secret    string
	// Training streams run as long as the provider keeps them open, so the
	// client carries no overall timeout. Callers bound individual requests
	// with their context.
	httpClient *http.Client
}

// New constructs a provider client.
func New(trainURL, cancelURL, key, secret string) *Client {
	return &Client{
		trainURL:   trainURL,
		cancelURL:  cancelURL,
		key:        key,
		secret:     secret,
		httpClient: &http.Client{},
	}
}

// UserJob addresses a job on the provider side.
type UserJob struct {
	UserID string `json:"user_id"`
	JobID  int    `json:"job_id"`
}

// TrainRequest is the normalized payload the provider expects. LoraRank is
// null for full fine-tunes.
type TrainRequest struct {
	UserJob      UserJob `json:"userjob"`
	FullFinetune bool    `json:"fullfinetune"`
	LoraRank     *int    `json:"lora_rank"`
	BaseModel    string  `json:"base_model"`
	Dataset      string  `json:"dataset"`
	NumEpochs    int     `json:"num_epochs"`
}

// Train submits a training run. The response body is the provider's live
// event stream and stays open until training ends; the caller owns closing
// it. Non-2xx responses are returned as-is so their status and body can be
// mapped through to the end user.
func (c *Client) Train(ctx context.Context, req TrainRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal train request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.trainURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build train request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authenticate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call provider train: %w", err)
	}
	return resp, nil
}

// Cancel asks the provider to stop the job addressed by the composite
// {user}_{job} key. The caller validates the key shape before this runs.
func (c *Client) Cancel(ctx context.Context, compositeKey string) (*http.Response, error) {
	u := fmt.Sprintf("%s?user_plus_job_id=%s", c.cancelURL, url.QueryEscape(compositeKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build cancel request: %w", err)
	}
	c.authenticate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call provider cancel: %w", err)
	}
	return resp, nil
}

func (c *Client) authenticate(req *http.Request) {
	req.Header.Set("Modal-Key", c.key)
	req.Header.Set("Modal-Secret", c.secret)
}
