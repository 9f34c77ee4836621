// Package notify sends admin email notifications through the Resend HTTP
// API. Delivery is fire and forget: a failed send is logged and never
// surfaces to the request that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.resend.com/emails"

// Mailer dispatches notification emails. A Mailer with an empty API key is
// disabled and drops every notification silently.
type Mailer struct {
	apiKey     string
	from       string
	adminEmail string
	endpoint   string
	logger     *slog.Logger
	httpClient *http.Client
}

// New constructs a Mailer. from and adminEmail address the notification
// sender and recipient.
func New(apiKey, from, adminEmail string, logger *slog.Logger) *Mailer {
	return &Mailer{
		apiKey:     apiKey,
		from:       from,
		adminEmail: adminEmail,
		endpoint:   defaultEndpoint,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SignupRequested notifies the admin that a new account is waiting for
// approval. It returns immediately; the send happens in the background.
func (m *Mailer) SignupRequested(email, name string) {
	if m.apiKey == "" || m.adminEmail == "" {
		return
	}
	subject := "New signup pending approval"
	html := fmt.Sprintf(
		"<p><strong>%s</strong> (%s) signed up and is waiting for approval.</p>",
		name, email,
	)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.send(ctx, subject, html); err != nil {
			m.logger.Error("notify: signup email", "signup", email, "err", err)
		}
	}()
}

func (m *Mailer) send(ctx context.Context, subject, html string) error {
	payload, err := json.Marshal(map[string]any{
		"from":    m.from,
		"to":      []string{m.adminEmail},
		"subject": subject,
		"html":    html,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email api returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
