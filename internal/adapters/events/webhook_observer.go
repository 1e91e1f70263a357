package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

const defaultWebhookTimeout = 10 * time.Second

var _ ports.ValidationObserver = (*WebhookObserver)(nil)

// ValidationSummary is the webhook payload. Row errors are not included, only
// their count.
type ValidationSummary struct {
	RequestID   string `json:"request_id"`
	Source      string `json:"source"`
	Schema      string `json:"schema"`
	Outcome     string `json:"outcome"`
	Valid       bool   `json:"valid"`
	ErrorCount  int    `json:"error_count"`
	RowsChecked int    `json:"rows_checked"`
	DurationMS  int64  `json:"duration_ms"`
}

// WebhookObserver POSTs a summary of every finished validation to a
// configured endpoint. Each request is signed with HMAC-SHA256 so the
// receiver can verify authenticity.
type WebhookObserver struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookObserver returns a WebhookObserver that POSTs to url and signs
// with secret. A zero or negative timeout falls back to 10s.
func NewWebhookObserver(url, secret string, timeout time.Duration) *WebhookObserver {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookObserver{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// ValidationCompleted sets the following headers on every request:
//
//	Content-Type:            application/json
//	X-Csvschema-Schema:      <schema name>
//	X-Csvschema-Outcome:     <outcome>
//	X-Hub-Signature-256:     sha256=<hex-encoded HMAC-SHA256>
func (o *WebhookObserver) ValidationCompleted(ctx context.Context, run domain.ValidationRun) error {
	summary := ValidationSummary{
		RequestID:   run.Response.RequestID.String(),
		Source:      run.Response.Source,
		Schema:      run.Response.SchemaName,
		Outcome:     string(run.Outcome),
		Valid:       run.Response.IsValid(),
		ErrorCount:  len(run.Response.Errors),
		RowsChecked: run.RowsChecked,
		DurationMS:  run.Duration.Milliseconds(),
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Csvschema-Schema", summary.Schema)
	req.Header.Set("X-Csvschema-Outcome", summary.Outcome)
	req.Header.Set("X-Hub-Signature-256", "sha256="+o.sign(payload))

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (o *WebhookObserver) sign(payload []byte) string {
	mac := hmac.New(sha256.New, o.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
