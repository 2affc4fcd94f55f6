// Package webhook posts end-of-run notifications to a configured HTTP
// endpoint, optionally signed with HMAC-SHA256.
package webhook

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
	"os"
	"time"

	"github.com/superdup-project/superdup/pkg/logging"
	"github.com/superdup-project/superdup/pkg/model"
)

// EventType labels the notification payload.
type EventType string

const (
	EventRunFinished EventType = "run.finished"
	EventRunFailed   EventType = "run.failed"
)

// Event is the JSON body posted to the endpoint.
type Event struct {
	Event     EventType         `json:"event"`
	Timestamp string            `json:"timestamp"`
	Hostname  string            `json:"hostname,omitempty"`
	Summary   *model.RunSummary `json:"summary"`
}

// Config holds the notification settings. An empty URL disables the
// client entirely.
type Config struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client sends run notifications.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logging.Logger
}

// NewClient creates a webhook client. Zero Timeout defaults to 30s,
// zero RetryDelay to 5s.
func NewClient(cfg Config, log *logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if log == nil {
		log = logging.NewLogger(logging.LevelError, logging.FormatText)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// NotifyRun posts the run summary, retrying transient failures up to
// MaxRetries times. A notification failure is reported but must never
// change the run's own exit status, so callers log the error and move
// on.
func (c *Client) NotifyRun(ctx context.Context, sum *model.RunSummary) error {
	if c.cfg.URL == "" {
		return nil
	}

	event := EventRunFinished
	if sum.Failed() {
		event = EventRunFailed
	}
	hostname, _ := os.Hostname()
	payload, err := json.Marshal(Event{
		Event:     event,
		Timestamp: time.Now().Format(time.RFC3339),
		Hostname:  hostname,
		Summary:   sum,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn("webhook delivery failed, retrying", map[string]any{
				"attempt": attempt,
				"error":   lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		req, err := c.createRequest(ctx, event, payload)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.log.Debug("webhook delivered", map[string]any{
				"event":  string(event),
				"status": resp.StatusCode,
			})
			return nil
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
		// 4xx responses will not improve on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) createRequest(ctx context.Context, event EventType, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "superdup-webhook/1.0")
	req.Header.Set("X-Superdup-Event", string(event))
	if c.cfg.Secret != "" {
		req.Header.Set("X-Superdup-Signature", sign(payload, c.cfg.Secret))
	}
	return req, nil
}

// sign creates the HMAC-SHA256 signature header value for the payload.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
