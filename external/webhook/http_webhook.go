package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/webhook"
)

const (
	webhookTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second
	userAgent          = "sayo-captions/transcript-webhook"
)

var errRetryable = errors.New("retryable webhook failure")

// Network errors, 429 and 5xx answers are retried.
type HTTPSender struct {
	webhookURL  string
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: webhookTimeout},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptWebhookPayload) error {
	if s.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal transcript payload: %w", err)
	}

	delay := s.retryDelay
	for attempt := 1; ; attempt++ {
		err = s.post(ctx, payload.SessionID, body)
		if err == nil {
			slog.Info("transcript webhook delivered", "session_id", payload.SessionID, "segments", payload.SegmentCount, "attempt", attempt)
			return nil
		}
		if !errors.Is(err, errRetryable) || attempt >= s.maxAttempts {
			return err
		}
		slog.Warn("transcript webhook failed; retrying", "session_id", payload.SessionID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("transcript webhook: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (s *HTTPSender) post(ctx context.Context, sessionID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Transcript-Schema", webhook.TranscriptWebhookSchemaVersion)
	req.Header.Set("X-Caption-Session", sessionID)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", errRetryable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: webhook returned status %d", errRetryable, resp.StatusCode)
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
