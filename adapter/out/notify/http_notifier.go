// Package notify delivers lead alerts to the configured webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
	"github.com/creamytech/Castra-site-sub000/pkg/httputil"
)

// HTTPNotifier posts LeadAlert JSON to a webhook URL (Slack-compatible relays,
// internal CRM hooks).
type HTTPNotifier struct {
	url        string
	client     *http.Client
	maxRetries int
	log        zerolog.Logger
}

// NewHTTPNotifier creates the notifier. An empty url makes SendAlert a logged
// no-op so the pipeline runs without a configured channel. timeout bounds each
// delivery attempt; zero keeps the pooled client default.
func NewHTTPNotifier(url string, timeout time.Duration, maxRetries int, log zerolog.Logger) *HTTPNotifier {
	clientCfg := httputil.DefaultClientConfig()
	if timeout > 0 {
		clientCfg.ResponseTimeout = timeout
	}
	return &HTTPNotifier{
		url:        url,
		client:     httputil.NewClient(clientCfg),
		maxRetries: maxRetries,
		log:        log.With().Str("component", "notifier").Logger(),
	}
}

// SendAlert posts the alert with bounded retries. 4xx responses are permanent;
// network failures and 5xx are returned retryable for the job layer.
func (n *HTTPNotifier) SendAlert(ctx context.Context, alert *out.LeadAlert) error {
	if n.url == "" {
		n.log.Info().
			Int64("lead_id", alert.LeadID).
			Int("score", alert.Score).
			Msg("no notify webhook configured, alert logged only")
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return apperr.Permanent(fmt.Errorf("marshal alert: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		lastErr = n.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if apperr.IsPermanent(lastErr) {
			return lastErr
		}
		n.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("alert delivery failed")
	}

	return fmt.Errorf("alert delivery failed after %d attempts: %w", n.maxRetries+1, lastErr)
}

func (n *HTTPNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return apperr.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return apperr.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
}

var _ out.NotifierPort = (*HTTPNotifier)(nil)
