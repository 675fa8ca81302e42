package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

type WebhookConfig struct {
	URL string
	// Timeout bounds each delivery attempt. Defaults to 10s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	// Defaults to 3.
	MaxRetries int
	// Headers are set on every request in addition to Content-Type.
	Headers map[string]string
}

// NewWebhookHandler posts each alert as JSON to the configured URL.
// Transport errors and 5xx responses are retried with exponential
// backoff; 4xx responses are not, the receiver has already rejected the
// payload.
func NewWebhookHandler(cfg WebhookConfig) metrics.AlertHandler {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	client := &http.Client{Timeout: cfg.Timeout}

	return func(ctx context.Context, alert *models.Alert) error {
		payload, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("webhook %s: encode alert: %w", cfg.URL, err)
		}

		attempt := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")
			for k, v := range cfg.Headers {
				req.Header.Set(k, v)
			}

			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			switch {
			case resp.StatusCode < http.StatusMultipleChoices:
				return nil
			case resp.StatusCode < http.StatusInternalServerError:
				return backoff.Permanent(fmt.Errorf("receiver rejected alert: status %d", resp.StatusCode))
			default:
				return fmt.Errorf("status %d", resp.StatusCode)
			}
		}

		policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(cfg.MaxRetries)), ctx)
		if err := backoff.Retry(attempt, policy); err != nil {
			return fmt.Errorf("webhook %s: %w", cfg.URL, err)
		}
		logger.WithMetric(alert.Metric).Debugf("Alert %s delivered to %s", alert.ID, cfg.URL)
		return nil
	}
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}
