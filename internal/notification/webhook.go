package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/workorder-service/internal/config"
)

// WebhookDispatcher POSTs each notification as JSON, throttled by a token bucket.
type WebhookDispatcher struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

func NewWebhookDispatcher(cfg config.NotificationConfig, logger *zap.Logger) *WebhookDispatcher {
	timeout := time.Duration(cfg.WebhookTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	burst := cfg.WebhookBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.WebhookRPS > 0 {
		limit = rate.Limit(cfg.WebhookRPS)
	}
	return &WebhookDispatcher{
		url:     cfg.WebhookURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("webhook"),
		now:     time.Now,
	}
}

func (d *WebhookDispatcher) Notify(ctx context.Context, to Recipient, template Template, payload Payload) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(Message{Template: template, Recipient: to, Payload: payload, SentAt: d.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Template", string(template))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	d.logger.Debug("webhook delivered", zap.String("template", string(template)), zap.String("recipient_id", to.ID))
	return nil
}

var _ Dispatcher = (*WebhookDispatcher)(nil)
