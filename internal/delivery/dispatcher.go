// Package delivery forwards discovered posts to the configured webhook.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/feed"
	"github.com/luisdavi29052005/pipfox/internal/metrics"
)

// DefaultTimeout bounds one webhook POST.
const DefaultTimeout = 5 * time.Second

// Dispatcher posts envelopes to a webhook with an at-most-once, best-effort
// guarantee: one attempt, bounded timeout, failures logged and swallowed.
type Dispatcher struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// New creates a Dispatcher. An empty webhookURL makes Deliver a silent no-op.
func New(webhookURL string, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Deliver issues one POST for the envelope. It never retries and never
// surfaces an error to the caller; the crawl must not stall on delivery.
func (d *Dispatcher) Deliver(ctx context.Context, env feed.Envelope) {
	if d.webhookURL == "" {
		return
	}

	body, err := json.Marshal(env)
	if err != nil {
		d.logger.Error("marshal delivery envelope",
			zap.String("workflow_id", env.WorkflowID),
			zap.Error(err))
		metrics.ObserveDelivery("marshal_error", 0)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("build delivery request",
			zap.String("workflow_id", env.WorkflowID),
			zap.Error(err))
		metrics.ObserveDelivery("request_error", 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		d.logger.Warn("webhook delivery failed",
			zap.String("workflow_id", env.WorkflowID),
			zap.String("content_hash", env.Post.ContentHash),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		metrics.ObserveDelivery("error", elapsed)
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Debug("close delivery response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("webhook rejected delivery",
			zap.String("workflow_id", env.WorkflowID),
			zap.String("content_hash", env.Post.ContentHash),
			zap.Int("status", resp.StatusCode))
		metrics.ObserveDelivery("rejected", elapsed)
		return
	}

	d.logger.Debug("post delivered",
		zap.String("workflow_id", env.WorkflowID),
		zap.String("content_hash", env.Post.ContentHash),
		zap.Int("status", resp.StatusCode))
	metrics.ObserveDelivery("ok", elapsed)
}
