// Package pubsub consumes intake jobs from a Google Cloud Pub/Sub
// subscription. Authentication uses Application Default Credentials.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/feed"
)

// Handler processes one decoded job. A non-nil error nacks the message so the
// queue's own failure bookkeeping applies.
type Handler func(ctx context.Context, job feed.Job) error

// Source receives job messages and dispatches them to a Handler.
type Source struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	logger *zap.Logger
}

// New creates a Source and verifies the subscription exists.
func New(ctx context.Context, projectID, subscriptionID string, maxOutstanding int, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	sub := client.Subscription(subscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after subscription check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check subscription %q: %w", subscriptionID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after missing subscription", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", subscriptionID, projectID)
	}
	if maxOutstanding > 0 {
		// The intake concurrency ceiling maps onto outstanding messages.
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}

	return &Source{client: client, sub: sub, logger: logger}, nil
}

// Run blocks receiving messages until the context finishes.
func (s *Source) Run(ctx context.Context, handle Handler) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		job, err := decodeJob(msg.Data)
		if err != nil {
			// Malformed payloads would redeliver forever; drop them.
			s.logger.Error("drop malformed job message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			msg.Ack()
			return
		}
		if err := handle(ctx, job); err != nil {
			s.logger.Error("job handler failed, message nacked",
				zap.String("message_id", msg.ID),
				zap.String("kind", string(job.Kind)),
				zap.Error(err))
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Source) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// decodeJob parses a job payload. Jobs are named by convention
// ("start-workflow-<id>"); an explicit kind field wins over the name.
func decodeJob(data []byte) (feed.Job, error) {
	var payload struct {
		feed.Job
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return feed.Job{}, fmt.Errorf("decode job payload: %w", err)
	}
	job := payload.Job
	if job.Kind == "" {
		job.Kind = kindFromName(payload.Name)
	}
	if job.Kind == "" {
		return feed.Job{}, fmt.Errorf("job payload carries neither kind nor a recognized name")
	}
	if job.WorkflowID == "" && (job.Kind == feed.JobStartWorkflow || job.Kind == feed.JobStopWorkflow) {
		if id := strings.TrimPrefix(payload.Name, string(job.Kind)+"-"); id != payload.Name {
			job.WorkflowID = id
		}
	}
	return job, nil
}

func kindFromName(name string) feed.JobKind {
	switch {
	case strings.HasPrefix(name, string(feed.JobStartWorkflow)+"-"):
		return feed.JobStartWorkflow
	case strings.HasPrefix(name, string(feed.JobStopWorkflow)+"-"):
		return feed.JobStopWorkflow
	case name == string(feed.JobPostComment):
		return feed.JobPostComment
	default:
		return ""
	}
}
