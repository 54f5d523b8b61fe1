// Package intake consumes jobs from the external queue and drives workflow
// runs end to end: load state, flip status, register, run, reconcile.
package intake

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/feed"
	"github.com/luisdavi29052005/pipfox/internal/metrics"
	"github.com/luisdavi29052005/pipfox/internal/registry"
)

// WorkflowRunner executes all group crawls for one registered workflow.
type WorkflowRunner interface {
	Run(ctx context.Context, workflowID string, session feed.Session, nodes []feed.WorkflowNode) error
}

// Commenter posts a one-off comment through an authenticated session.
type Commenter interface {
	PostComment(ctx context.Context, session feed.Session, postURL, comment string) error
}

// Config controls intake behavior.
type Config struct {
	// MaxConcurrent bounds how many jobs run at once across workflows.
	MaxConcurrent int
	// Headless is forwarded to the session opener.
	Headless bool
}

// Intake runs jobs against the workflow store, registry and runner.
type Intake struct {
	queue    feed.Queue
	store    feed.WorkflowStore
	sessions feed.SessionOpener
	runner   WorkflowRunner
	reg      *registry.Registry
	comments Commenter
	clock    feed.Clock
	ids      feed.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Intake.
func New(
	queue feed.Queue,
	store feed.WorkflowStore,
	sessions feed.SessionOpener,
	runner WorkflowRunner,
	reg *registry.Registry,
	comments Commenter,
	clock feed.Clock,
	ids feed.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Intake {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{
		queue:    queue,
		store:    store,
		sessions: sessions,
		runner:   runner,
		reg:      reg,
		comments: comments,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, dequeueing jobs until the context finishes. Jobs run
// concurrently up to the configured ceiling.
func (in *Intake) Run(ctx context.Context) {
	sem := make(chan struct{}, in.cfg.MaxConcurrent)
	for {
		job, err := in.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			in.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(job feed.Job) {
			defer func() { <-sem }()
			if err := in.Process(ctx, job); err != nil {
				in.logger.Error("job failed",
					zap.String("job_id", job.ID),
					zap.String("kind", string(job.Kind)),
					zap.Error(err))
			}
		}(job)
	}
}

// Process executes one job synchronously. The returned error is surfaced to
// the queue layer so its own failure bookkeeping applies.
func (in *Intake) Process(ctx context.Context, job feed.Job) error {
	if job.ID == "" && in.ids != nil {
		if id, err := in.ids.NewID(); err == nil {
			job.ID = id
		}
	}
	var err error
	switch job.Kind {
	case feed.JobStartWorkflow:
		err = in.startWorkflow(ctx, job)
	case feed.JobStopWorkflow:
		in.Stop(job.WorkflowID)
	case feed.JobPostComment:
		err = in.postComment(ctx, job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	metrics.ObserveJob(string(job.Kind), status)
	return err
}

// Stop removes the workflow's registry entry. In-flight browser operations
// are not interrupted; crawlers observe the removal at their next cycle.
func (in *Intake) Stop(workflowID string) {
	if in.reg.Stop(workflowID) {
		in.logger.Info("workflow stop requested", zap.String("workflow_id", workflowID))
	} else {
		in.logger.Info("stop requested for workflow that is not running",
			zap.String("workflow_id", workflowID))
	}
}

func (in *Intake) startWorkflow(ctx context.Context, job feed.Job) error {
	log := in.logger.With(
		zap.String("job_id", job.ID),
		zap.String("workflow_id", job.WorkflowID))
	started := in.now()

	workflow, err := in.store.GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", job.WorkflowID, err)
	}

	nodes, err := in.store.ActiveNodes(ctx, workflow.ID)
	if err != nil {
		in.markError(ctx, log, workflow.ID)
		return fmt.Errorf("load active nodes: %w", err)
	}
	if len(nodes) == 0 {
		log.Info("no active nodes, nothing to crawl")
		return nil
	}

	token, err := in.reg.Start(ctx, workflow.ID)
	if err != nil {
		// Another run holds the entry; its status is authoritative.
		return fmt.Errorf("register workflow: %w", err)
	}

	if err := in.store.UpdateStatus(ctx, workflow.ID, feed.StatusRunning); err != nil {
		in.reg.Remove(workflow.ID)
		return fmt.Errorf("mark workflow running: %w", err)
	}
	metrics.WorkflowStarted()
	defer metrics.WorkflowFinished()

	session, err := in.sessions.OpenSession(ctx, job.UserID, job.AccountID, in.cfg.Headless)
	if err != nil {
		in.reg.Remove(workflow.ID)
		in.markError(ctx, log, workflow.ID)
		return fmt.Errorf("open browser session: %w", err)
	}

	log.Info("workflow run starting", zap.Int("groups", len(nodes)))
	if err := in.runner.Run(token, workflow.ID, session, nodes); err != nil {
		in.markError(ctx, log, workflow.ID)
		return fmt.Errorf("workflow run: %w", err)
	}

	// A completed run resets the workflow to idle so it can be started
	// again; leaving it running would be indistinguishable from a live run.
	if err := in.store.UpdateStatus(ctx, workflow.ID, feed.StatusIdle); err != nil {
		return fmt.Errorf("mark workflow idle: %w", err)
	}
	log.Info("workflow run finished", zap.Duration("elapsed", in.now().Sub(started)))
	return nil
}

func (in *Intake) postComment(ctx context.Context, job feed.Job) error {
	if in.comments == nil {
		return fmt.Errorf("comment posting is not configured")
	}
	log := in.logger.With(
		zap.String("job_id", job.ID),
		zap.String("post_url", job.PostURL))

	session, err := in.sessions.OpenSession(ctx, job.UserID, job.AccountID, in.cfg.Headless)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if err := session.Close(context.Background()); err != nil {
			log.Warn("close comment session", zap.Error(err))
		}
	}()

	if err := in.comments.PostComment(ctx, session, job.PostURL, job.Comment); err != nil {
		return fmt.Errorf("post comment: %w", err)
	}
	log.Info("comment posted")
	return nil
}

// markError records the terminal error status; a failing status write at this
// point only logs, the original error wins.
func (in *Intake) markError(ctx context.Context, log *zap.Logger, workflowID string) {
	if err := in.store.UpdateStatus(ctx, workflowID, feed.StatusError); err != nil {
		log.Error("mark workflow error status", zap.Error(err))
	}
}

func (in *Intake) now() time.Time {
	if in.clock != nil {
		return in.clock.Now()
	}
	return time.Now()
}
