// Package runner fans a workflow out into one concurrent crawl per group.
package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/feed"
	"github.com/luisdavi29052005/pipfox/internal/registry"
)

// GroupCrawler runs one crawl for one group on one page.
type GroupCrawler interface {
	Crawl(ctx context.Context, page feed.Page, workflowID string, node feed.WorkflowNode, emit feed.EmitFunc) error
}

// Config controls runner behavior.
type Config struct {
	// DisconnectPoll is how often the shared session's liveness is checked.
	DisconnectPoll time.Duration
}

// Runner opens one page per group from a shared session, crawls all groups
// concurrently with join-all semantics, and delivers each post synchronously
// in per-group order. One group's failure never cancels its siblings; a dead
// session abandons everything.
type Runner struct {
	crawler    GroupCrawler
	dispatcher feed.Deliverer
	registry   *registry.Registry
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Runner.
func New(
	crawler GroupCrawler,
	dispatcher feed.Deliverer,
	reg *registry.Registry,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.DisconnectPoll <= 0 {
		cfg.DisconnectPoll = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		crawler:    crawler,
		dispatcher: dispatcher,
		registry:   reg,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run crawls every node and blocks until all group crawls finish or are
// abandoned. The workflow must already be registered; on return the session
// is closed and the registry entry removed regardless of outcome.
func (r *Runner) Run(
	ctx context.Context,
	workflowID string,
	session feed.Session,
	nodes []feed.WorkflowNode,
) error {
	log := r.logger.With(zap.String("workflow_id", workflowID))

	defer func() {
		if err := session.Close(context.Background()); err != nil {
			log.Warn("close browser session", zap.Error(err))
		}
		if r.registry != nil {
			r.registry.Remove(workflowID)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var disconnected bool
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		disconnected = r.watchSession(runCtx, session, cancel, log)
	}()

	var wg sync.WaitGroup
	for _, node := range nodes {
		if runCtx.Err() != nil {
			log.Info("skipping remaining groups, run cancelled",
				zap.String("group_url", node.GroupURL))
			break
		}
		wg.Add(1)
		go func(node feed.WorkflowNode) {
			defer wg.Done()
			r.crawlGroup(runCtx, workflowID, session, node, log)
		}(node)
	}
	wg.Wait()
	cancel()
	<-watchdogDone

	if disconnected {
		return feed.ErrSessionDisconnected
	}
	return nil
}

// watchSession polls liveness and cancels every sibling crawl when the shared
// session dies. Reports whether a disconnect was observed.
func (r *Runner) watchSession(
	ctx context.Context,
	session feed.Session,
	cancel context.CancelFunc,
	log *zap.Logger,
) bool {
	ticker := time.NewTicker(r.cfg.DisconnectPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !session.IsConnected() {
				log.Error("browser session disconnected, abandoning all group crawls")
				cancel()
				return true
			}
		}
	}
}

// crawlGroup owns one page for one node. Errors end this group's crawl only;
// they are logged, never propagated to siblings.
func (r *Runner) crawlGroup(
	ctx context.Context,
	workflowID string,
	session feed.Session,
	node feed.WorkflowNode,
	log *zap.Logger,
) {
	log = log.With(zap.String("group_url", node.GroupURL))

	page, err := session.NewPage(ctx)
	if err != nil {
		log.Error("open group page", zap.Error(err))
		return
	}
	defer func() {
		if err := page.Close(context.Background()); err != nil {
			log.Warn("close group page", zap.Error(err))
		}
	}()

	var groupName string
	emit := func(ctx context.Context, post feed.Post) error {
		if groupName == "" {
			name, err := page.GroupName(ctx)
			if err != nil {
				log.Debug("resolve group name", zap.Error(err))
			}
			groupName = name
		}
		env := feed.NewEnvelope(workflowID, post, feed.EnvelopeSource{
			GroupURL:  node.GroupURL,
			GroupName: groupName,
		})
		r.dispatcher.Deliver(ctx, env)
		return nil
	}

	if err := r.crawler.Crawl(ctx, page, workflowID, node, emit); err != nil {
		log.Error("group crawl ended with error", zap.Error(err))
	}
}
