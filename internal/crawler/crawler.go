// Package crawler drives one browser page through one group feed.
//
// A crawl run is a small state machine: Scrolling while the feed keeps
// growing, Draining while consecutive cycles see no height growth, Stopped
// once the drain counter reaches its threshold or the cancellation token
// fires. Each run owns a fresh dedup L1 set and drain counter; the sequence is
// not restartable.
package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/classifier"
	"github.com/luisdavi29052005/pipfox/internal/feed"
	"github.com/luisdavi29052005/pipfox/internal/fingerprint"
	"github.com/luisdavi29052005/pipfox/internal/metrics"
)

type state int

const (
	stateScrolling state = iota
	stateDraining
	stateStopped
)

// Config controls scroll pacing and termination.
type Config struct {
	// ScrollIncrementPx is the fixed viewport advance per cycle.
	ScrollIncrementPx int
	// ScrollPause is the fixed delay after each scroll for lazy content.
	ScrollPause time.Duration
	// DrainThreshold is the number of consecutive no-growth cycles that
	// terminate the run.
	DrainThreshold int
	// ScreenshotContentType is the content type of audit captures.
	ScreenshotContentType string
}

func (c Config) withDefaults() Config {
	if c.ScrollIncrementPx <= 0 {
		c.ScrollIncrementPx = 700
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 2 * time.Second
	}
	if c.DrainThreshold <= 0 {
		c.DrainThreshold = 3
	}
	if c.ScreenshotContentType == "" {
		c.ScreenshotContentType = "image/png"
	}
	return c
}

// Crawler turns feed pages into a de-duplicated stream of posts.
type Crawler struct {
	dedup  feed.DedupStore
	blobs  feed.BlobStore
	cfg    Config
	logger *zap.Logger
}

// New constructs a Crawler. dedup and blobs may be nil: dedup then falls back
// to the run-local set only, and audit screenshots are skipped.
func New(dedup feed.DedupStore, blobs feed.BlobStore, cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		dedup:  dedup,
		blobs:  blobs,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Crawl navigates the page to the node's group and emits each newly seen post
// in scroll order until content exhausts or ctx (the cancellation token) is
// cancelled. Navigation and enumeration failures are fatal to this run only.
func (c *Crawler) Crawl(
	ctx context.Context,
	page feed.Page,
	workflowID string,
	node feed.WorkflowNode,
	emit feed.EmitFunc,
) error {
	log := c.logger.With(
		zap.String("workflow_id", workflowID),
		zap.String("group_url", node.GroupURL),
	)

	if err := page.Navigate(ctx, node.GroupURL); err != nil {
		return fmt.Errorf("navigate %s: %w", node.GroupURL, err)
	}
	if err := page.WaitFeedReady(ctx); err != nil {
		return fmt.Errorf("wait feed region: %w", err)
	}

	lastHeight, err := page.ContentHeight(ctx)
	if err != nil {
		return fmt.Errorf("initial height: %w", err)
	}

	seen := make(map[string]struct{})
	drain := 0
	st := stateScrolling
	cycles := 0
	discovered := 0

	for st != stateStopped {
		if ctx.Err() != nil {
			log.Info("crawl cancelled",
				zap.Int("cycles", cycles),
				zap.Int("posts", discovered))
			return nil
		}

		candidates, err := page.Candidates(ctx)
		if err != nil {
			return fmt.Errorf("enumerate candidates: %w", err)
		}

		domIDs := make([]string, 0, len(candidates))
		for _, cand := range candidates {
			domIDs = append(domIDs, cand.DOMID)
			if !classifier.IsPost(cand.Features) {
				continue
			}

			hash := fingerprint.Sum(cand.URL, cand.Author, cand.Text)
			if c.isDuplicate(ctx, log, node.GroupURL, seen, hash) {
				continue
			}
			seen[hash] = struct{}{}
			c.recordHash(ctx, log, node.GroupURL, hash)
			c.captureAudit(ctx, log, page, workflowID, cand.DOMID, hash)

			post := feed.Post{
				URL:                cand.URL,
				Author:             cand.Author,
				Text:               cand.Text,
				Images:             cand.Images,
				Timestamp:          cand.Timestamp,
				ContentHash:        hash,
				ExtractedFromModal: cand.FromModal,
			}
			if err := emit(ctx, post); err != nil {
				return fmt.Errorf("emit post %s: %w", hash, err)
			}
			discovered++
			metrics.ObservePostDiscovered(node.GroupURL)
		}

		if len(domIDs) > 0 {
			if err := page.MarkSeen(ctx, domIDs); err != nil {
				log.Warn("mark candidates seen", zap.Error(err))
			}
		}

		if err := page.ScrollBy(ctx, c.cfg.ScrollIncrementPx); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if err := c.pause(ctx); err != nil {
			log.Info("crawl cancelled during pause",
				zap.Int("cycles", cycles),
				zap.Int("posts", discovered))
			return nil
		}

		height, err := page.ContentHeight(ctx)
		if err != nil {
			return fmt.Errorf("measure height: %w", err)
		}
		if height == lastHeight {
			drain++
			st = stateDraining
		} else {
			drain = 0
			st = stateScrolling
		}
		lastHeight = height
		if drain >= c.cfg.DrainThreshold {
			st = stateStopped
		}

		cycles++
		metrics.ObserveCrawlCycle(node.GroupURL)
	}

	log.Info("crawl drained",
		zap.Int("cycles", cycles),
		zap.Int("posts", discovered))
	return nil
}

// isDuplicate consults the run-local set first, then the persistent store.
// Store errors degrade to L1-only behavior; they never end the run.
func (c *Crawler) isDuplicate(
	ctx context.Context,
	log *zap.Logger,
	groupURL string,
	seen map[string]struct{},
	hash string,
) bool {
	if _, ok := seen[hash]; ok {
		return true
	}
	if c.dedup == nil {
		return false
	}
	dup, err := c.dedup.Seen(ctx, dedupKey(groupURL, hash))
	if err != nil {
		log.Warn("dedup store lookup", zap.String("content_hash", hash), zap.Error(err))
		return false
	}
	if dup {
		// Remember the verdict locally so later cycles skip the store.
		seen[hash] = struct{}{}
	}
	return dup
}

func (c *Crawler) recordHash(ctx context.Context, log *zap.Logger, groupURL, hash string) {
	if c.dedup == nil {
		return
	}
	if err := c.dedup.Add(ctx, dedupKey(groupURL, hash)); err != nil {
		log.Warn("dedup store add", zap.String("content_hash", hash), zap.Error(err))
	}
}

// captureAudit stores a bounding-box screenshot keyed by the content hash.
// The capture is a downstream auditing aid, never a dedup input, so failures
// only log.
func (c *Crawler) captureAudit(
	ctx context.Context,
	log *zap.Logger,
	page feed.Page,
	workflowID, domID, hash string,
) {
	if c.blobs == nil {
		return
	}
	data, err := page.CaptureNode(ctx, domID)
	if err != nil {
		log.Warn("capture post screenshot", zap.String("content_hash", hash), zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s.png", workflowID, hash)
	if _, err := c.blobs.PutObject(ctx, path, c.cfg.ScreenshotContentType, data); err != nil {
		log.Warn("store post screenshot", zap.String("content_hash", hash), zap.Error(err))
	}
}

func (c *Crawler) pause(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.ScrollPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func dedupKey(groupURL, hash string) string {
	return groupURL + "|" + hash
}
