package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/classifier"
	"github.com/luisdavi29052005/pipfox/internal/feed"
)

// Page drives one Chrome tab. Instances are not safe for concurrent use; the
// crawl loop owns a page exclusively.
type Page struct {
	cfg    Config
	tabCtx context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// Navigate loads the target URL and waits for the initial document.
func (p *Page) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, p.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitFeedReady blocks until the feed landmark is visible.
func (p *Page) WaitFeedReady(ctx context.Context) error {
	err := p.run(ctx, p.cfg.FeedReadyTimeout,
		chromedp.WaitVisible(feedSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("wait feed region: %w", err)
	}
	return nil
}

// Candidates scans the feed region for unprocessed fragments and returns
// their classification signals and extracted content.
func (p *Page) Candidates(ctx context.Context) ([]feed.Candidate, error) {
	var dtos []candidateDTO
	err := p.run(ctx, p.cfg.ActionTimeout,
		chromedp.Evaluate(collectCandidatesJS, &dtos),
	)
	if err != nil {
		return nil, fmt.Errorf("collect candidates: %w", err)
	}
	candidates := make([]feed.Candidate, 0, len(dtos))
	for _, dto := range dtos {
		candidates = append(candidates, dto.toCandidate())
	}
	return candidates, nil
}

// MarkSeen flags the given fragments so subsequent scans skip them.
func (p *Page) MarkSeen(ctx context.Context, domIDs []string) error {
	if len(domIDs) == 0 {
		return nil
	}
	encoded, err := json.Marshal(domIDs)
	if err != nil {
		return fmt.Errorf("encode dom ids: %w", err)
	}
	var marked int
	err = p.run(ctx, p.cfg.ActionTimeout,
		chromedp.Evaluate(fmt.Sprintf(markSeenJS, encoded), &marked),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if marked < len(domIDs) {
		p.logger.Debug("some processed nodes left the dom before marking",
			zap.Int("requested", len(domIDs)),
			zap.Int("marked", marked))
	}
	return nil
}

// ScrollBy scrolls the window down by the given pixel amount.
func (p *Page) ScrollBy(ctx context.Context, pixels int) error {
	err := p.run(ctx, p.cfg.ActionTimeout,
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", pixels), nil),
	)
	if err != nil {
		return fmt.Errorf("scroll by %d: %w", pixels, err)
	}
	return nil
}

// ContentHeight returns the scrollable height of the document.
func (p *Page) ContentHeight(ctx context.Context) (int64, error) {
	var height int64
	err := p.run(ctx, p.cfg.ActionTimeout,
		chromedp.Evaluate(contentHeightJS, &height),
	)
	if err != nil {
		return 0, fmt.Errorf("measure content height: %w", err)
	}
	return height, nil
}

// CaptureNode screenshots the bounding box of a tagged fragment.
func (p *Page) CaptureNode(ctx context.Context, domID string) ([]byte, error) {
	selector := fmt.Sprintf(`[data-pipfox-id=%q]`, domID)
	var buf []byte
	err := p.run(ctx, p.cfg.ActionTimeout,
		chromedp.Screenshot(selector, &buf, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("capture node %s: %w", domID, err)
	}
	return buf, nil
}

// GroupName resolves the display name of the group being crawled.
func (p *Page) GroupName(ctx context.Context) (string, error) {
	var name string
	err := p.run(ctx, p.cfg.ActionTimeout,
		chromedp.Evaluate(groupNameJS, &name),
	)
	if err != nil {
		return "", fmt.Errorf("resolve group name: %w", err)
	}
	return name, nil
}

// Close releases the tab.
func (p *Page) Close(_ context.Context) error {
	p.cancel()
	return nil
}

// run executes chromedp actions against the tab under a timeout while
// honoring the caller's context.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.tabCtx.Err(); err != nil {
		return fmt.Errorf("tab closed: %w", feed.ErrSessionDisconnected)
	}
	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// candidateDTO is the wire shape produced by collectCandidatesJS.
type candidateDTO struct {
	ID         string   `json:"id"`
	Toolbar    bool     `json:"toolbar"`
	Timestamp  bool     `json:"timestamp"`
	TextLength int      `json:"textLength"`
	Exclusions []string `json:"exclusions"`
	URL        string   `json:"url"`
	Author     string   `json:"author"`
	Text       string   `json:"text"`
	Images     []string `json:"images"`
	PostedAt   string   `json:"postedAt"`
	FromModal  bool     `json:"fromModal"`
}

func (d candidateDTO) toCandidate() feed.Candidate {
	return feed.Candidate{
		DOMID: d.ID,
		Features: classifier.Features{
			Toolbar:    d.Toolbar,
			Timestamp:  d.Timestamp,
			TextLength: d.TextLength,
			Exclusions: d.Exclusions,
		},
		URL:       d.URL,
		Author:    d.Author,
		Text:      d.Text,
		Images:    d.Images,
		Timestamp: d.PostedAt,
		FromModal: d.FromModal,
	}
}
