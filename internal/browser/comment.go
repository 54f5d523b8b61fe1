package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/feed"
)

// Commenter performs one-off comment posting through an authenticated
// session, isolated from the crawl loop.
type Commenter struct {
	logger *zap.Logger
}

// NewCommenter creates a Commenter.
func NewCommenter(logger *zap.Logger) *Commenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commenter{logger: logger}
}

// PostComment opens the post in a fresh tab, focuses the comment composer,
// types the text and submits with Enter.
func (c *Commenter) PostComment(ctx context.Context, session feed.Session, postURL, comment string) error {
	if strings.TrimSpace(postURL) == "" {
		return fmt.Errorf("post url is required")
	}
	if strings.TrimSpace(comment) == "" {
		return fmt.Errorf("comment text is required")
	}

	page, err := session.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open comment tab: %w", err)
	}
	defer func() {
		if closeErr := page.Close(context.Background()); closeErr != nil {
			c.logger.Warn("close comment tab", zap.Error(closeErr))
		}
	}()

	if err := page.Navigate(ctx, postURL); err != nil {
		return fmt.Errorf("open post: %w", err)
	}

	tab, ok := page.(*Page)
	if !ok {
		return fmt.Errorf("session page does not drive a browser tab")
	}
	err = tab.run(ctx, tab.cfg.NavigationTimeout,
		chromedp.WaitVisible(composerSelector, chromedp.ByQuery),
		chromedp.Click(composerSelector, chromedp.ByQuery),
		chromedp.SendKeys(composerSelector, comment, chromedp.ByQuery),
		chromedp.SendKeys(composerSelector, kb.Enter, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("submit comment: %w", err)
	}

	c.logger.Info("comment posted", zap.String("post_url", postURL))
	return nil
}
