// Package browser adapts headless Chrome, driven through chromedp, to the
// session and page interfaces consumed by the crawl pipeline. Sessions reuse
// per-account Chrome profiles, so authentication cookies persist between runs
// and login is never performed here.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/feed"
)

// Config controls browser startup and page-level timeouts.
type Config struct {
	// ProfilesDir is the root directory holding one Chrome user-data-dir per
	// tenant/account pair.
	ProfilesDir string `mapstructure:"profiles_dir"`
	// UserAgent overrides the browser user agent when non-empty.
	UserAgent string `mapstructure:"user_agent"`
	// NavigationTimeout bounds a single page navigation.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// FeedReadyTimeout bounds the wait for the feed region after navigation.
	FeedReadyTimeout time.Duration `mapstructure:"feed_ready_timeout"`
	// ActionTimeout bounds short page interactions (scroll, evaluate,
	// screenshot).
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.FeedReadyTimeout <= 0 {
		c.FeedReadyTimeout = 30 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 15 * time.Second
	}
	return c
}

// Opener launches browser sessions bound to per-account profiles.
type Opener struct {
	cfg    Config
	logger *zap.Logger
}

// NewOpener creates a session opener.
func NewOpener(cfg Config, logger *zap.Logger) (*Opener, error) {
	if strings.TrimSpace(cfg.ProfilesDir) == "" {
		return nil, fmt.Errorf("profiles directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{cfg: cfg.withDefaults(), logger: logger}, nil
}

// OpenSession starts a Chrome instance on the profile belonging to the
// tenant/account pair and verifies it answers before handing it out. The
// session lives until Close; the passed context only bounds startup.
func (o *Opener) OpenSession(ctx context.Context, tenantID, accountID string, headless bool) (feed.Session, error) {
	profileDir, err := o.profileDir(tenantID, accountID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(profileDir, 0o750); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	}
	if headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if o.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.cfg.UserAgent))
	}

	// The session must outlive the opening call, so the allocator hangs off
	// the background context. Lifetime is owned by Session.Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	session := &Session{
		cfg:          o.cfg,
		browserCtx:   browserCtx,
		cancelChrome: browserCancel,
		cancelAlloc:  allocCancel,
		logger: o.logger.With(
			zap.String("tenant_id", tenantID),
			zap.String("account_id", accountID),
		),
	}

	// Warmup starts the browser process eagerly so a broken Chrome install
	// fails the open instead of the first crawl.
	if err := session.warmup(ctx); err != nil {
		session.shutdown()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	session.logger.Info("browser session opened",
		zap.Bool("headless", headless),
		zap.String("profile_dir", profileDir))
	return session, nil
}

func (o *Opener) profileDir(tenantID, accountID string) (string, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(accountID) == "" {
		return "", fmt.Errorf("tenant and account ids are required")
	}
	dir := filepath.Join(o.cfg.ProfilesDir, tenantID, accountID)

	cleanRoot := filepath.Clean(o.cfg.ProfilesDir)
	cleanDir := filepath.Clean(dir)
	if !strings.HasPrefix(cleanDir, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("profile path escapes profiles directory")
	}
	return cleanDir, nil
}

// Session is a running Chrome instance acting as a tab factory for one
// workflow run.
type Session struct {
	cfg          Config
	browserCtx   context.Context
	cancelChrome context.CancelFunc
	cancelAlloc  context.CancelFunc
	logger       *zap.Logger
}

func (s *Session) warmup(ctx context.Context) error {
	warmCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(warmCtx); err != nil {
		return fmt.Errorf("chromedp warmup: %w", err)
	}
	return nil
}

// NewPage opens a fresh tab owned exclusively by one crawler.
func (s *Session) NewPage(ctx context.Context) (feed.Page, error) {
	if err := s.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("session closed: %w", feed.ErrSessionDisconnected)
	}
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)

	// Materialize the target now so tab startup failures surface here.
	warmCtx, cancel := context.WithTimeout(tabCtx, s.cfg.ActionTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(warmCtx, tabSetupAction()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	return &Page{cfg: s.cfg, tabCtx: tabCtx, cancel: tabCancel, logger: s.logger}, nil
}

// IsConnected reports whether the underlying browser is still reachable.
func (s *Session) IsConnected() bool {
	return s.browserCtx.Err() == nil
}

// Close tears down the browser and its allocator.
func (s *Session) Close(_ context.Context) error {
	s.shutdown()
	s.logger.Info("browser session closed")
	return nil
}

func (s *Session) shutdown() {
	s.cancelChrome()
	s.cancelAlloc()
}

// tabSetupAction enables the network domain and disables the browser cache so
// repeated crawls of the same group observe fresh feed content.
func tabSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := network.SetCacheDisabled(true).Do(ctx); err != nil {
			return fmt.Errorf("disable browser cache: %w", err)
		}
		return nil
	})
}

// forwardCancel propagates cancellation from the caller's context into a
// chromedp-derived context without tying their lifetimes together. The
// returned stop function must be called once the operation finishes.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
