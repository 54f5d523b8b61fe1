// Package main wires together the pipfox crawl service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/browser"
	"github.com/luisdavi29052005/pipfox/internal/clock/system"
	"github.com/luisdavi29052005/pipfox/internal/config"
	"github.com/luisdavi29052005/pipfox/internal/crawler"
	"github.com/luisdavi29052005/pipfox/internal/dedup"
	"github.com/luisdavi29052005/pipfox/internal/delivery"
	"github.com/luisdavi29052005/pipfox/internal/feed"
	"github.com/luisdavi29052005/pipfox/internal/id/uuid"
	"github.com/luisdavi29052005/pipfox/internal/intake"
	"github.com/luisdavi29052005/pipfox/internal/logging"
	"github.com/luisdavi29052005/pipfox/internal/metrics"
	queuememory "github.com/luisdavi29052005/pipfox/internal/queue/memory"
	queuepubsub "github.com/luisdavi29052005/pipfox/internal/queue/pubsub"
	"github.com/luisdavi29052005/pipfox/internal/registry"
	"github.com/luisdavi29052005/pipfox/internal/runner"
	"github.com/luisdavi29052005/pipfox/internal/storage"
	storagegcs "github.com/luisdavi29052005/pipfox/internal/storage/gcs"
	storagelocal "github.com/luisdavi29052005/pipfox/internal/storage/local"
	storagememory "github.com/luisdavi29052005/pipfox/internal/storage/memory"
	storememory "github.com/luisdavi29052005/pipfox/internal/store/memory"
	storepostgres "github.com/luisdavi29052005/pipfox/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, closeStore, err := buildWorkflowStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	dedupStore, closeDedup, err := buildDedupStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDedup()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	opener, err := browser.NewOpener(browser.Config{
		ProfilesDir:       cfg.Browser.ProfilesDir,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.Browser.NavigationTimeout(),
		FeedReadyTimeout:  cfg.Browser.FeedReadyTimeout(),
		ActionTimeout:     cfg.Browser.ActionTimeout(),
	}, logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("init browser opener: %w", err)
	}

	reg := registry.New()
	crawl := crawler.New(dedupStore, blobs, crawler.Config{
		ScrollIncrementPx:     cfg.Crawler.ScrollIncrementPx,
		ScrollPause:           cfg.Crawler.ScrollPause(),
		DrainThreshold:        cfg.Crawler.DrainThreshold,
		ScreenshotContentType: cfg.Storage.ContentType,
	}, logger.Named("crawler"))
	dispatcher := delivery.New(cfg.Delivery.WebhookURL, cfg.Delivery.Timeout(), logger.Named("delivery"))
	workflows := runner.New(crawl, dispatcher, reg, runner.Config{
		DisconnectPoll: cfg.Browser.DisconnectPoll(),
	}, logger.Named("runner"))

	var queue feed.Queue
	var closeQueue func()
	if cfg.Intake.Source == "memory" {
		memQueue := queuememory.NewQueue(cfg.Intake.QueueDepth)
		queue = memQueue
		closeQueue = memQueue.Close
	} else {
		closeQueue = func() {}
	}

	in := intake.New(
		queue,
		store,
		opener,
		workflows,
		reg,
		browser.NewCommenter(logger.Named("commenter")),
		system.New(),
		uuid.New(),
		intake.Config{
			MaxConcurrent: cfg.Intake.MaxConcurrent,
			Headless:      cfg.Intake.Headless,
		},
		logger.Named("intake"),
	)

	intakeDone := make(chan struct{})
	switch cfg.Intake.Source {
	case "memory":
		go func() {
			defer close(intakeDone)
			logger.Info("intake started", zap.String("source", "memory"))
			in.Run(ctx)
		}()
	case "pubsub":
		source, err := queuepubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.SubscriptionID,
			cfg.Intake.MaxConcurrent, logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("init pubsub source: %w", err)
		}
		defer func() {
			if closeErr := source.Close(); closeErr != nil {
				logger.Warn("close pubsub source", zap.Error(closeErr))
			}
		}()
		go func() {
			defer close(intakeDone)
			logger.Info("intake started", zap.String("source", "pubsub"))
			if err := source.Run(ctx, in.Process); err != nil {
				logger.Error("pubsub receive failed", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	closeQueue()

	select {
	case <-intakeDone:
	case <-time.After(10 * time.Second):
		logger.Warn("intake did not drain before deadline")
	}
	return nil
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func buildWorkflowStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (feed.WorkflowStore, func(), error) {
	switch cfg.DB.Driver {
	case "postgres":
		store, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: cfg.DB.ConnLifetime(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres workflow store: %w", err)
		}
		return store, store.Close, nil
	default:
		logger.Warn("using in-memory workflow store, state is lost on restart")
		return storememory.NewWorkflowStore(), func() {}, nil
	}
}

func buildDedupStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (feed.DedupStore, func(), error) {
	if !cfg.Redis.Enabled {
		return dedup.NewMemory(), func() {}, nil
	}
	store, err := dedup.NewRedis(ctx, dedup.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init redis dedup store: %w", err)
	}
	return store, func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close redis dedup store", zap.Error(closeErr))
		}
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (feed.BlobStore, error) {
	var store feed.BlobStore
	switch cfg.Storage.Provider {
	case "local":
		local, err := storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		store = local
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		if _, err := client.Bucket(cfg.Storage.GCSBucket).Attrs(ctx); err != nil {
			return nil, fmt.Errorf("check gcs bucket %q: %w", cfg.Storage.GCSBucket, err)
		}
		gcs, err := storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		store = gcs
	case "memory":
		store = storagememory.NewBlobStore()
	default:
		store = storage.NoOp{}
	}
	return storage.WithPrefix(store, cfg.Storage.Prefix), nil
}
