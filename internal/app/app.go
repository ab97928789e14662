// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/clock/system"
	"github.com/JakeFAU/ota-answers-crawler/internal/config"
	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/dedup"
	collyfetcher "github.com/JakeFAU/ota-answers-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/ota-answers-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/ota-answers-crawler/internal/hash/sha256"
	"github.com/JakeFAU/ota-answers-crawler/internal/headless/detector"
	"github.com/JakeFAU/ota-answers-crawler/internal/id/uuid"
	"github.com/JakeFAU/ota-answers-crawler/internal/logging"
	"github.com/JakeFAU/ota-answers-crawler/internal/normalizer"
	"github.com/JakeFAU/ota-answers-crawler/internal/pipeline"
	"github.com/JakeFAU/ota-answers-crawler/internal/policy/ratelimit"
	memorypub "github.com/JakeFAU/ota-answers-crawler/internal/publisher/memory"
	natspub "github.com/JakeFAU/ota-answers-crawler/internal/publisher/nats"
	pubsubpub "github.com/JakeFAU/ota-answers-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ota-answers-crawler/internal/seeds"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
	"github.com/JakeFAU/ota-answers-crawler/internal/storage/gcs"
	"github.com/JakeFAU/ota-answers-crawler/internal/storage/local"
	"github.com/JakeFAU/ota-answers-crawler/internal/storage/memory"
	"github.com/JakeFAU/ota-answers-crawler/internal/storage/mongodb"
	"github.com/JakeFAU/ota-answers-crawler/internal/storage/postgres"
	"github.com/JakeFAU/ota-answers-crawler/internal/storage/sqlite"
)

// App holds the shared, long-lived services built from a Config.
// It is initialized once at startup and closed when the command exits.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Pipeline *pipeline.Pipeline
	Runs     crawler.RunStore
	Articles crawler.ArticleStore
	Limiters *ratelimit.Set
	Manifest *seeds.Manifest
	IDs      crawler.IDGenerator
	Clock    crawler.Clock

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// New builds every collaborator named by cfg. On failure, anything already
// opened is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		IDs:    uuid.New(),
		Clock:  system.New(),
	}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("initializing application services")

	if err = a.openStores(ctx); err != nil {
		return nil, err
	}
	archive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := a.buildGate(ctx)
	if err != nil {
		return nil, err
	}
	rendered, err := a.buildRenderer()
	if err != nil {
		return nil, err
	}
	if cfg.Seeds.File != "" {
		a.Manifest, err = seeds.Load(cfg.Seeds.File)
		if err != nil {
			return nil, err
		}
	}

	a.Limiters = ratelimit.NewSet(cfg.RateLimit, ratelimit.NewRegistry(),
		ratelimit.WithLogger(logging.Component(logger, "ratelimit")))

	registry := sources.NewRegistry(sources.Options{
		MinLength: func(p crawler.Platform) int {
			return cfg.Parser.MinLengthFor(string(p))
		},
		Placeholders:      cfg.Parser.PlaceholderTitles,
		MaxReplies:        cfg.Parser.MaxReplies,
		StackExchangeSite: cfg.Parser.StackExchangeSite,
		StackExchangeKey:  cfg.Parser.StackExchangeKey,
		UserAgent:         cfg.HTTP.UserAgent,
		Logger:            logging.Component(logger, "sources"),
	})

	var archiver *pipeline.Archiver
	if archive != nil {
		archiver = pipeline.NewArchiver(archive, cfg.Archive.Prefix, a.Clock, logging.Component(logger, "archive"))
	}

	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Sources:  registry,
		Limiters: a.Limiters,
		Static: collyfetcher.New(collyfetcher.Config{
			UserAgent:      cfg.HTTP.UserAgent,
			AcceptLanguage: cfg.HTTP.AcceptLanguage,
			Timeout:        cfg.HTTP.Timeout(),
			RespectRobots:  cfg.HTTP.RespectRobots,
			MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
			Logger:         logging.Component(logger, "fetcher.static"),
		}),
		Rendered:   rendered,
		Detector:   detector.NewHeuristic(cfg.Headless.PromotionMinBytes),
		Gate:       gate,
		Normalizer: normalizer.New(a.Articles, a.Clock, logging.Component(logger, "normalizer")),
		Archive:    archiver,
		Publisher:  publisher,
		IDs:        a.IDs,
		Clock:      a.Clock,
		Logger:     logging.Component(logger, "pipeline"),
	}, pipeline.Config{
		MaxPages:      cfg.Parser.MaxPages,
		PromoteStatic: cfg.Headless.Enabled && cfg.Headless.PromoteStatic,
		Topic:         cfg.Publisher.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("publisher", cfg.Publisher.Driver),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config.Store
	switch cfg.Driver {
	case "memory":
		a.Articles = memory.NewArticleStore()
		a.Runs = memory.NewRunStore()
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DSN,
			MaxConns: int32(cfg.MaxConns),
		})
		if err != nil {
			return err
		}
		a.onClose("postgres", func(context.Context) error {
			pool.Close()
			return nil
		})
		articles, err := postgres.NewArticleStore(pool, cfg.Table)
		if err != nil {
			return err
		}
		if err := articles.EnsureSchema(ctx); err != nil {
			return err
		}
		runs := postgres.NewRunStore(pool)
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Articles, a.Runs = articles, runs
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return err
		}
		a.onClose("sqlite", func(context.Context) error { return store.Close() })
		a.Articles = store
		a.Runs = memory.NewRunStore()
	case "mongo":
		store, err := mongodb.Connect(ctx, mongodb.Config{
			URI:        cfg.MongoURI,
			Database:   cfg.Database,
			Collection: cfg.Collection,
		})
		if err != nil {
			return err
		}
		a.onClose("mongo", store.Close)
		a.Articles = store
		a.Runs = memory.NewRunStore()
	default:
		return fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
	a.Logger.Info("article store ready", zap.String("driver", cfg.Driver))
	return nil
}

// openArchive returns nil when snapshots are disabled.
func (a *App) openArchive(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.Config.Archive
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.Dir})
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, err
		}
		a.onClose("gcs", func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver: %q", cfg.Driver)
	}
}

// openPublisher returns nil when run notifications are disabled.
func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.Config.Publisher
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return memorypub.New(), nil
	case "pubsub":
		pub, err := pubsubpub.Open(ctx, cfg.ProjectID, cfg.Topic)
		if err != nil {
			return nil, err
		}
		a.onClose("pubsub", func(context.Context) error { return pub.Close() })
		return pub, nil
	case "nats":
		pub, err := natspub.Connect(cfg.NATSURL, cfg.Topic)
		if err != nil {
			return nil, err
		}
		a.onClose("nats", func(context.Context) error { return pub.Close() })
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher driver: %q", cfg.Driver)
	}
}

func (a *App) buildGate(ctx context.Context) (*dedup.Gate, error) {
	cfg := a.Config.Dedup
	opts := []dedup.Option{dedup.WithLogger(logging.Component(a.Logger, "dedup"))}
	if cfg.Redis.Addr != "" {
		cache, err := dedup.NewRedisCache(ctx, dedup.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTLHours) * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		a.onClose("redis", func(context.Context) error { return cache.Close() })
		opts = append(opts, dedup.WithCache(cache))
	}
	fp := dedup.NewFingerprinter(sha256.New(), cfg.MinLength)
	return dedup.NewGate(fp, a.Articles, opts...), nil
}

func (a *App) buildRenderer() (crawler.Fetcher, error) {
	cfg := a.Config.Headless
	if !cfg.Enabled {
		return headless.NewNoop(), nil
	}
	f, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.MaxParallel,
		UserAgent:         a.Config.HTTP.UserAgent,
		AcceptLanguage:    a.Config.HTTP.AcceptLanguage,
		NavigationTimeout: time.Duration(cfg.NavTimeoutSec) * time.Second,
		NetworkIdleWait:   time.Duration(cfg.NetworkIdleMs) * time.Millisecond,
		ViewportWidth:     cfg.ViewportWidth,
		ViewportHeight:    cfg.ViewportHeight,
		BlockedResources:  cfg.BlockedResources,
		Pacer:             ratelimit.NewHostLimiter(cfg.PerHostQPS, 1),
		Logger:            logging.Component(a.Logger, "fetcher.headless"),
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	a.onClose("headless", func(context.Context) error {
		f.Close()
		return nil
	})
	return f, nil
}

// Close releases every opened service in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
