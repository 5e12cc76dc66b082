// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the serve and analyze commands.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-research-crawler/internal/analysis"
	"github.com/JakeFAU/market-research-crawler/internal/api"
	rediscache "github.com/JakeFAU/market-research-crawler/internal/cache/redis"
	"github.com/JakeFAU/market-research-crawler/internal/clock/system"
	"github.com/JakeFAU/market-research-crawler/internal/config"
	"github.com/JakeFAU/market-research-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/market-research-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/market-research-crawler/internal/id/uuid"
	"github.com/JakeFAU/market-research-crawler/internal/logging"
	"github.com/JakeFAU/market-research-crawler/internal/metrics"
	"github.com/JakeFAU/market-research-crawler/internal/pipeline"
	publishermemory "github.com/JakeFAU/market-research-crawler/internal/publisher/memory"
	gcppubsub "github.com/JakeFAU/market-research-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/market-research-crawler/internal/storage/gcs"
	"github.com/JakeFAU/market-research-crawler/internal/storage/local"
	"github.com/JakeFAU/market-research-crawler/internal/storage/memory"
	"github.com/JakeFAU/market-research-crawler/internal/storage/postgres"
	"github.com/JakeFAU/market-research-crawler/internal/telemetry"
)

// App holds the shared, long-lived services. It is built once at startup and
// closed on shutdown.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	ids     *uuid.Generator
	clock   *system.Clock
	service *pipeline.Service
	ready   []api.ReadinessCheck
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New builds every collaborator described by cfg. Optional sinks that are
// configured but unreachable fail startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = logging.OrNop(logger)
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
	}
	logger.Info("initializing application services")

	crawlers, err := buildCrawlers(cfg.Crawler, logger)
	if err != nil {
		return nil, err
	}
	attempts, err := buildAttempts(ctx, cfg.Providers, logger)
	if err != nil {
		return nil, err
	}
	analyzer := analysis.NewAnalyzer(analysis.NewChain(logger, attempts...), logger)

	deps := pipeline.Deps{
		Crawlers: crawlers,
		Analyzer: analyzer,
		Clock:    a.clock,
		IDs:      a.ids,
		Logger:   logger,
	}
	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		telemetry.InitGlobal(tp)
		a.onClose("tracing", func() error {
			return tp.Shutdown(context.Background())
		})
		deps.Tracer = tp.Tracer("github.com/JakeFAU/market-research-crawler/internal/pipeline")
	}
	if err := a.wireSinks(ctx, &deps); err != nil {
		a.Close()
		return nil, err
	}

	topic := ""
	if deps.Publisher != nil {
		topic = cfg.PubSub.TopicName
	}
	service, err := pipeline.NewService(pipeline.Config{
		DefaultProfile: cfg.Crawler.DefaultProfile,
		ArchivePrefix:  cfg.Archive.Prefix,
		Topic:          topic,
		Blocklist:      crawler.NewBlocklist(cfg.Crawler.BlockedDomains),
	}, deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	a.service = service

	logger.Info("application services initialized",
		zap.Strings("profiles", service.Profiles()),
		zap.Int("provider_attempts", len(attempts)),
	)
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Service returns the analysis pipeline.
func (a *App) Service() *pipeline.Service {
	return a.service
}

// Run executes one analysis run on the pipeline.
func (a *App) Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	return a.service.Run(ctx, req)
}

// Handler builds the HTTP API over the pipeline.
func (a *App) Handler() http.Handler {
	opts := make([]api.Option, 0, len(a.ready))
	for _, check := range a.ready {
		opts = append(opts, api.WithReadinessCheck(check))
	}
	return api.NewServer(a.service, a.ids, a.clock, a.cfg, a.logger, opts...).Handler()
}

// Close releases sink connections in reverse order of creation and flushes
// the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func buildCrawlers(cfg config.CrawlerConfig, logger *zap.Logger) (map[string]pipeline.Crawler, error) {
	crawlers := make(map[string]pipeline.Crawler, len(cfg.Profiles))
	for _, name := range cfg.ProfileNames() {
		pc := cfg.Profiles[name]
		profile, err := pc.CrawlProfile(name)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		fetcher := collyfetcher.New(collyfetcher.Config{
			UserAgents:   cfg.UserAgents,
			Timeout:      pc.Timeout,
			MaxRedirects: pc.MaxRedirects,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Blocklist:    crawler.NewBlocklist(cfg.BlockedDomains),
		})
		engine, err := crawler.NewEngine(profile, fetcher, logger.Named("crawler").With(zap.String("profile", name)))
		if err != nil {
			return nil, fmt.Errorf("build crawler: %w", err)
		}
		crawlers[name] = engine
	}
	return crawlers, nil
}

// buildAttempts orders the fallback attempts: every primary model, then every
// secondary model. Providers without an API key are skipped.
func buildAttempts(ctx context.Context, cfg config.ProvidersConfig, logger *zap.Logger) ([]analysis.Attempt, error) {
	var attempts []analysis.Attempt
	for _, pc := range []config.ProviderConfig{cfg.Primary, cfg.Secondary} {
		if pc.APIKey == "" {
			logger.Warn("analysis provider has no api key; skipping", zap.String("kind", pc.Kind))
			continue
		}
		provider, err := newProvider(ctx, pc)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, analysis.AttemptsFor(provider, pc.Models...)...)
	}
	return attempts, nil
}

func newProvider(ctx context.Context, pc config.ProviderConfig) (analysis.Provider, error) {
	switch pc.Kind {
	case config.ProviderGemini:
		p, err := analysis.NewGemini(ctx, analysis.GeminiConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Timeout: pc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return p, nil
	case config.ProviderChat:
		p, err := analysis.NewChat(analysis.ChatConfig{
			Name:        pc.Name,
			APIKey:      pc.APIKey,
			BaseURL:     pc.BaseURL,
			Temperature: pc.Temperature,
			MaxTokens:   pc.MaxTokens,
			Timeout:     pc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("chat provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
	}
}

// wireSinks fills the optional cache, archive, run store and publisher.
// Interfaces are only assigned for configured sinks so that disabled ones
// stay nil.
func (a *App) wireSinks(ctx context.Context, deps *pipeline.Deps) error {
	cfg := a.cfg
	l := a.logger

	if cfg.Cache.Enabled {
		l.Info("connecting to redis report cache", zap.String("addr", cfg.Cache.Addr))
		cache, rdb, err := rediscache.Dial(ctx, rediscache.Config{
			Addr:      cfg.Cache.Addr,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			TTL:       cfg.Cache.TTL,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		deps.Cache = cache
		a.onClose("redis", rdb.Close)
		a.ready = append(a.ready, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	switch cfg.Archive.Kind {
	case config.ArchiveNone, "":
		l.Info("report archive disabled")
	case config.ArchiveMemory:
		deps.Archive = memory.NewBlobStore()
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		l.Info("archiving reports locally", zap.String("dir", cfg.Archive.LocalDir))
		deps.Archive = store
	case config.ArchiveGCS:
		store, client, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		l.Info("archiving reports to GCS", zap.String("bucket", cfg.Archive.GCSBucket))
		deps.Archive = store
		a.onClose("gcs", client.Close)
	default:
		return fmt.Errorf("unknown archive kind: %s", cfg.Archive.Kind)
	}

	if cfg.DB.DSN != "" {
		l.Info("connecting to postgres run index")
		runs, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize run store: %w", err)
		}
		a.onClose("postgres", func() error {
			runs.Close()
			return nil
		})
		if cfg.DB.EnsureSchema {
			if err := runs.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("failed to ensure run schema: %w", err)
			}
		}
		deps.Runs = runs
	}

	switch cfg.PubSub.Kind {
	case config.PublisherNone, "":
		l.Info("completion events disabled")
	case config.PublisherMemory:
		deps.Publisher = publishermemory.New()
	case config.PublisherGCP:
		pub, err := gcppubsub.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		l.Info("publishing completion events", zap.String("topic", cfg.PubSub.TopicName))
		deps.Publisher = pub
		a.onClose("pubsub", pub.Close)
	default:
		return fmt.Errorf("unknown publisher kind: %s", cfg.PubSub.Kind)
	}

	return nil
}
