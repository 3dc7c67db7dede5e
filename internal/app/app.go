// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/storefront-contact-crawler/internal/api"
	"github.com/JakeFAU/storefront-contact-crawler/internal/clock/system"
	"github.com/JakeFAU/storefront-contact-crawler/internal/config"
	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/dispatcher"
	"github.com/JakeFAU/storefront-contact-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/storefront-contact-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/storefront-contact-crawler/internal/hash/sha256"
	"github.com/JakeFAU/storefront-contact-crawler/internal/id/uuid"
	"github.com/JakeFAU/storefront-contact-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-contact-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
	"github.com/JakeFAU/storefront-contact-crawler/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/storefront-contact-crawler/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/storefront-contact-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/storefront-contact-crawler/internal/relevance"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver/cse"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver/gemini"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver/perplexity"
	"github.com/JakeFAU/storefront-contact-crawler/internal/reviews"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/gcs"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/local"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/memory"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/postgres"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
	"github.com/JakeFAU/storefront-contact-crawler/internal/urlcheck"
	"github.com/JakeFAU/storefront-contact-crawler/internal/worker"
)

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default.
	Registerer prometheus.Registerer
	Transport  crawler.Transport
	Repository store.Repository
	Publisher  worker.Publisher
	BlobStore  export.BlobStore
	Clock      crawler.Clock
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup and handed to the command that runs.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Clock        crawler.Clock
	IDs          crawler.IDGenerator
	Repo         store.Repository
	Transport    crawler.Transport
	Engine       *crawler.Engine
	Hub          *progress.Hub
	Relevance    *relevance.Filter
	Orchestrator *resolver.Orchestrator
	EmailJob     *worker.EmailJob
	URLJob       *worker.URLJob
	EmailPool    *dispatcher.Pool
	URLPool      *dispatcher.Pool
	Ingester     *reviews.Ingester
	Exporter     *export.Exporter
	Publisher    worker.Publisher

	closers []func() error
}

// New creates and initializes every service from cfg. It fails fast if a
// critical service cannot be initialized; whatever was opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{Config: cfg, Logger: logger, IDs: uuid.NewUUIDGenerator()}
	a.Clock = opts.Clock
	if a.Clock == nil {
		a.Clock = system.New()
	}

	if err := a.build(ctx, opts); err != nil {
		if a.Hub != nil {
			_ = a.Hub.Close(ctx) //nolint:errcheck // reporting the build error instead
		}
		_ = a.closeAll() //nolint:errcheck // reporting the build error instead
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("database", cfg.Database.Driver),
		zap.Strings("resolvers", a.Orchestrator.Providers()),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	logger := a.Logger

	repo, err := a.openRepository(ctx, opts.Repository)
	if err != nil {
		return err
	}
	a.Repo = repo

	a.Transport = opts.Transport
	if a.Transport == nil {
		a.Transport = collyfetcher.New(cfg.Crawler.Transport())
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	a.Hub = progress.NewHub(
		progress.Config{Logger: logger, BaseContext: context.WithoutCancel(ctx)},
		sinks.NewLogSink(logger),
		promSink,
		sinks.NewStoreSink(repo, logger),
	)

	a.Engine = crawler.NewEngine(a.Transport, cfg.Crawler.Engine(),
		crawler.WithHasher(sha256.New()),
		crawler.WithEmitter(a.Hub),
		crawler.WithLogger(logger.Named("crawler")),
	)

	if a.Relevance, err = a.buildRelevance(ctx); err != nil {
		return err
	}
	if a.Orchestrator, err = a.buildOrchestrator(ctx); err != nil {
		return err
	}

	a.Publisher = opts.Publisher
	if a.Publisher == nil {
		if a.Publisher, err = a.openPublisher(ctx); err != nil {
			return err
		}
	}

	a.EmailJob = worker.NewEmailJob(repo, a.Engine, a.Relevance, a.IDs, a.Publisher, a.Clock, worker.EmailConfig{
		MaxAttempts: cfg.Scheduler.MaxEmailAttempts,
		StaleAfter:  cfg.Scheduler.Email.StaleAfter,
		Cooldown:    cfg.Scheduler.Cooldown,
		Topic:       cfg.PubSub.Topic,
	}, logger.Named("email"))
	a.URLJob = worker.NewURLJob(repo, a.Orchestrator, worker.URLConfig{
		MaxAttempts: cfg.Scheduler.MaxURLAttempts,
		StaleAfter:  cfg.Scheduler.URL.StaleAfter,
	}, logger.Named("url"))

	a.EmailPool = dispatcher.New(a.EmailJob, cfg.Scheduler.Email,
		dispatcher.WithSweeper(repo),
		dispatcher.WithStopper(a.Engine),
		dispatcher.WithLogger(logger),
	)
	a.URLPool = dispatcher.New(a.URLJob, cfg.Scheduler.URL,
		dispatcher.WithSweeper(repo),
		dispatcher.WithLogger(logger),
	)

	reviewSession := crawler.NewSession(a.Transport, cfg.Crawler.Engine().Session, logger.Named("reviews"), nil)
	scraper := reviews.NewScraper(reviewSession, ratelimit.New(cfg.Reviews.Limiter()), logger.Named("reviews"))
	a.Ingester = reviews.NewIngester(repo, scraper, a.IDs, a.Clock, a.Hub, logger.Named("reviews"))

	blobs := opts.BlobStore
	if blobs == nil {
		if blobs, err = a.openBlobStore(ctx); err != nil {
			return err
		}
	}
	a.Exporter = export.New(repo, blobs, a.Clock)
	return nil
}

func (a *App) openRepository(ctx context.Context, override store.Repository) (store.Repository, error) {
	if override != nil {
		return override, nil
	}
	cfg := a.Config.Database
	switch cfg.Driver {
	case config.DriverMemory:
		a.Logger.Warn("using in-memory repository; data is lost on exit")
		return memory.NewRepository(a.Clock), nil
	case config.DriverPostgres:
		repo, err := postgres.New(ctx, cfg.Postgres())
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		a.closers = append(a.closers, func() error { repo.Close(); return nil })
		if cfg.Migrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate repository: %w", err)
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func (a *App) buildRelevance(ctx context.Context) (*relevance.Filter, error) {
	opts := []relevance.Option{relevance.WithLogger(a.Logger.Named("relevance"))}
	cfg := a.Config
	if cfg.Relevance.Adjudicate {
		if cfg.Resolver.Gemini.APIKey == "" {
			a.Logger.Warn("relevance adjudication requested without a gemini api key; heuristics only")
		} else {
			adj, err := gemini.NewAdjudicator(ctx, cfg.Resolver.Gemini, a.Logger.Named("adjudicator"))
			if err != nil {
				return nil, fmt.Errorf("init adjudicator: %w", err)
			}
			opts = append(opts, relevance.WithAdjudicator(adj, cfg.Relevance.Threshold))
		}
	}
	return relevance.New(opts...), nil
}

// buildOrchestrator creates providers in configured order. Providers missing
// credentials are skipped with a warning so a partial setup still resolves.
func (a *App) buildOrchestrator(ctx context.Context) (*resolver.Orchestrator, error) {
	cfg := a.Config.Resolver
	logger := a.Logger.Named("resolver")
	var providers []resolver.Provider
	for _, name := range cfg.Providers {
		p, err := a.buildProvider(ctx, name, logger)
		if err != nil {
			return nil, fmt.Errorf("init %s provider: %w", name, err)
		}
		if p == nil {
			logger.Warn("provider disabled: missing credentials", zap.String("provider", name))
			continue
		}
		providers = append(providers, p)
	}
	checker := urlcheck.New(cfg.URLCheck, urlcheck.WithLogger(logger))
	return resolver.New(a.Repo, cfg.Orchestrator, providers,
		resolver.WithValidator(checker),
		resolver.WithCache(resolver.NewCache(cfg.CacheTTL, a.Clock)),
		resolver.WithLimiter(ratelimit.New(cfg.Limiter())),
		resolver.WithLogger(logger),
	), nil
}

func (a *App) buildProvider(ctx context.Context, name string, logger *zap.Logger) (resolver.Provider, error) {
	cfg := a.Config.Resolver
	switch name {
	case "cse":
		if cfg.CSE.APIKey == "" || cfg.CSE.CX == "" {
			return nil, nil
		}
		var selector cse.Selector
		if cfg.Gemini.APIKey != "" {
			sel, err := gemini.NewSelector(ctx, cfg.Gemini, logger)
			if err != nil {
				return nil, err
			}
			selector = sel
		}
		return cse.New(ctx, cfg.CSE, selector, logger)
	case "perplexity":
		if cfg.Perplexity.APIKey == "" {
			return nil, nil
		}
		return perplexity.New(cfg.Perplexity, logger)
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, nil
		}
		return gemini.New(ctx, cfg.Gemini, a.Transport, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func (a *App) openPublisher(ctx context.Context) (worker.Publisher, error) {
	cfg := a.Config.PubSub
	if !cfg.Enabled {
		return pubmemory.New(), nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpub.New(client)
	a.closers = append(a.closers, func() error {
		pub.Stop()
		return client.Close()
	})
	return pub, nil
}

func (a *App) openBlobStore(ctx context.Context) (export.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcs.New(client, cfg.GCS)
	case config.BackendLocal:
		return local.New(cfg.Local)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Server builds the HTTP API over the app's services. Long-running work it
// starts is parented on ctx.
func (a *App) Server(ctx context.Context) *api.Server {
	return api.NewServer(api.Deps{
		Repo:        a.Repo,
		EmailPool:   a.EmailPool,
		URLPool:     a.URLPool,
		URLJob:      a.URLJob,
		Ingester:    a.Ingester,
		Exporter:    a.Exporter,
		Clock:       a.Clock,
		BaseContext: ctx,
	}, api.Options{
		AuthEnabled: a.Config.Auth.Enabled,
		APIKey:      a.Config.Auth.APIKey,
	}, a.Logger.Named("api"))
}

// RunPools runs both worker pools until ctx ends.
func (a *App) RunPools(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, pool := range []*dispatcher.Pool{a.EmailPool, a.URLPool} {
		g.Go(func() error {
			pool.Run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run pools: %w", err)
	}
	return nil
}

// Shutdown stops admission, waits for in-flight stores until ctx expires
// and releases every service.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application services")
	a.EmailPool.Stop()
	a.URLPool.Stop()

	done := make(chan struct{})
	go func() {
		a.EmailPool.Wait()
		a.URLPool.Wait()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for workers: %w", ctx.Err()))
	}
	if err := a.Hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close progress hub: %w", err))
	}
	if n := a.Hub.Dropped(); n > 0 {
		a.Logger.Warn("progress events were dropped during this run", zap.Int64("dropped", n))
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
