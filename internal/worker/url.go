package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// URLRepository is the store surface URLJob needs.
type URLRepository interface {
	Claimer
	PendingURLStores(ctx context.Context, limit int, exclude []int64) ([]store.Store, error)
	IncrementURLAttempts(ctx context.Context, id int64) (int, error)
	SaveURLResult(ctx context.Context, id int64, o store.URLOutcome) error
}

// Resolver decides and records a store URL. *resolver.Orchestrator
// satisfies it.
type Resolver interface {
	Process(ctx context.Context, st store.Store) (resolver.Decision, error)
}

// URLConfig tunes URLJob.
type URLConfig struct {
	MaxAttempts int
	StaleAfter  time.Duration
}

// URLJob resolves one store's URL.
type URLJob struct {
	repo     URLRepository
	resolver Resolver
	cfg      URLConfig
	logger   *zap.Logger
}

// NewURLJob wires a URLJob.
func NewURLJob(repo URLRepository, r Resolver, cfg URLConfig, logger *zap.Logger) *URLJob {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLJob{repo: repo, resolver: r, cfg: cfg, logger: logger}
}

// Name identifies the job in logs and metrics.
func (j *URLJob) Name() string { return "url" }

// Pending lists stores awaiting resolution.
func (j *URLJob) Pending(ctx context.Context, limit int, exclude []int64) ([]store.Store, error) {
	return j.repo.PendingURLStores(ctx, limit, exclude)
}

// Process claims and resolves one store. A store whose earlier attempts all
// ended in write failures is closed out as not_found.
func (j *URLJob) Process(ctx context.Context, id int64) error {
	return withClaim(ctx, j.repo, id, j.cfg.StaleAfter, j.logger, func(st store.Store) error {
		attempts, err := j.repo.IncrementURLAttempts(ctx, id)
		if err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}
		if attempts > j.cfg.MaxAttempts {
			return j.repo.SaveURLResult(ctx, id, store.URLOutcome{
				Status: store.StatusNotFound,
				Reason: fmt.Sprintf("Exceeded %d resolution attempts", j.cfg.MaxAttempts),
			})
		}
		decision, err := j.resolver.Process(ctx, st)
		if err != nil {
			return fmt.Errorf("resolve store %d: %w", id, err)
		}
		j.logger.Info("store resolved",
			zap.Int64("store_id", id),
			zap.String("action", string(decision.Action)),
			zap.String("status", string(decision.Outcome.Status)),
			zap.String("url", decision.Outcome.URL),
		)
		return nil
	})
}
