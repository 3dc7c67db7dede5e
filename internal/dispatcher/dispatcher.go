// Package dispatcher runs store jobs on a bounded, self-replenishing pool.
//
// A Pool admits one store per free slot. When a store finishes, the slot
// immediately tries to admit the next pending store, so the pool drains the
// backlog without waiting for the poll. The poll is a backstop for work that
// appears from outside (new URLs, cooled-down failures) and also drives the
// periodic sweep of stale claims.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/storefront-contact-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// Defaults applied by New.
const (
	DefaultSize         = 10
	DefaultPollInterval = 5 * time.Second
	DefaultSweepEvery   = 10
	DefaultStaleAfter   = 30 * time.Minute
)

// Unit is one kind of per-store work. worker.EmailJob and worker.URLJob
// implement it.
type Unit interface {
	Name() string
	Pending(ctx context.Context, limit int, exclude []int64) ([]store.Store, error)
	Process(ctx context.Context, id int64) error
}

// Sweeper force-releases abandoned claims.
type Sweeper interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Stopper interrupts in-flight work. *crawler.Engine satisfies it.
type Stopper interface {
	Stop()
	Resume()
}

// Config sizes a Pool.
type Config struct {
	Size         int           `mapstructure:"size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SweepEvery   int           `mapstructure:"sweep_every"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = DefaultSweepEvery
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Status is a point-in-time view of a Pool.
type Status struct {
	Name      string  `json:"name"`
	Running   bool    `json:"running"`
	Active    int     `json:"active"`
	Capacity  int     `json:"capacity"`
	ActiveIDs []int64 `json:"active_ids"`
	Completed uint64  `json:"completed"`
	Failed    uint64  `json:"failed"`
}

// Option customizes a Pool.
type Option func(*Pool)

// WithSweeper enables the stale-claim sweep.
func WithSweeper(s Sweeper) Option {
	return func(p *Pool) { p.sweeper = s }
}

// WithStopper lets Stop interrupt running work.
func WithStopper(s Stopper) Option {
	return func(p *Pool) { p.stopper = s }
}

// WithRegistry injects the active-id registry.
func WithRegistry(r *Registry) Option {
	return func(p *Pool) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pool fans a Unit out over a fixed number of slots.
type Pool struct {
	unit     Unit
	cfg      Config
	sem      *semaphore.Weighted
	registry *Registry
	sweeper  Sweeper
	stopper  Stopper
	logger   *zap.Logger

	stopped   atomic.Bool
	completed atomic.Uint64
	failed    atomic.Uint64
	wg        sync.WaitGroup

	mu     sync.Mutex
	runCtx context.Context
	cycles int
}

// New creates a Pool.
func New(unit Unit, cfg Config, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		unit:     unit,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Size)),
		registry: NewRegistry(),
		logger:   zap.NewNop(),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("pool", unit.Name()))
	return p
}

// Run opens admission, fills the pool and polls until ctx ends, then waits
// for in-flight work.
func (p *Pool) Run(ctx context.Context) {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()
	p.resume()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	p.StartBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pool) tick(ctx context.Context) {
	p.mu.Lock()
	p.cycles++
	sweep := p.sweeper != nil && p.cycles%p.cfg.SweepEvery == 0
	p.mu.Unlock()

	if sweep {
		n, err := p.sweeper.ReleaseStale(ctx, p.cfg.StaleAfter)
		if err != nil {
			p.logger.Error("stale sweep failed", zap.Error(err))
		} else if n > 0 {
			p.logger.Warn("released stale claims", zap.Int("count", n))
		}
	}
	if !p.stopped.Load() {
		p.StartBatch(ctx)
	}
}

// StartBatch opens admission and admits until every slot is busy or nothing
// is pending. It returns the number of stores admitted.
func (p *Pool) StartBatch(ctx context.Context) int {
	p.resume()
	admitted := 0
	for {
		ok, err := p.TryAdmit(ctx)
		if err != nil {
			p.logger.Error("admission failed", zap.Error(err))
		}
		if !ok {
			return admitted
		}
		admitted++
	}
}

// TryAdmit starts one pending store if a slot is free and the pool is not
// stopped.
func (p *Pool) TryAdmit(ctx context.Context) (bool, error) {
	if p.stopped.Load() || ctx.Err() != nil {
		return false, nil
	}
	if !p.sem.TryAcquire(1) {
		return false, nil
	}
	st, ok, err := p.next(ctx)
	if err != nil || !ok {
		p.sem.Release(1)
		return false, err
	}

	p.mu.Lock()
	runCtx := p.runCtx
	p.mu.Unlock()

	p.wg.Add(1)
	metrics.IncActiveWorkers(p.unit.Name())
	go p.run(runCtx, st.ID)
	return true, nil
}

// next picks a pending store not already owned by this pool. Concurrent
// admissions can race for the same row; the registry settles it.
func (p *Pool) next(ctx context.Context) (store.Store, bool, error) {
	for range 3 {
		pending, err := p.unit.Pending(ctx, 1, p.registry.Snapshot())
		if err != nil {
			return store.Store{}, false, fmt.Errorf("list pending: %w", err)
		}
		if len(pending) == 0 {
			return store.Store{}, false, nil
		}
		if p.registry.Add(pending[0].ID) {
			return pending[0], true, nil
		}
	}
	return store.Store{}, false, nil
}

func (p *Pool) run(ctx context.Context, id int64) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("store job panicked", zap.Int64("store_id", id), zap.Any("panic", r))
		}
		p.registry.Remove(id)
		p.sem.Release(1)
		metrics.DecActiveWorkers(p.unit.Name())

		if ctx.Err() == nil && !p.stopped.Load() {
			if _, err := p.TryAdmit(ctx); err != nil {
				p.logger.Error("replenish failed", zap.Error(err))
			}
		}
	}()

	if err := p.unit.Process(ctx, id); err != nil {
		p.failed.Add(1)
		p.logger.Warn("store job failed", zap.Int64("store_id", id), zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// Stop halts admission and raises the stopper's flag. Running stores finish
// their current fetch and return.
func (p *Pool) Stop() {
	p.stopped.Store(true)
	if p.stopper != nil {
		p.stopper.Stop()
	}
	p.logger.Info("pool stopped", zap.Int("active", p.registry.Len()))
}

func (p *Pool) resume() {
	if p.stopped.Swap(false) && p.stopper != nil {
		p.stopper.Resume()
	}
}

// Wait blocks until in-flight work finishes.
func (p *Pool) Wait() { p.wg.Wait() }

// Status snapshots the pool.
func (p *Pool) Status() Status {
	ids := p.registry.Snapshot()
	return Status{
		Name:      p.unit.Name(),
		Running:   !p.stopped.Load(),
		Active:    len(ids),
		Capacity:  p.cfg.Size,
		ActiveIDs: ids,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}
