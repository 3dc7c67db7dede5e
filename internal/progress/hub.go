package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultBuffer      = 4096
	defaultBatchSize   = 500
	defaultFlushEvery  = 500 * time.Millisecond
	defaultSinkTimeout = 10 * time.Second
	dropWarnInterval   = 5 * time.Second
)

// Config sizes the Hub. Zero values take the defaults above.
type Config struct {
	// Buffer is how many events may queue before Emit starts dropping.
	Buffer int
	// BatchSize triggers an immediate delivery once reached.
	BatchSize int
	// FlushEvery bounds how long a partial batch waits.
	FlushEvery  time.Duration
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultFlushEvery
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects events from crawls, resolutions and ingests and hands them
// to sinks in batches. Emit never blocks: a store crawl must not wait on the
// job table or the metrics registry.
type Hub struct {
	cfg   Config
	sinks []Sink
	queue chan Event
	stop  chan context.Context
	done  chan struct{}

	closing  atomic.Bool
	stopOnce sync.Once
	dropped  atomic.Int64
	warnDrop rate.Sometimes
}

// NewHub starts the delivery loop over sinks; nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		queue:    make(chan Event, cfg.Buffer),
		stop:     make(chan context.Context, 1),
		done:     make(chan struct{}),
		warnDrop: rate.Sometimes{Interval: dropWarnInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events are discarded, and so is everything once
// Close has been called or the buffer is full.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		total := h.dropped.Add(1)
		h.warnDrop.Do(func() {
			h.cfg.Logger.Warn("progress buffer full, dropping events", zap.Int64("dropped_total", total))
		})
	}
}

// Dropped is the number of events lost to a full buffer since start.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close delivers whatever is queued, closes the sinks with ctx and waits for
// the loop to finish or ctx to end. Repeat calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		h.stop <- ctx
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.BatchSize)
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				pending = h.deliver(pending)
			}
		case <-ticker.C:
			pending = h.deliver(pending)
		case ctx := <-h.stop:
			h.drain(pending)
			h.closeSinks(ctx)
			return
		}
	}
}

// drain empties the queue without waiting for new events.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				pending = h.deliver(pending)
			}
		default:
			h.deliver(pending)
			return
		}
	}
}

// deliver hands batch to every sink in parallel and returns the emptied
// slice for reuse. Sink failures are logged; progress is best effort.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, snapshot); err != nil {
				h.cfg.Logger.Warn("progress sink failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("events", len(snapshot)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors
	return batch[:0]
}

func (h *Hub) closeSinks(ctx context.Context) {
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
