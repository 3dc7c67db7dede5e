// Package worker implements the per-store units of work the dispatcher runs:
// an email crawl (EmailJob) and a URL resolution (URLJob). Both follow the
// same shape: claim the row, process it, release the claim on every path.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// Defaults shared by both jobs.
const (
	DefaultMaxAttempts = 3
	DefaultStaleAfter  = 30 * time.Minute
	CompletedEvent     = "store.completed"
)

// Claimer is the locking slice of store.StoreRepository.
type Claimer interface {
	Claim(ctx context.Context, id int64, staleAfter time.Duration) (store.Store, error)
	Release(ctx context.Context, id int64) error
}

// Publisher sends notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// StoreCompleted is published after a store's email crawl is written.
type StoreCompleted struct {
	StoreID     int64        `json:"store_id"`
	AppName     string       `json:"app_name"`
	StoreName   string       `json:"store_name"`
	URL         string       `json:"base_url"`
	Status      store.Status `json:"status"`
	Emails      []string     `json:"emails"`
	RunID       string       `json:"run_id"`
	CompletedAt time.Time    `json:"completed_at"`
}

// EventType names the event for message attributes.
func (StoreCompleted) EventType() string { return CompletedEvent }

// withClaim claims id, runs fn on the claimed row and releases the claim
// afterwards, even if fn panics. A row held by another worker is skipped
// silently.
func withClaim(
	ctx context.Context,
	repo Claimer,
	id int64,
	staleAfter time.Duration,
	logger *zap.Logger,
	fn func(store.Store) error,
) error {
	st, err := repo.Claim(ctx, id, staleAfter)
	if errors.Is(err, store.ErrAlreadyProcessing) {
		logger.Debug("store already claimed, skipping", zap.Int64("store_id", id))
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		// The row must be released even when ctx was canceled.
		if err := repo.Release(context.WithoutCancel(ctx), id); err != nil {
			logger.Error("release claim failed", zap.Int64("store_id", id), zap.Error(err))
		}
	}()
	return fn(st)
}
