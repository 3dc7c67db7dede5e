// Package postgres implements store.Repository on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool used by Repository; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Repository persists stores and jobs in Postgres.
type Repository struct {
	db DB
}

var _ store.Repository = (*Repository)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{db: pool}, nil
}

// NewWithDB wraps an existing pool (primarily for testing).
func NewWithDB(db DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Repository{db: db}, nil
}

// Close releases the pool.
func (r *Repository) Close() {
	if r == nil || r.db == nil {
		return
	}
	r.db.Close()
}

// Migrate creates missing tables and indexes.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanStore(row pgx.Row) (store.Store, error) {
	var (
		st                 store.Store
		status, lockedFrom string
	)
	err := row.Scan(
		&st.ID, &st.JobID, &st.AppName, &st.Name,
		&st.Country, &st.ReviewDate, &st.ReviewText,
		&st.UsageDuration, &st.Rating,
		&st.URL, &st.URLVerified, &st.Confidence, &st.Provider,
		&st.CandidateURLs, &st.Emails, &st.RawEmails,
		&status, &lockedFrom, &st.URLAttempts, &st.EmailAttempts,
		&st.LastError, &st.FailedAt, &st.ClaimedAt,
		&st.ScrapedAt, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Store{}, store.ErrNotFound
		}
		return store.Store{}, err
	}
	st.Status = store.Status(status)
	st.LockedFrom = store.Status(lockedFrom)
	return st, nil
}

func scanJob(row pgx.Row) (store.Job, error) {
	var (
		job    store.Job
		status string
	)
	err := row.Scan(
		&job.ID, &job.AppName, &job.AppURL, &status, &job.TotalStores, &job.StoresProcessed,
		&job.ProgressMessage, &job.CurrentPage, &job.TotalPages, &job.ReviewsScraped,
		&job.MaxReviews, &job.MaxPages, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Job{}, store.ErrNotFound
		}
		return store.Job{}, err
	}
	job.Status = store.JobStatus(status)
	return job, nil
}

func collectStores(rows pgx.Rows) ([]store.Store, error) {
	defer rows.Close()
	out := make([]store.Store, 0)
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return out, nil
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullableLimit turns 0 into NULL, which Postgres reads as LIMIT ALL.
func nullableLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
