package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Store provides typed CRUD over the hierarchy, example, deployment and
// result model. All blocking calls take a context; mutations run in short
// transactions.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Entry
	now    func() time.Time
}

// New wraps an open database handle.
func New(db *sqlx.DB, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Open connects to Postgres via the pgx stdlib driver and applies pending
// migrations.
func Open(ctx context.Context, dsn string, logger *logrus.Entry) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for callers that compose their own queries (the
// authorization core builds filtered list queries on top of it).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// ListOptions paginate list calls; Limit <= 0 means the default page size.
type ListOptions struct {
	Skip  int
	Limit int
}

const defaultPageSize = 100

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return defaultPageSize
	}
	return o.Limit
}

func (o ListOptions) skip() int {
	if o.Skip < 0 {
		return 0
	}
	return o.Skip
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WithError(rbErr).Error("Failed to roll back transaction.")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

// getErr maps sql.ErrNoRows onto ErrNotFound with context.
func getErr(err error, entity, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, key, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", entity, key, err)
}
