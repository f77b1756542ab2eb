package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/hybridplanner/internal/storage"
)

// Options tunes the SQLite connection.
type Options struct {
	// BusyTimeoutMS is how long a connection waits on a locked database
	// before reporting SQLITE_BUSY. Negative selects the default of 5000.
	BusyTimeoutMS int
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB // deferred transactions, for reads
	writer *sql.DB // immediate transactions, for writes
}

// New creates a new SQLite storage instance.
func New(path string) (*SQLiteStorage, error) {
	return NewWithOptions(path, Options{BusyTimeoutMS: -1})
}

// NewWithOptions creates a new SQLite storage instance with custom options.
func NewWithOptions(path string, opts Options) (*SQLiteStorage, error) {
	busy := opts.BusyTimeoutMS
	if busy < 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=ON", path, busy)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	writer, err := sql.Open("sqlite3", dsn+"&_txlock=immediate")
	if err != nil {
		db.Close()
		return nil, err
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	return &SQLiteStorage{db: db, writer: writer}, nil
}

// Begin starts a new transaction.
func (s *SQLiteStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	return newUnitOfWork(tx), nil
}

// BeginImmediate starts a transaction holding the write lock.
func (s *SQLiteStorage) BeginImmediate(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	return newUnitOfWork(tx), nil
}

// Close closes the database connections.
func (s *SQLiteStorage) Close() error {
	werr := s.writer.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return werr
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.writer)
}

// unitOfWork implements the UnitOfWork interface.
type unitOfWork struct {
	tx       *sql.Tx
	plans    *planRepo
	outcomes *outcomeRepo
}

func newUnitOfWork(tx *sql.Tx) *unitOfWork {
	return &unitOfWork{
		tx:       tx,
		plans:    &planRepo{tx: tx},
		outcomes: &outcomeRepo{tx: tx},
	}
}

func (u *unitOfWork) Plans() storage.PlanRepository {
	return u.plans
}

func (u *unitOfWork) Outcomes() storage.OutcomeRepository {
	return u.outcomes
}

func (u *unitOfWork) Commit() error {
	return classify("commit", u.tx.Commit())
}

func (u *unitOfWork) Rollback() error {
	return u.tx.Rollback()
}
