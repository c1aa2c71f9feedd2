package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"duka/internal/repository"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier               = (*sql.DB)(nil)
	_ Querier               = (*sql.Tx)(nil)
	_ repository.UnitOfWork = (*UnitOfWork)(nil)
	_ repository.Store      = (*txStore)(nil)
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// UnitOfWork runs repository calls inside a single PostgreSQL transaction.
type UnitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork creates a new UnitOfWork.
func NewUnitOfWork(db *sql.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// WithinTx begins a READ COMMITTED transaction, hands transaction-scoped repositories to fn,
// and commits if fn succeeds.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(store repository.Store) error) (err error) {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore hands out repositories bound to one *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (s *txStore) Orders() repository.OrderRepository { return NewOrderRepositoryWithTx(s.tx) }

func (s *txStore) Transactions() repository.TransactionRepository {
	return NewTransactionRepositoryWithTx(s.tx)
}

func (s *txStore) Catalog() repository.CatalogRepository { return NewCatalogRepositoryWithTx(s.tx) }

func (s *txStore) Promos() repository.PromoRepository { return NewPromoRepositoryWithTx(s.tx) }

// isUniqueViolation reports whether err is a PostgreSQL unique_violation on the given constraint.
// An empty constraint matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// checkAffected converts a zero-row result into the given error.
func checkAffected(result sql.Result, none error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return none
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
