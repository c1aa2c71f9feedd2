package repository

import (
	"context"
	"time"

	"duka/internal/domain"
)

// TransactionRepository defines the persistence operations for payment transactions.
// Rows are never deleted; failed attempts stay for audit.
type TransactionRepository interface {
	// Create persists a new transaction.
	Create(ctx context.Context, txn *domain.PaymentTransaction) error

	// GetByID retrieves a transaction by ID.
	GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error)

	// GetByIDForUpdate retrieves a transaction and locks its row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.PaymentTransaction, error)

	// GetByCheckoutRequestID retrieves a transaction by the gateway correlation identifier.
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error)

	// ListByOrderID returns every transaction of an order, oldest first.
	ListByOrderID(ctx context.Context, orderID string) ([]*domain.PaymentTransaction, error)

	// HasCompleted reports whether the order owns a COMPLETED transaction.
	HasCompleted(ctx context.Context, orderID string) (bool, error)

	// SetCorrelation stores the gateway identifiers of an INITIATED transaction.
	SetCorrelation(ctx context.Context, id, merchantRequestID, checkoutRequestID string) error

	// Transition writes status, result and receipt fields only if the row is still in status from.
	// Returns ErrStaleState otherwise.
	Transition(ctx context.Context, txn *domain.PaymentTransaction, from domain.TransactionStatus) error

	// ListStaleInitiated returns INITIATED transactions created before the cutoff, oldest first.
	ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*domain.PaymentTransaction, error)
}
