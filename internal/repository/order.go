package repository

import (
	"context"

	"duka/internal/domain"
)

// OrderRepository defines the persistence operations for orders.
type OrderRepository interface {
	// Create persists a new order together with its line items.
	// Returns ErrDuplicateOrderNumber if the order number is taken.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByIDForUpdate retrieves an order and locks its row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error)

	// GetByNumber retrieves an order by its human-readable number.
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)

	// GetByTrackingNumber retrieves an order by its shipment tracking number.
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Order, error)

	// UpdateState writes the mutable fields: status, payment status, tracking, review and cancellation data.
	// Prices and line items are never rewritten.
	UpdateState(ctx context.Context, order *domain.Order) error

	// ListForReview returns orders flagged for manual review, newest first.
	ListForReview(ctx context.Context, limit int) ([]*domain.Order, error)
}
