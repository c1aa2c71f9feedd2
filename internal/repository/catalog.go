package repository

import (
	"context"

	"duka/internal/domain"
)

// CatalogRepository reads authoritative prices and adjusts stock.
type CatalogRepository interface {
	// Lookup returns the catalog entries for the given refs. Missing refs are absent from the map.
	Lookup(ctx context.Context, refs []domain.ItemRef) (map[domain.ItemRef]*domain.CatalogItem, error)

	// DecrementStock removes qty units. Returns ErrInsufficientStock without changing anything
	// if fewer than qty remain.
	DecrementStock(ctx context.Context, ref domain.ItemRef, qty int) error
}

// PromoRepository defines the persistence operations for promo codes.
type PromoRepository interface {
	// GetByCode retrieves a promo code by its normalised code.
	GetByCode(ctx context.Context, code string) (*domain.PromoCode, error)

	// IncrementUsage adds one use if the limit allows it. Returns false when the limit is already reached.
	IncrementUsage(ctx context.Context, code string) (bool, error)
}

// DeliveryTierRepository reads delivery pricing reference data.
type DeliveryTierRepository interface {
	// GetByLocation retrieves the tier configured for a location.
	GetByLocation(ctx context.Context, locationID string) (*domain.DeliveryTier, error)

	// List returns every configured location ordered by tier then label.
	List(ctx context.Context) ([]*domain.DeliveryTier, error)
}
