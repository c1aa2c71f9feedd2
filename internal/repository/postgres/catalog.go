package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"duka/internal/domain"
	"duka/internal/repository"
)

// CatalogRepository is a PostgreSQL implementation of repository.CatalogRepository.
// Plain products carry their own price and stock; variants override both.
type CatalogRepository struct {
	q Querier
}

var _ repository.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository creates a new PostgreSQL catalog repository.
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{q: db}
}

// NewCatalogRepositoryWithTx creates a catalog repository using a transaction.
func NewCatalogRepositoryWithTx(tx *sql.Tx) *CatalogRepository {
	return &CatalogRepository{q: tx}
}

// Lookup returns current prices and stock for the requested refs.
func (r *CatalogRepository) Lookup(ctx context.Context, refs []domain.ItemRef) (map[domain.ItemRef]*domain.CatalogItem, error) {
	var productIDs, variantIDs []string
	for _, ref := range refs {
		if ref.VariantID == "" {
			productIDs = append(productIDs, ref.ProductID)
		} else {
			variantIDs = append(variantIDs, ref.VariantID)
		}
	}

	items := make(map[domain.ItemRef]*domain.CatalogItem, len(refs))

	if len(productIDs) > 0 {
		query := `SELECT id, '', name, price, stock, active FROM products WHERE id = ANY($1)`
		if err := r.collect(ctx, items, query, pq.Array(productIDs)); err != nil {
			return nil, fmt.Errorf("lookup products: %w", err)
		}
	}

	if len(variantIDs) > 0 {
		query := `
			SELECT v.product_id, v.id, p.name || ' - ' || v.name, v.price, v.stock, p.active AND v.active
			FROM product_variants v JOIN products p ON p.id = v.product_id
			WHERE v.id = ANY($1)
		`
		if err := r.collect(ctx, items, query, pq.Array(variantIDs)); err != nil {
			return nil, fmt.Errorf("lookup variants: %w", err)
		}
	}

	return items, nil
}

func (r *CatalogRepository) collect(ctx context.Context, into map[domain.ItemRef]*domain.CatalogItem, query string, arg any) error {
	rows, err := r.q.QueryContext(ctx, query, arg)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(
			&item.Ref.ProductID,
			&item.Ref.VariantID,
			&item.Name,
			&item.Price,
			&item.Stock,
			&item.Active,
		); err != nil {
			return err
		}
		into[item.Ref] = &item
	}
	return rows.Err()
}

// DecrementStock removes qty units if at least that many remain.
func (r *CatalogRepository) DecrementStock(ctx context.Context, ref domain.ItemRef, qty int) error {
	var query string
	var id string
	if ref.VariantID == "" {
		query = `UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`
		id = ref.ProductID
	} else {
		query = `UPDATE product_variants SET stock = stock - $1 WHERE id = $2 AND stock >= $1`
		id = ref.VariantID
	}

	result, err := r.q.ExecContext(ctx, query, qty, id)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	return checkAffected(result, repository.ErrInsufficientStock)
}

// PromoRepository is a PostgreSQL implementation of repository.PromoRepository.
type PromoRepository struct {
	q Querier
}

var _ repository.PromoRepository = (*PromoRepository)(nil)

// NewPromoRepository creates a new PostgreSQL promo code repository.
func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{q: db}
}

// NewPromoRepositoryWithTx creates a promo code repository using a transaction.
func NewPromoRepositoryWithTx(tx *sql.Tx) *PromoRepository {
	return &PromoRepository{q: tx}
}

// GetByCode retrieves a promo code.
func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	query := `
		SELECT code, discount_type, discount_value, valid_from, valid_until, usage_limit, usage_count, min_order_value, active
		FROM promo_codes WHERE code = $1
	`

	var p domain.PromoCode
	var validFrom, validUntil sql.NullTime
	err := r.q.QueryRowContext(ctx, query, code).Scan(
		&p.Code,
		&p.DiscountType,
		&p.DiscountValue,
		&validFrom,
		&validUntil,
		&p.UsageLimit,
		&p.UsageCount,
		&p.MinOrderValue,
		&p.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if validFrom.Valid {
		p.ValidFrom = validFrom.Time
	}
	if validUntil.Valid {
		p.ValidUntil = validUntil.Time
	}
	return &p, nil
}

// IncrementUsage consumes one use of the code. The WHERE clause makes the limit check and the
// increment a single atomic step.
func (r *PromoRepository) IncrementUsage(ctx context.Context, code string) (bool, error) {
	query := `
		UPDATE promo_codes SET usage_count = usage_count + 1
		WHERE code = $1 AND (usage_limit = 0 OR usage_count < usage_limit)
	`

	result, err := r.q.ExecContext(ctx, query, code)
	if err != nil {
		return false, fmt.Errorf("increment promo usage: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// DeliveryTierRepository is a PostgreSQL implementation of repository.DeliveryTierRepository.
type DeliveryTierRepository struct {
	q Querier
}

var _ repository.DeliveryTierRepository = (*DeliveryTierRepository)(nil)

// NewDeliveryTierRepository creates a new PostgreSQL delivery tier repository.
func NewDeliveryTierRepository(db *sql.DB) *DeliveryTierRepository {
	return &DeliveryTierRepository{q: db}
}

// GetByLocation retrieves the tier for a location.
func (r *DeliveryTierRepository) GetByLocation(ctx context.Context, locationID string) (*domain.DeliveryTier, error) {
	query := `SELECT location_id, tier, price, label FROM delivery_tiers WHERE location_id = $1`

	var t domain.DeliveryTier
	err := r.q.QueryRowContext(ctx, query, locationID).Scan(&t.LocationID, &t.Tier, &t.Price, &t.Label)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// List returns all delivery locations.
func (r *DeliveryTierRepository) List(ctx context.Context) ([]*domain.DeliveryTier, error) {
	query := `SELECT location_id, tier, price, label FROM delivery_tiers ORDER BY tier, label`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []*domain.DeliveryTier
	for rows.Next() {
		var t domain.DeliveryTier
		if err := rows.Scan(&t.LocationID, &t.Tier, &t.Price, &t.Label); err != nil {
			return nil, err
		}
		tiers = append(tiers, &t)
	}
	return tiers, rows.Err()
}
