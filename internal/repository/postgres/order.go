package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duka/internal/domain"
	"duka/internal/repository"
)

// OrderRepository is a PostgreSQL implementation of repository.OrderRepository.
type OrderRepository struct {
	q Querier
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{q: db}
}

// NewOrderRepositoryWithTx creates an order repository using a transaction.
func NewOrderRepositoryWithTx(tx *sql.Tx) *OrderRepository {
	return &OrderRepository{q: tx}
}

const orderColumns = `
	id, order_number, customer_id, guest_email, customer_name, customer_phone,
	location_id, delivery_tier, subtotal, discount_amount, shipping_cost, total,
	promo_code, payment_method, status, payment_status, tracking_number,
	review_required, review_reason, cancel_reason,
	created_at, updated_at, confirmed_at, cancelled_at`

// Create persists a new order together with its line items.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := r.q.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.Customer.ID,
		order.Customer.GuestEmail,
		order.Customer.Name,
		order.Customer.Phone,
		order.LocationID,
		order.DeliveryTier,
		order.Subtotal,
		order.DiscountAmount,
		order.ShippingCost,
		order.Total,
		nullString(order.PromoCode),
		order.PaymentMethod,
		order.Status,
		order.PaymentStatus,
		nullString(order.TrackingNumber),
		order.ReviewRequired,
		order.ReviewReason,
		order.CancelReason,
		order.CreatedAt,
		order.UpdatedAt,
		nullTime(order.ConfirmedAt),
		nullTime(order.CancelledAt),
	)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return repository.ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, position, product_id, variant_id, name, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, item := range order.Items {
		if _, err := r.q.ExecContext(ctx, itemQuery,
			order.ID,
			i,
			item.ProductID,
			item.VariantID,
			item.Name,
			item.Quantity,
			item.UnitPrice,
			item.LineTotal,
		); err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}

	return nil
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves an order and holds a row lock until the transaction ends.
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

// GetByNumber retrieves an order by its order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
}

// GetByTrackingNumber retrieves an order by its tracking number.
func (r *OrderRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_number = $1`, trackingNumber)
}

// UpdateState writes the mutable order fields.
func (r *OrderRepository) UpdateState(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders
		SET status = $1, payment_status = $2, tracking_number = $3, review_required = $4, review_reason = $5,
		    cancel_reason = $6, updated_at = $7, confirmed_at = $8, cancelled_at = $9
		WHERE id = $10
	`

	result, err := r.q.ExecContext(ctx, query,
		order.Status,
		order.PaymentStatus,
		nullString(order.TrackingNumber),
		order.ReviewRequired,
		order.ReviewReason,
		order.CancelReason,
		order.UpdatedAt,
		nullTime(order.ConfirmedAt),
		nullTime(order.CancelledAt),
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return checkAffected(result, repository.ErrNotFound)
}

// ListForReview returns flagged orders, newest first.
func (r *OrderRepository) ListForReview(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE review_required ORDER BY updated_at DESC LIMIT $1`

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg string) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	query := `
		SELECT product_id, variant_id, name, quantity, unit_price, line_total
		FROM order_items WHERE order_id = $1 ORDER BY position
	`

	rows, err := r.q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(
			&item.ProductID,
			&item.VariantID,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
			&item.LineTotal,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanOrder(s scanner) (*domain.Order, error) {
	var order domain.Order
	var promoCode, trackingNumber sql.NullString
	var confirmedAt, cancelledAt sql.NullTime

	err := s.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.Customer.ID,
		&order.Customer.GuestEmail,
		&order.Customer.Name,
		&order.Customer.Phone,
		&order.LocationID,
		&order.DeliveryTier,
		&order.Subtotal,
		&order.DiscountAmount,
		&order.ShippingCost,
		&order.Total,
		&promoCode,
		&order.PaymentMethod,
		&order.Status,
		&order.PaymentStatus,
		&trackingNumber,
		&order.ReviewRequired,
		&order.ReviewReason,
		&order.CancelReason,
		&order.CreatedAt,
		&order.UpdatedAt,
		&confirmedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	order.PromoCode = promoCode.String
	order.TrackingNumber = trackingNumber.String
	if confirmedAt.Valid {
		order.ConfirmedAt = confirmedAt.Time
	}
	if cancelledAt.Valid {
		order.CancelledAt = cancelledAt.Time
	}
	return &order, nil
}
