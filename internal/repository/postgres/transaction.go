package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"duka/internal/domain"
	"duka/internal/repository"
)

// TransactionRepository is a PostgreSQL implementation of repository.TransactionRepository.
type TransactionRepository struct {
	q Querier
}

var _ repository.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository creates a new PostgreSQL payment transaction repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{q: db}
}

// NewTransactionRepositoryWithTx creates a payment transaction repository using a transaction.
func NewTransactionRepositoryWithTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

const transactionColumns = `
	id, order_id, provider, amount, phone_number, status, merchant_request_id, checkout_request_id,
	result_code, result_description, receipt_number, created_at, updated_at, completed_at`

// Create persists a new payment transaction.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.q.ExecContext(ctx, query,
		txn.ID,
		txn.OrderID,
		txn.Provider,
		txn.Amount,
		txn.PhoneNumber,
		txn.Status,
		nullString(txn.MerchantRequestID),
		nullString(txn.CheckoutRequestID),
		txn.ResultCode,
		txn.ResultDescription,
		nullString(txn.ReceiptNumber),
		txn.CreatedAt,
		txn.UpdatedAt,
		nullTime(txn.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a payment transaction by ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a payment transaction and holds a row lock until the transaction ends.
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1 FOR UPDATE`, id)
}

// GetByCheckoutRequestID retrieves a payment transaction by the gateway checkout request ID.
func (r *TransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE checkout_request_id = $1`, checkoutRequestID)
}

// ListByOrderID returns every transaction for an order, oldest first.
func (r *TransactionRepository) ListByOrderID(ctx context.Context, orderID string) ([]*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE order_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, orderID)
}

// HasCompleted reports whether the order already has a completed payment.
func (r *TransactionRepository) HasCompleted(ctx context.Context, orderID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM payment_transactions WHERE order_id = $1 AND status = 'COMPLETED')`

	var exists bool
	if err := r.q.QueryRowContext(ctx, query, orderID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SetCorrelation stores the identifiers returned by the gateway on an INITIATED transaction.
func (r *TransactionRepository) SetCorrelation(ctx context.Context, id, merchantRequestID, checkoutRequestID string) error {
	query := `
		UPDATE payment_transactions
		SET merchant_request_id = $1, checkout_request_id = $2, updated_at = $3
		WHERE id = $4 AND status = 'INITIATED'
	`

	result, err := r.q.ExecContext(ctx, query,
		nullString(merchantRequestID),
		nullString(checkoutRequestID),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set correlation: %w", err)
	}
	return checkAffected(result, repository.ErrStaleState)
}

// Transition moves the transaction out of status from. Zero rows affected means another
// writer got there first.
func (r *TransactionRepository) Transition(ctx context.Context, txn *domain.PaymentTransaction, from domain.TransactionStatus) error {
	query := `
		UPDATE payment_transactions
		SET status = $1, result_code = $2, result_description = $3, receipt_number = $4,
		    updated_at = $5, completed_at = $6
		WHERE id = $7 AND status = $8
	`

	result, err := r.q.ExecContext(ctx, query,
		txn.Status,
		txn.ResultCode,
		txn.ResultDescription,
		nullString(txn.ReceiptNumber),
		txn.UpdatedAt,
		nullTime(txn.CompletedAt),
		txn.ID,
		from,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_payment_transactions_one_completed") {
			return repository.ErrAlreadyCompleted
		}
		return fmt.Errorf("transition payment transaction: %w", err)
	}
	return checkAffected(result, repository.ErrStaleState)
}

// ListStaleInitiated returns INITIATED transactions created before the cutoff, oldest first.
func (r *TransactionRepository) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE status = 'INITIATED' AND created_at < $1
		ORDER BY created_at LIMIT $2
	`
	return r.list(ctx, query, before, limit)
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, arg string) (*domain.PaymentTransaction, error) {
	txn, err := scanTransaction(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]*domain.PaymentTransaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanTransaction(s scanner) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	var merchantRequestID, checkoutRequestID, receiptNumber sql.NullString
	var completedAt sql.NullTime

	err := s.Scan(
		&txn.ID,
		&txn.OrderID,
		&txn.Provider,
		&txn.Amount,
		&txn.PhoneNumber,
		&txn.Status,
		&merchantRequestID,
		&checkoutRequestID,
		&txn.ResultCode,
		&txn.ResultDescription,
		&receiptNumber,
		&txn.CreatedAt,
		&txn.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.MerchantRequestID = merchantRequestID.String
	txn.CheckoutRequestID = checkoutRequestID.String
	txn.ReceiptNumber = receiptNumber.String
	if completedAt.Valid {
		txn.CompletedAt = completedAt.Time
	}
	return &txn, nil
}
