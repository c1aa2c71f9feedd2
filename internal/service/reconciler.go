package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/shopspring/decimal"

	"duka/internal/domain"
	"duka/internal/mpesa"
	"duka/internal/redis"
	"duka/internal/repository"
	"duka/internal/retry"
)

// ResultSource says where a gateway result came from.
type ResultSource string

const (
	SourceCallback ResultSource = "CALLBACK"
	SourcePoll     ResultSource = "POLL"
	SourceExpiry   ResultSource = "EXPIRY"
)

// PaymentResult is a gateway verdict for one push, from a callback or a status poll.
type PaymentResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        string
	ResultDesc        string
	ReceiptNumber     string
	// Amount is nil when the source did not report one.
	Amount *decimal.Decimal
	Source ResultSource
	// ExpectedTransactionID is the transaction named by the callback token, if any.
	ExpectedTransactionID string
}

// Outcome describes what reconciling a result did.
type Outcome string

const (
	OutcomeCompleted    Outcome = "COMPLETED"
	OutcomeFailed       Outcome = "FAILED"
	OutcomeDuplicate    Outcome = "DUPLICATE"
	OutcomeAlreadyFinal Outcome = "ALREADY_FINAL"
	OutcomeStillPending Outcome = "STILL_PENDING"
)

// ReconcileResult reports the outcome and the state after it.
type ReconcileResult struct {
	Outcome     Outcome
	Transaction *domain.PaymentTransaction
	Order       *domain.Order
}

// ReconcilerConfig holds lock and lookup settings.
type ReconcilerConfig struct {
	LockTTL  time.Duration
	LockWait time.Duration
	// LookupAttempts bounds how long a callback waits for its transaction row to appear.
	LookupAttempts int
	LookupBackoff  time.Duration
}

// Reconciler applies gateway results to transactions and orders. Every result for a
// transaction goes through apply, which runs under a Redis lock and a row lock and
// re-checks the transaction status, so success side effects happen at most once.
type Reconciler struct {
	txnRepo       repository.TransactionRepository
	uow           repository.UnitOfWork
	lockStore     redis.LockStoreInterface
	cacheStore    redis.CacheStoreInterface
	notifications *NotificationService
	cfg           ReconcilerConfig
	log           *slog.Logger
	now           func() time.Time
}

// NewReconciler creates a new Reconciler. lockStore and cacheStore may be nil.
func NewReconciler(
	txnRepo repository.TransactionRepository,
	uow repository.UnitOfWork,
	lockStore redis.LockStoreInterface,
	cacheStore redis.CacheStoreInterface,
	notifications *NotificationService,
	cfg ReconcilerConfig,
	log *slog.Logger,
) *Reconciler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.LookupAttempts <= 0 {
		cfg.LookupAttempts = 3
	}
	if cfg.LookupBackoff <= 0 {
		cfg.LookupBackoff = 200 * time.Millisecond
	}
	return &Reconciler{
		txnRepo:       txnRepo,
		uow:           uow,
		lockStore:     lockStore,
		cacheStore:    cacheStore,
		notifications: notifications,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
	}
}

// Reconcile applies a result identified by its checkout request id.
// A result matching no transaction is logged and reported as ErrUnknownTransaction;
// nothing is created from it.
func (r *Reconciler) Reconcile(ctx context.Context, res PaymentResult) (*ReconcileResult, error) {
	res.CheckoutRequestID = strings.TrimSpace(res.CheckoutRequestID)
	if res.CheckoutRequestID == "" {
		return nil, ErrInvalidCallback
	}

	txn, err := r.lookup(ctx, res.CheckoutRequestID)
	if errors.Is(err, repository.ErrNotFound) && res.ExpectedTransactionID != "" {
		txn, err = r.adoptable(ctx, res.ExpectedTransactionID)
		if err == nil {
			return r.apply(ctx, txn, res, true)
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.log.WarnContext(ctx, "UnknownTransaction",
				"checkout_request_id", res.CheckoutRequestID,
				"merchant_request_id", res.MerchantRequestID,
				"result_code", res.ResultCode,
				"source", res.Source,
			)
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}

	if res.ExpectedTransactionID != "" && res.ExpectedTransactionID != txn.ID {
		r.log.WarnContext(ctx, "callback token does not match transaction",
			"checkout_request_id", res.CheckoutRequestID,
			"transaction_id", txn.ID,
			"token_transaction_id", res.ExpectedTransactionID,
		)
		return nil, ErrCallbackMismatch
	}

	return r.apply(ctx, txn, res, false)
}

// adoptable returns the transaction a signed callback names when its correlation ids were
// never stored, which happens when the write after an accepted push fails.
func (r *Reconciler) adoptable(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error) {
	txn, err := r.txnRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.TransactionInitiated || txn.CheckoutRequestID != "" {
		return nil, repository.ErrNotFound
	}
	return txn, nil
}

// Expire fails a transaction that never produced a verdict.
func (r *Reconciler) Expire(ctx context.Context, transactionID, reason string) (*ReconcileResult, error) {
	txn, err := r.txnRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return r.apply(ctx, txn, PaymentResult{
		CheckoutRequestID: txn.CheckoutRequestID,
		ResultCode:        mpesa.ResultTimeout,
		ResultDesc:        reason,
		Source:            SourceExpiry,
	}, false)
}

// lookup retries briefly because a callback can overtake the write that stores the
// correlation ids.
func (r *Reconciler) lookup(ctx context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error) {
	cfg := retry.Config{
		MaxAttempts: r.cfg.LookupAttempts,
		BaseDelay:   r.cfg.LookupBackoff,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
	}
	return retry.Do(ctx, cfg, func() (*domain.PaymentTransaction, error) {
		return r.txnRepo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	})
}

// apply settles txn with res. With adopt set, the result's correlation ids are stored on a
// transaction that has none before it is settled.
func (r *Reconciler) apply(ctx context.Context, txn *domain.PaymentTransaction, res PaymentResult, adopt bool) (*ReconcileResult, error) {
	if txn.Status.IsTerminal() {
		r.log.InfoContext(ctx, "result for settled transaction ignored",
			"transaction_id", txn.ID,
			"status", txn.Status,
			"source", res.Source,
		)
		return &ReconcileResult{Outcome: OutcomeAlreadyFinal, Transaction: txn}, nil
	}

	if mpesa.IsPending(res.ResultCode) {
		return &ReconcileResult{Outcome: OutcomeStillPending, Transaction: txn}, nil
	}

	release, err := r.lock(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result ReconcileResult
	var notify bool
	err = r.uow.WithinTx(ctx, func(store repository.Store) error {
		current, err := store.Transactions().GetByIDForUpdate(ctx, txn.ID)
		if err != nil {
			return err
		}
		order, err := store.Orders().GetByIDForUpdate(ctx, current.OrderID)
		if err != nil {
			return err
		}
		result = ReconcileResult{Transaction: current, Order: order}

		if current.Status.IsTerminal() {
			result.Outcome = OutcomeAlreadyFinal
			return nil
		}

		if adopt {
			switch current.CheckoutRequestID {
			case "":
				if err := store.Transactions().SetCorrelation(ctx, current.ID, res.MerchantRequestID, res.CheckoutRequestID); err != nil {
					return err
				}
				current.MerchantRequestID = res.MerchantRequestID
				current.CheckoutRequestID = res.CheckoutRequestID
				r.log.WarnContext(ctx, "correlation ids recovered from signed callback",
					"transaction_id", current.ID,
					"checkout_request_id", res.CheckoutRequestID,
				)
			case res.CheckoutRequestID:
			default:
				return ErrCallbackMismatch
			}
		}

		if mpesa.IsSuccess(res.ResultCode) {
			result.Outcome, notify, err = r.applySuccess(ctx, store, current, order, res)
			return err
		}
		result.Outcome, err = r.applyFailure(ctx, store, current, res)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile transaction %s: %w", txn.ID, err)
	}

	r.afterCommit(ctx, &result, res, notify)
	return &result, nil
}

func (r *Reconciler) applySuccess(ctx context.Context, store repository.Store, txn *domain.PaymentTransaction, order *domain.Order, res PaymentResult) (Outcome, bool, error) {
	now := r.now().UTC()

	alreadyPaid := order.PaymentStatus == domain.OrderPaymentPaid
	if !alreadyPaid {
		paid, err := store.Transactions().HasCompleted(ctx, order.ID)
		if err != nil {
			return "", false, err
		}
		alreadyPaid = paid
	}

	txn.ResultCode = res.ResultCode
	txn.ResultDescription = res.ResultDesc
	txn.ReceiptNumber = res.ReceiptNumber
	txn.UpdatedAt = now
	txn.CompletedAt = now

	if alreadyPaid {
		txn.Status = domain.TransactionDuplicate
		if err := store.Transactions().Transition(ctx, txn, domain.TransactionInitiated); err != nil {
			return "", false, err
		}
		order.Flag(fmt.Sprintf("duplicate payment %s; refund due", receiptOrID(txn)))
		order.UpdatedAt = now
		return OutcomeDuplicate, false, store.Orders().UpdateState(ctx, order)
	}

	txn.Status = domain.TransactionCompleted
	if err := store.Transactions().Transition(ctx, txn, domain.TransactionInitiated); err != nil {
		return "", false, err
	}

	if res.Amount != nil {
		expected := decimal.NewFromInt(mpesa.ChargeAmount(txn.Amount))
		if !res.Amount.Equal(expected) {
			order.Flag(fmt.Sprintf("amount mismatch: expected %s, received %s", expected, res.Amount.String()))
		}
	}

	order.PaymentStatus = domain.OrderPaymentPaid
	order.UpdatedAt = now

	notify := false
	if order.Status == domain.OrderStatusPending {
		if err := order.TransitionTo(domain.OrderStatusConfirmed, now); err != nil {
			return "", false, err
		}
		if err := fulfilConfirmation(ctx, store, order); err != nil {
			return "", false, err
		}
		notify = true
	} else {
		order.Flag(fmt.Sprintf("payment %s received on %s order", receiptOrID(txn), order.Status))
	}

	return OutcomeCompleted, notify, store.Orders().UpdateState(ctx, order)
}

func (r *Reconciler) applyFailure(ctx context.Context, store repository.Store, txn *domain.PaymentTransaction, res PaymentResult) (Outcome, error) {
	txn.Status = domain.TransactionFailed
	txn.ResultCode = res.ResultCode
	txn.ResultDescription = res.ResultDesc
	txn.UpdatedAt = r.now().UTC()

	if err := store.Transactions().Transition(ctx, txn, domain.TransactionInitiated); err != nil {
		return "", err
	}
	return OutcomeFailed, nil
}

// fulfilConfirmation takes stock and consumes the promo code for a newly confirmed order.
// Shortfalls are flagged for review instead of failing: the customer has already paid.
func fulfilConfirmation(ctx context.Context, store repository.Store, order *domain.Order) error {
	for _, item := range order.Items {
		err := store.Catalog().DecrementStock(ctx, item.Ref(), item.Quantity)
		if errors.Is(err, repository.ErrInsufficientStock) {
			order.Flag(fmt.Sprintf("insufficient stock for %s", describeRef(item.Ref())))
			continue
		}
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
	}

	if order.PromoCode != "" {
		ok, err := store.Promos().IncrementUsage(ctx, order.PromoCode)
		if err != nil {
			return err
		}
		if !ok {
			order.Flag(fmt.Sprintf("promo code %s usage limit exceeded", order.PromoCode))
		}
	}
	return nil
}

func (r *Reconciler) afterCommit(ctx context.Context, result *ReconcileResult, res PaymentResult, notify bool) {
	txn, order := result.Transaction, result.Order

	if r.cacheStore != nil && order != nil {
		if err := r.cacheStore.Invalidate(ctx, redis.OrderStatusKey(order.OrderNumber)); err != nil {
			r.log.WarnContext(ctx, "invalidate status cache", "order_number", order.OrderNumber, "error", err)
		}
	}

	if nrTxn := newrelic.FromContext(ctx); nrTxn != nil {
		nrTxn.AddAttribute("payment.outcome", string(result.Outcome))
		nrTxn.AddAttribute("payment.source", string(res.Source))
		nrTxn.AddAttribute("payment.transactionId", txn.ID)
	}

	attrs := []any{
		"outcome", result.Outcome,
		"source", res.Source,
		"transaction_id", txn.ID,
		"result_code", res.ResultCode,
	}
	if order != nil {
		attrs = append(attrs, "order_number", order.OrderNumber, "review_required", order.ReviewRequired)
	}
	r.log.InfoContext(ctx, "payment reconciled", attrs...)

	if r.notifications == nil || order == nil {
		return
	}
	switch {
	case notify:
		r.notifications.NotifyOrderConfirmed(order, txn.ReceiptNumber)
	case result.Outcome == OutcomeFailed:
		r.notifications.NotifyPaymentFailed(order)
	}
}

// lock takes the per-transaction Redis lock, waiting up to LockWait. When Redis is
// unreachable the row lock taken inside the database transaction still serialises writers.
func (r *Reconciler) lock(ctx context.Context, transactionID string) (func(), error) {
	noop := func() {}
	if r.lockStore == nil {
		return noop, nil
	}

	key := redis.TransactionLockKey(transactionID)
	deadline := r.now().Add(r.cfg.LockWait)
	wait := 25 * time.Millisecond

	for {
		token, acquired, err := r.lockStore.Acquire(ctx, key, r.cfg.LockTTL)
		if err != nil {
			r.log.WarnContext(ctx, "reconcile lock unavailable, relying on row lock", "transaction_id", transactionID, "error", err)
			return noop, nil
		}
		if acquired {
			return func() {
				if err := r.lockStore.Release(context.WithoutCancel(ctx), key, token); err != nil {
					r.log.WarnContext(ctx, "release reconcile lock", "transaction_id", transactionID, "error", err)
				}
			}, nil
		}

		if r.now().After(deadline) {
			return nil, ErrReconcileBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
}

func receiptOrID(txn *domain.PaymentTransaction) string {
	if txn.ReceiptNumber != "" {
		return txn.ReceiptNumber
	}
	return txn.ID
}
