package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"duka/internal/domain"
	"duka/internal/mpesa"
	"duka/internal/redis"
	"duka/internal/repository"
	"duka/internal/retry"
)

// Gateway is the mobile-money API used to prompt customers and check on prompts.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, p mpesa.STKPushParams) (*mpesa.STKPushResponse, error)
	QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error)
}

// CallbackURLBuilder produces the authenticated callback URL for a transaction.
type CallbackURLBuilder interface {
	CallbackURL(transactionID, orderNumber string) (string, error)
}

// Ensure the gateway implementations satisfy Gateway.
var (
	_ Gateway = (*mpesa.Client)(nil)
	_ Gateway = (*mpesa.Simulator)(nil)
)

// Result codes recorded for failures that never reached a gateway verdict.
const (
	resultGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	resultGatewayRejected    = "GATEWAY_REJECTED"
)

// PaymentConfig holds payment initiation settings.
type PaymentConfig struct {
	// CallbackWindow is how long an INITIATED transaction is considered live.
	CallbackWindow time.Duration
	LockTTL        time.Duration
}

// PaymentService starts mobile-money payments for orders.
type PaymentService struct {
	orderRepo  repository.OrderRepository
	txnRepo    repository.TransactionRepository
	gateway    Gateway
	callbacks  CallbackURLBuilder
	lockStore  redis.LockStoreInterface
	cacheStore redis.CacheStoreInterface
	cfg        PaymentConfig
	log        *slog.Logger
	now        func() time.Time
}

// NewPaymentService creates a new PaymentService. lockStore and cacheStore may be nil.
func NewPaymentService(
	orderRepo repository.OrderRepository,
	txnRepo repository.TransactionRepository,
	gateway Gateway,
	callbacks CallbackURLBuilder,
	lockStore redis.LockStoreInterface,
	cacheStore redis.CacheStoreInterface,
	cfg PaymentConfig,
	log *slog.Logger,
) *PaymentService {
	if cfg.CallbackWindow <= 0 {
		cfg.CallbackWindow = 90 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &PaymentService{
		orderRepo:  orderRepo,
		txnRepo:    txnRepo,
		gateway:    gateway,
		callbacks:  callbacks,
		lockStore:  lockStore,
		cacheStore: cacheStore,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// InitiatePaymentRequest contains the parameters for starting a payment.
type InitiatePaymentRequest struct {
	OrderNumber string
	PhoneNumber string
}

// InitiatePayment records an INITIATED transaction and asks the gateway to prompt the customer.
// It returns once the gateway acknowledges the request; the outcome arrives through the Reconciler.
//
// On a gateway failure the transaction is kept as FAILED and the returned error wraps
// ErrGatewayUnavailable or ErrGatewayRejected. Callers may retry, which creates a new transaction.
func (s *PaymentService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*domain.PaymentTransaction, error) {
	phone, err := NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByNumber(ctx, req.OrderNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if s.lockStore != nil {
		key := redis.OrderLockKey(order.ID)
		token, acquired, err := s.lockStore.Acquire(ctx, key, s.cfg.LockTTL)
		if err != nil {
			s.log.WarnContext(ctx, "order lock unavailable, continuing", "order_number", order.OrderNumber, "error", err)
		} else if !acquired {
			return nil, ErrPaymentInProgress
		} else {
			defer func() {
				if err := s.lockStore.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.WarnContext(ctx, "release order lock", "order_number", order.OrderNumber, "error", err)
				}
			}()
		}
	}

	if err := s.checkPayable(ctx, order); err != nil {
		return nil, err
	}

	// The gateway takes whole shillings; the transaction records what is actually charged.
	charge := decimal.NewFromInt(mpesa.ChargeAmount(order.Total))

	now := s.now().UTC()
	txn := &domain.PaymentTransaction{
		ID:          uuid.New().String(),
		OrderID:     order.ID,
		Provider:    domain.PaymentProviderMpesa,
		Amount:      charge,
		PhoneNumber: phone,
		Status:      domain.TransactionInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.txnRepo.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	s.invalidateStatus(ctx, order.OrderNumber)

	callbackURL, err := s.callbacks.CallbackURL(txn.ID, order.OrderNumber)
	if err != nil {
		return s.fail(ctx, txn, order, resultGatewayUnavailable, err.Error(), fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
	}

	resp, err := s.gateway.InitiateSTKPush(ctx, mpesa.STKPushParams{
		PhoneNumber:      phone,
		Amount:           charge,
		AccountReference: order.OrderNumber,
		Description:      "Order " + order.OrderNumber,
		CallbackURL:      callbackURL,
	})
	if err != nil {
		if errors.Is(err, mpesa.ErrRejected) {
			return s.fail(ctx, txn, order, resultGatewayRejected, err.Error(), fmt.Errorf("%w: %v", ErrGatewayRejected, err))
		}
		return s.fail(ctx, txn, order, resultGatewayUnavailable, err.Error(), fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
	}
	if !resp.Accepted() {
		return s.fail(ctx, txn, order, resp.ResponseCode.String(), resp.ResponseDescription,
			fmt.Errorf("%w: %s %s", ErrGatewayRejected, resp.ResponseCode, resp.ResponseDescription))
	}

	// The callback looks the transaction up by these ids, so losing them loses the payment.
	_, err = retry.Do(ctx, retry.Default(), func() (struct{}, error) {
		return struct{}{}, s.txnRepo.SetCorrelation(context.WithoutCancel(ctx), txn.ID, resp.MerchantRequestID, resp.CheckoutRequestID)
	})
	if err != nil {
		s.log.ErrorContext(ctx, "store gateway correlation",
			"transaction_id", txn.ID,
			"checkout_request_id", resp.CheckoutRequestID,
			"error", err,
		)
		return nil, fmt.Errorf("store correlation: %w", err)
	}
	txn.MerchantRequestID = resp.MerchantRequestID
	txn.CheckoutRequestID = resp.CheckoutRequestID

	s.log.InfoContext(ctx, "payment initiated",
		"order_number", order.OrderNumber,
		"transaction_id", txn.ID,
		"checkout_request_id", txn.CheckoutRequestID,
		"amount", txn.Amount.String(),
	)
	return txn, nil
}

// checkPayable rejects orders that are paid, past PENDING, or already prompting the customer.
func (s *PaymentService) checkPayable(ctx context.Context, order *domain.Order) error {
	if order.PaymentStatus == domain.OrderPaymentPaid {
		return ErrOrderAlreadyPaid
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: status %s", ErrOrderNotPending, order.Status)
	}

	txns, err := s.txnRepo.ListByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}

	liveSince := s.now().Add(-s.cfg.CallbackWindow)
	for _, t := range txns {
		switch {
		case t.Status == domain.TransactionCompleted:
			return ErrOrderAlreadyPaid
		case t.Status == domain.TransactionInitiated && t.CreatedAt.After(liveSince):
			return ErrPaymentInProgress
		}
	}
	return nil
}

// fail records the attempt as FAILED and returns it together with cause.
func (s *PaymentService) fail(ctx context.Context, txn *domain.PaymentTransaction, order *domain.Order, code, desc string, cause error) (*domain.PaymentTransaction, error) {
	txn.Status = domain.TransactionFailed
	txn.ResultCode = code
	txn.ResultDescription = desc
	txn.UpdatedAt = s.now().UTC()

	if err := s.txnRepo.Transition(context.WithoutCancel(ctx), txn, domain.TransactionInitiated); err != nil {
		s.log.ErrorContext(ctx, "mark transaction failed", "transaction_id", txn.ID, "error", err)
	}
	s.invalidateStatus(ctx, order.OrderNumber)

	s.log.WarnContext(ctx, "payment initiation failed",
		"order_number", order.OrderNumber,
		"transaction_id", txn.ID,
		"result_code", code,
		"error", cause,
	)
	return txn, cause
}

func (s *PaymentService) invalidateStatus(ctx context.Context, orderNumber string) {
	if s.cacheStore == nil {
		return
	}
	if err := s.cacheStore.Invalidate(ctx, redis.OrderStatusKey(orderNumber)); err != nil {
		s.log.WarnContext(ctx, "invalidate status cache", "order_number", orderNumber, "error", err)
	}
}
