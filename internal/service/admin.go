package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"duka/internal/domain"
	"duka/internal/redis"
	"duka/internal/repository"
)

// AdminService performs back-office changes to orders and payments.
type AdminService struct {
	uow           repository.UnitOfWork
	orderRepo     repository.OrderRepository
	cacheStore    redis.CacheStoreInterface
	notifications *NotificationService
	log           *slog.Logger
	now           func() time.Time
}

// NewAdminService creates a new AdminService. cacheStore may be nil.
func NewAdminService(
	uow repository.UnitOfWork,
	orderRepo repository.OrderRepository,
	cacheStore redis.CacheStoreInterface,
	notifications *NotificationService,
	log *slog.Logger,
) *AdminService {
	return &AdminService{
		uow:           uow,
		orderRepo:     orderRepo,
		cacheStore:    cacheStore,
		notifications: notifications,
		log:           log,
		now:           time.Now,
	}
}

// TransitionOrderRequest contains the parameters for a manual status change.
type TransitionOrderRequest struct {
	OrderNumber    string
	Status         string
	TrackingNumber string
	Reason         string
}

// TransitionOrder moves an order along the status state machine.
//
// Confirming a PENDING order requires a completed mobile-money payment or cash on
// delivery; a cash order takes stock and promo usage at that point. Cancelling a paid
// order flags it for a refund.
func (s *AdminService) TransitionOrder(ctx context.Context, req TransitionOrderRequest) (*domain.Order, error) {
	next := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !next.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}
	tracking := strings.TrimSpace(req.TrackingNumber)
	if next == domain.OrderStatusShipped && tracking == "" {
		return nil, ErrTrackingNumberRequired
	}

	existing, err := s.orderRepo.GetByNumber(ctx, strings.TrimSpace(req.OrderNumber))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	var order *domain.Order
	confirmedCash := false
	err = s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		order, err = store.Orders().GetByIDForUpdate(ctx, existing.ID)
		if err != nil {
			return err
		}
		from := order.Status
		now := s.now().UTC()

		if from == domain.OrderStatusPending && next == domain.OrderStatusConfirmed {
			switch {
			case order.PaymentStatus == domain.OrderPaymentPaid:
			case order.PaymentMethod == domain.PaymentMethodCashOnDelivery:
				confirmedCash = true
			default:
				return ErrOrderNotPaid
			}
		}

		if err := order.TransitionTo(next, now); err != nil {
			return err
		}

		switch next {
		case domain.OrderStatusShipped:
			order.TrackingNumber = tracking
		case domain.OrderStatusCancelled:
			order.CancelReason = strings.TrimSpace(req.Reason)
			if order.PaymentStatus == domain.OrderPaymentPaid {
				order.Flag("cancelled after payment; refund due")
			}
		}

		if confirmedCash {
			if err := fulfilConfirmation(ctx, store, order); err != nil {
				return err
			}
		}
		return store.Orders().UpdateState(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStatus(ctx, order.OrderNumber)
	s.log.InfoContext(ctx, "order status changed",
		"order_number", order.OrderNumber,
		"status", order.Status,
		"review_required", order.ReviewRequired,
	)

	if confirmedCash && s.notifications != nil {
		s.notifications.NotifyOrderConfirmed(order, "")
	}
	return order, nil
}

// RefundTransaction records that the money of a COMPLETED or DUPLICATE transaction was
// returned to the customer. The gateway reversal itself happens outside this service.
func (s *AdminService) RefundTransaction(ctx context.Context, transactionID, reason string) (*domain.PaymentTransaction, error) {
	var txn *domain.PaymentTransaction
	var order *domain.Order

	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		txn, err = store.Transactions().GetByIDForUpdate(ctx, transactionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if !txn.Status.Refundable() {
			return fmt.Errorf("%w: status %s", ErrNotRefundable, txn.Status)
		}

		order, err = store.Orders().GetByIDForUpdate(ctx, txn.OrderID)
		if err != nil {
			return err
		}

		from := txn.Status
		now := s.now().UTC()
		txn.Status = domain.TransactionRefunded
		txn.UpdatedAt = now
		if reason = strings.TrimSpace(reason); reason != "" {
			txn.ResultDescription = reason
		}
		if err := store.Transactions().Transition(ctx, txn, from); err != nil {
			return err
		}

		paid, err := store.Transactions().HasCompleted(ctx, order.ID)
		if err != nil {
			return err
		}
		if !paid && order.PaymentStatus == domain.OrderPaymentPaid {
			order.PaymentStatus = domain.OrderPaymentRefunded
			order.UpdatedAt = now
			return store.Orders().UpdateState(ctx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStatus(ctx, order.OrderNumber)
	s.log.InfoContext(ctx, "transaction refunded",
		"transaction_id", txn.ID,
		"order_number", order.OrderNumber,
		"payment_status", order.PaymentStatus,
	)
	return txn, nil
}

func (s *AdminService) invalidateStatus(ctx context.Context, orderNumber string) {
	if s.cacheStore == nil {
		return
	}
	if err := s.cacheStore.Invalidate(ctx, redis.OrderStatusKey(orderNumber)); err != nil {
		s.log.WarnContext(ctx, "invalidate status cache", "order_number", orderNumber, "error", err)
	}
}
