package service

import (
	"errors"
	"fmt"

	"duka/internal/domain"
)

var (
	// ErrEmptyCart is returned when an order has no line items.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrTooManyLines is returned when a cart exceeds the configured number of lines.
	ErrTooManyLines = errors.New("too many cart lines")

	// ErrInvalidQuantity is returned when a line quantity is not positive or above the per-line cap.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidProduct is returned when a line has no product reference.
	ErrInvalidProduct = errors.New("invalid product reference")

	// ErrInvalidCustomer is returned when neither a customer id nor a guest email is given.
	ErrInvalidCustomer = errors.New("customer id or guest email is required")

	// ErrInvalidPaymentMethod is returned when the payment method is not supported.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrInvalidPhoneNumber is returned when a phone number is not a Kenyan mobile number.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")

	// ErrLocationNotFound is returned when a delivery location has no configured tier.
	ErrLocationNotFound = errors.New("delivery location not found")

	// ErrProductUnavailable is returned when a cart line references a missing or inactive product.
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrInsufficientStock is returned when a cart line asks for more units than are in stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPromoInvalid is returned when a promo code cannot be applied. See PromoError.
	ErrPromoInvalid = errors.New("promo code invalid")

	// ErrOrderNotFound is returned when no order matches the reference.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotPending is returned when payment is requested for an order past PENDING.
	ErrOrderNotPending = errors.New("order is not awaiting payment")

	// ErrOrderAlreadyPaid is returned when payment is requested for an order that is paid.
	ErrOrderAlreadyPaid = errors.New("order already paid")

	// ErrOrderNotPaid is returned when an unpaid mobile-money order is confirmed manually.
	ErrOrderNotPaid = errors.New("order not paid")

	// ErrPaymentInProgress is returned when another payment prompt for the order is still live.
	ErrPaymentInProgress = errors.New("payment already in progress")

	// ErrGatewayUnavailable is returned when the payment gateway cannot be reached.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected is returned when the payment gateway refuses a request.
	ErrGatewayRejected = errors.New("payment gateway rejected request")

	// ErrInvalidCallback is returned for gateway results without a correlation identifier.
	ErrInvalidCallback = errors.New("invalid payment callback")

	// ErrUnknownTransaction is returned when a gateway result matches no transaction.
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrCallbackMismatch is returned when a callback token names a different transaction.
	ErrCallbackMismatch = errors.New("callback does not belong to transaction")

	// ErrTransactionNotFound is returned when no payment transaction has the given id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNotRefundable is returned when a transaction holds no money to refund.
	ErrNotRefundable = errors.New("transaction not refundable")

	// ErrReconcileBusy is returned when another worker holds the transaction too long.
	ErrReconcileBusy = errors.New("transaction is being reconciled")

	// ErrInvalidStatus is returned for an unknown order status.
	ErrInvalidStatus = errors.New("invalid order status")

	// ErrTrackingNumberRequired is returned when shipping an order without a tracking number.
	ErrTrackingNumberRequired = errors.New("tracking number required")

	// ErrInvalidStatusTransition is returned for an undocumented order status edge.
	ErrInvalidStatusTransition = domain.ErrInvalidStatusTransition
)

// PromoError reports why a promo code was refused.
type PromoError struct {
	Code   string
	Reason domain.PromoReason
}

func (e *PromoError) Error() string {
	return fmt.Sprintf("promo code %q: %s", e.Code, e.Reason)
}

// Unwrap lets errors.Is match ErrPromoInvalid.
func (e *PromoError) Unwrap() error {
	return ErrPromoInvalid
}
