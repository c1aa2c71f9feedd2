package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus represents the state of one payment attempt.
type TransactionStatus string

const (
	TransactionInitiated TransactionStatus = "INITIATED"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	// TransactionDuplicate marks a successful charge on an order that was already paid.
	TransactionDuplicate TransactionStatus = "DUPLICATE"
	TransactionRefunded  TransactionStatus = "REFUNDED"
)

// IsTerminal reports whether gateway results can no longer change the transaction.
func (s TransactionStatus) IsTerminal() bool {
	return s != TransactionInitiated
}

// Refundable reports whether money was taken and can be marked as returned.
func (s TransactionStatus) Refundable() bool {
	return s == TransactionCompleted || s == TransactionDuplicate
}

// PaymentProvider names the gateway that handled a transaction.
type PaymentProvider string

const PaymentProviderMpesa PaymentProvider = "MPESA"

// PaymentTransaction is a single push-payment attempt for an order.
type PaymentTransaction struct {
	ID                string
	OrderID           string
	Provider          PaymentProvider
	Amount            decimal.Decimal
	PhoneNumber       string
	Status            TransactionStatus
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        string
	ResultDescription string
	ReceiptNumber     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time
}

// MostRelevant picks the transaction a customer cares about: the completed one if any,
// otherwise the most recently created. txns may be in any order.
func MostRelevant(txns []*PaymentTransaction) *PaymentTransaction {
	var latest *PaymentTransaction
	for _, t := range txns {
		if t.Status == TransactionCompleted {
			return t
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	return latest
}
