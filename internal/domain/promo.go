package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType selects how a promo code's value is applied.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// PromoReason explains why a code cannot be applied.
type PromoReason string

const (
	PromoReasonNone         PromoReason = ""
	PromoReasonNotFound     PromoReason = "NOT_FOUND"
	PromoReasonNotStarted   PromoReason = "NOT_STARTED"
	PromoReasonExpired      PromoReason = "EXPIRED"
	PromoReasonLimitReached PromoReason = "LIMIT_REACHED"
	PromoReasonBelowMinimum PromoReason = "BELOW_MINIMUM"
)

var hundred = decimal.NewFromInt(100)

// PromoCode is a discount code. UsageLimit of zero means unlimited.
type PromoCode struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	ValidFrom     time.Time
	ValidUntil    time.Time
	UsageLimit    int
	UsageCount    int
	MinOrderValue decimal.Decimal
	Active        bool
}

// NormalizePromoCode canonicalises user input for lookups.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check validates the code for a candidate subtotal at time now.
// Checks run in order: active, validity window, usage, minimum order value.
func (p *PromoCode) Check(now time.Time, subtotal decimal.Decimal) PromoReason {
	if !p.Active {
		return PromoReasonNotFound
	}
	if !p.ValidFrom.IsZero() && now.Before(p.ValidFrom) {
		return PromoReasonNotStarted
	}
	if !p.ValidUntil.IsZero() && now.After(p.ValidUntil) {
		return PromoReasonExpired
	}
	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return PromoReasonLimitReached
	}
	if subtotal.LessThan(p.MinOrderValue) {
		return PromoReasonBelowMinimum
	}
	return PromoReasonNone
}

// Discount computes the amount taken off subtotal. The result lies in [0, subtotal].
func (p *PromoCode) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || !p.DiscountValue.IsPositive() {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		d = subtotal.Mul(p.DiscountValue).Div(hundred).Round(2)
	case DiscountFixed:
		d = p.DiscountValue
	default:
		return decimal.Zero
	}

	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}
