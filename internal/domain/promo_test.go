package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPromoCode_DiscountNeverNegativeNorAboveSubtotal(t *testing.T) {
	t.Parallel()

	subtotals := []string{"0", "1", "99.99", "3000", "150000"}
	values := []string{"-50", "0", "0.5", "10", "100", "150", "2999.99", "1000000"}

	for _, kind := range []DiscountType{DiscountPercentage, DiscountFixed} {
		for _, v := range values {
			p := &PromoCode{DiscountType: kind, DiscountValue: d(v)}
			for _, s := range subtotals {
				got := p.Discount(d(s))
				assert.False(t, got.IsNegative(), "%s %s on %s", kind, v, s)
				assert.True(t, got.LessThanOrEqual(d(s)), "%s %s on %s gave %s", kind, v, s, got)
			}
		}
	}
}

func TestPromoCode_Discount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     DiscountType
		value    string
		subtotal string
		want     string
	}{
		{"ten percent", DiscountPercentage, "10", "3000", "300"},
		{"percent rounds to cents", DiscountPercentage, "12.5", "99.99", "12.5"},
		{"over one hundred percent caps at subtotal", DiscountPercentage, "150", "3000", "3000"},
		{"fixed below subtotal", DiscountFixed, "500", "3000", "500"},
		{"fixed above subtotal caps", DiscountFixed, "5000", "3000", "3000"},
		{"unknown type gives nothing", DiscountType("BOGO"), "10", "3000", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &PromoCode{DiscountType: tt.kind, DiscountValue: d(tt.value)}
			got := p.Discount(d(tt.subtotal))
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestPromoCode_CheckOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	valid := func() *PromoCode {
		return &PromoCode{
			Code:          "KARIBU10",
			DiscountType:  DiscountPercentage,
			DiscountValue: d("10"),
			ValidFrom:     now.Add(-24 * time.Hour),
			ValidUntil:    now.Add(24 * time.Hour),
			UsageLimit:    5,
			UsageCount:    1,
			MinOrderValue: d("2000"),
			Active:        true,
		}
	}

	tests := []struct {
		name     string
		mutate   func(p *PromoCode)
		subtotal string
		want     PromoReason
	}{
		{"valid", func(p *PromoCode) {}, "3000", PromoReasonNone},
		{"inactive", func(p *PromoCode) { p.Active = false }, "3000", PromoReasonNotFound},
		{"not started", func(p *PromoCode) { p.ValidFrom = now.Add(time.Hour) }, "3000", PromoReasonNotStarted},
		{"expired", func(p *PromoCode) { p.ValidUntil = now.Add(-time.Hour) }, "3000", PromoReasonExpired},
		{"limit reached", func(p *PromoCode) { p.UsageCount = 5 }, "3000", PromoReasonLimitReached},
		{"unlimited usage", func(p *PromoCode) { p.UsageLimit = 0; p.UsageCount = 900 }, "3000", PromoReasonNone},
		{"below minimum", func(p *PromoCode) {}, "1999.99", PromoReasonBelowMinimum},
		{"expiry checked before usage", func(p *PromoCode) {
			p.ValidUntil = now.Add(-time.Hour)
			p.UsageCount = 5
		}, "10", PromoReasonExpired},
		{"usage checked before minimum", func(p *PromoCode) { p.UsageCount = 5 }, "10", PromoReasonLimitReached},
		{"open window", func(p *PromoCode) { p.ValidFrom = time.Time{}; p.ValidUntil = time.Time{} }, "3000", PromoReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			assert.Equal(t, tt.want, p.Check(now, d(tt.subtotal)))
		})
	}
}

func TestNormalizePromoCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "KARIBU10", NormalizePromoCode("  karibu10 "))
}
