package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"duka/internal/domain"
	"duka/internal/repository"
)

// PromoEvaluation is the outcome of applying a code to a subtotal.
type PromoEvaluation struct {
	Code     string
	Discount decimal.Decimal
	Promo    *domain.PromoCode
}

// PromoService evaluates promo codes. It never changes usage counters; those move only when
// a paid order is confirmed.
type PromoService struct {
	promoRepo repository.PromoRepository
	now       func() time.Time
}

// NewPromoService creates a new PromoService.
func NewPromoService(promoRepo repository.PromoRepository) *PromoService {
	return &PromoService{
		promoRepo: promoRepo,
		now:       time.Now,
	}
}

// Evaluate checks code against subtotal and computes the discount.
// Refusals are returned as *PromoError.
func (s *PromoService) Evaluate(ctx context.Context, code string, subtotal decimal.Decimal) (*PromoEvaluation, error) {
	code = domain.NormalizePromoCode(code)
	if code == "" {
		return nil, &PromoError{Code: code, Reason: domain.PromoReasonNotFound}
	}

	promo, err := s.promoRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &PromoError{Code: code, Reason: domain.PromoReasonNotFound}
		}
		return nil, err
	}

	if reason := promo.Check(s.now(), subtotal); reason != domain.PromoReasonNone {
		return nil, &PromoError{Code: code, Reason: reason}
	}

	return &PromoEvaluation{
		Code:     promo.Code,
		Discount: promo.Discount(subtotal),
		Promo:    promo,
	}, nil
}
