package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"duka/internal/domain"
	"duka/internal/redis"
	"duka/internal/repository"
)

// DeliveryService resolves delivery locations to their price tier.
type DeliveryService struct {
	tierRepo   repository.DeliveryTierRepository
	cacheStore redis.CacheStoreInterface
	log        *slog.Logger
}

// NewDeliveryService creates a new DeliveryService. cacheStore may be nil.
func NewDeliveryService(tierRepo repository.DeliveryTierRepository, cacheStore redis.CacheStoreInterface, log *slog.Logger) *DeliveryService {
	return &DeliveryService{
		tierRepo:   tierRepo,
		cacheStore: cacheStore,
		log:        log,
	}
}

// Resolve returns the tier configured for a location. Unknown locations fail closed with
// ErrLocationNotFound.
func (s *DeliveryService) Resolve(ctx context.Context, locationID string) (*domain.DeliveryTier, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, ErrLocationNotFound
	}

	tier, err := s.tierRepo.GetByLocation(ctx, locationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return tier, nil
}

// List returns every delivery location, served from cache when possible.
func (s *DeliveryService) List(ctx context.Context) ([]*domain.DeliveryTier, error) {
	if s.cacheStore != nil {
		var cached []*domain.DeliveryTier
		if hit, err := s.cacheStore.GetJSON(ctx, redis.DeliveryTiersKey(), &cached); err == nil && hit {
			return cached, nil
		}
	}

	tiers, err := s.tierRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	if s.cacheStore != nil {
		if err := s.cacheStore.SetJSON(ctx, redis.DeliveryTiersKey(), tiers, redis.DeliveryTierCacheTTL); err != nil {
			s.log.Warn("cache delivery tiers", "error", err)
		}
	}
	return tiers, nil
}
