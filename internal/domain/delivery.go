package domain

import "github.com/shopspring/decimal"

// DeliveryTier is the static price band assigned to a delivery location.
type DeliveryTier struct {
	LocationID string
	Tier       int
	Price      decimal.Decimal
	Label      string
}
