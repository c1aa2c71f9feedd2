package domain

import "github.com/shopspring/decimal"

// ItemRef points at a sellable catalog entry. VariantID is empty for products without variants.
type ItemRef struct {
	ProductID string
	VariantID string
}

// CatalogItem is the server-side price and stock for an ItemRef.
type CatalogItem struct {
	Ref    ItemRef
	Name   string
	Price  decimal.Decimal
	Stock  int
	Active bool
}
