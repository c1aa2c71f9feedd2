package repository

import "context"

// Store groups the repositories that take part in a single database transaction.
type Store interface {
	Orders() OrderRepository
	Transactions() TransactionRepository
	Catalog() CatalogRepository
	Promos() PromoRepository
}

// UnitOfWork runs fn inside one database transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(store Store) error) error
}
