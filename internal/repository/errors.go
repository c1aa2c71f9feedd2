package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateOrderNumber is returned when an order number collides with an existing one.
	ErrDuplicateOrderNumber = errors.New("duplicate order number")

	// ErrStaleState is returned when a conditional update finds the row no longer in the expected state.
	ErrStaleState = errors.New("entity state changed concurrently")

	// ErrInsufficientStock is returned when a stock decrement would go below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAlreadyCompleted is returned when an order would get a second COMPLETED transaction.
	ErrAlreadyCompleted = errors.New("order already has a completed payment")
)
