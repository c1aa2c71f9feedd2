package domain

import "errors"

// ErrInvalidStatusTransition is returned when a status change is not a documented edge.
var ErrInvalidStatusTransition = errors.New("invalid status transition")
