package interfaces

import "context"

// Locker serialises operations on one payment intent across processes.
type Locker interface {
	// Acquire returns a release func, or models.ErrConflict when held elsewhere.
	Acquire(ctx context.Context, key string) (func(), error)
}
