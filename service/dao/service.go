package dao

import (
	"context"
)

// Service is the pluggable persistence contract of the engine. Save must be
// a compare-and-swap write: the entity's version is checked against the
// stored one and incremented atomically, and a stale write fails with
// ErrVersionConflict instead of blind-overwriting.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
