package dao

import (
	"context"
)

// Service is the persistence contract shared by every entity store. The two
// durable stores (rules, decisions) must support concurrent reads and
// serialised writes per key; no cross-key transactions are required.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context) ([]*T, error)
}
