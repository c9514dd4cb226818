// Package repo defines a generic entity repository over the graph store.
package repo

import "context"

// Repository is the CRUD surface shared by all entity repositories.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts paginates and filters List calls.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}
