package storage

import (
	"context"
	"time"
)

// Retrier wraps a Store and retries transient failures at the
// store-client boundary.  A persistent failure is returned as a
// StoreError so that callers (the query store) can surface it into
// context as an explicit error state instead of a silently stale
// value.
type Retrier struct {
	Store    Store
	Attempts int
	Delay    time.Duration
}

// WithRetry wraps a store with default retry parameters.
func WithRetry(s Store) *Retrier {
	return &Retrier{
		Store:    s,
		Attempts: 3,
		Delay:    100 * time.Millisecond,
	}
}

func (r *Retrier) attempt(ctx context.Context, op, collection string, f func() error) error {
	var err error
	for i := 0; i < r.Attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return &StoreError{Op: op, Collection: collection, Err: ctx.Err()}
		case <-time.After(r.Delay):
		}
	}
	return &StoreError{Op: op, Collection: collection, Err: err}
}

func (r *Retrier) Get(ctx context.Context, collection, key string) (interface{}, bool, error) {
	var (
		v    interface{}
		have bool
	)
	err := r.attempt(ctx, "get", collection, func() error {
		var err error
		v, have, err = r.Store.Get(ctx, collection, key)
		return err
	})
	return v, have, err
}

func (r *Retrier) Query(ctx context.Context, collection string, filter Filter) ([]interface{}, error) {
	var vs []interface{}
	err := r.attempt(ctx, "query", collection, func() error {
		var err error
		vs, err = r.Store.Query(ctx, collection, filter)
		return err
	})
	return vs, err
}

func (r *Retrier) Put(ctx context.Context, collection, key string, value interface{}) error {
	return r.attempt(ctx, "put", collection, func() error {
		return r.Store.Put(ctx, collection, key, value)
	})
}

func (r *Retrier) Subscribe(collection string, f func(key string, value interface{})) (func(), error) {
	return r.Store.Subscribe(collection, f)
}
