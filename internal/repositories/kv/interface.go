// Package kv provides the durable key/value repository backing queue
// snapshots and stored session tokens.
package kv

import (
	"context"
)

// Repository is a durable key/value store. Get returns (nil, nil) for a
// missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
