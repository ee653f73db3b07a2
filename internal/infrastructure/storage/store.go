// Package storage provides object storage backends for the filestore extension.
package storage

import (
	"context"
	"errors"
)

// ErrKeyRequired is returned for an empty object key
var ErrKeyRequired = errors.New("storage key is required")

// ObjectStore is the subset of object storage the admin extensions need
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// NoopObjectStore is used when object storage is disabled. Writes succeed
// and nothing is ever found.
type NoopObjectStore struct{}

// NewNoopObjectStore creates a NoopObjectStore
func NewNoopObjectStore() *NoopObjectStore {
	return &NoopObjectStore{}
}

// Put discards the object
func (NoopObjectStore) Put(_ context.Context, key string, _ []byte, _ string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return nil
}

// Delete always succeeds
func (NoopObjectStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return nil
}

// Exists always reports false
func (NoopObjectStore) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrKeyRequired
	}
	return false, nil
}

var (
	_ ObjectStore = NoopObjectStore{}
	_ ObjectStore = (*S3ObjectStore)(nil)
)
