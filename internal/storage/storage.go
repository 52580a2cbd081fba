// Package storage provides the key-value persistence used by the agent.
// Two scopes exist: a local scope for per-device state (connection status,
// error log, key material) and a sync scope for data shared between devices
// (instances, active instance, preferences). Each scope is a Store and can be
// backed by memory, a JSON file, SQLite, Redis or S3.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key is absent
var ErrNotFound = errors.New("storage: key not found")

// Store is an asynchronous key-value store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
}

// Scope names a storage area
type Scope string

const (
	ScopeLocal Scope = "local"
	ScopeSync  Scope = "sync"
)

// Scopes bundles the two stores the agent works with
type Scopes struct {
	Local Store
	Sync  Store
}

// Closer is implemented by backends holding connections or file handles
type Closer interface {
	Close() error
}

// Close releases any backend resources held by the scopes
func (s Scopes) Close() error {
	var errs []error
	for _, st := range []Store{s.Local, s.Sync} {
		if c, ok := st.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// GetJSON loads key into v. It reports false without error when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
