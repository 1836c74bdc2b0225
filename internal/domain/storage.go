package domain

import (
	"context"
	"errors"
	"fmt"
)

// AuthStore persists opaque session credentials keyed by instance-namespaced
// keys. Get returns ErrKeyNotFound for absent keys.
type AuthStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// AuthPrefix is the key prefix owned by one instance.
func AuthPrefix(instanceID string) string {
	return "auth:" + instanceID + ":"
}

// AuthKey builds an instance-namespaced key, e.g. auth:<id>:creds.
func AuthKey(instanceID, name string) string {
	return AuthPrefix(instanceID) + name
}

// ClearAuth deletes every key owned by the instance.
func ClearAuth(ctx context.Context, store AuthStore, instanceID string) error {
	keys, err := store.Keys(ctx, AuthPrefix(instanceID))
	if err != nil {
		return fmt.Errorf("list auth keys: %w", err)
	}
	var errs []error
	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
