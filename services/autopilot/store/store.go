// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the keyed persistence used by every autopilot
// component.
//
// All per-account state lives under an "acct/{id}/" key partition. Every
// read-modify-write goes through Update, which is atomic per key: a mutex in
// MemoryStore, a transaction with conflict retry in BadgerStore. Components
// never hold state of their own between calls.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoChange may be returned from an Update callback to leave the stored
// value untouched without failing the call.
var ErrNoChange = errors.New("store: no change")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store: closed")

// UpdateFunc receives the current value (nil when absent) and returns the
// value to store. Returning ErrNoChange skips the write.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is a concurrent-safe key-value store.
//
// # Description
//
// Keys are slash-separated strings. Values are opaque bytes; the typed
// helpers in this package encode them as JSON.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Update must be atomic
// with respect to other Update and Put calls on the same key.
type Store interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Update performs an atomic read-modify-write on key.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// =============================================================================
// Typed Helpers
// =============================================================================

// GetJSON decodes the value at key into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return out, found, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, true, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, true, nil
}

// PutJSON encodes v and stores it at key.
func PutJSON[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}

// UpdateJSON atomically decodes the value at key, lets fn mutate it and
// stores the result. fn sees the zero T and exists=false when the key is
// absent. Returning ErrNoChange from fn skips the write.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(v *T, exists bool) error) error {
	return s.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		var v T
		if exists {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		if err := fn(&v, exists); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

// AppendBounded atomically appends items to the list at key and evicts the
// oldest entries beyond limit. A limit <= 0 keeps everything.
func AppendBounded[T any](ctx context.Context, s Store, key string, limit int, items ...T) error {
	if len(items) == 0 {
		return nil
	}
	return UpdateJSON(ctx, s, key, func(list *[]T, _ bool) error {
		*list = append(*list, items...)
		if limit > 0 && len(*list) > limit {
			*list = append([]T(nil), (*list)[len(*list)-limit:]...)
		}
		return nil
	})
}

// Recent returns the last n elements of list, most recent first. n <= 0
// returns all of them.
func Recent[T any](list []T, n int) []T {
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	out := make([]T, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out
}

// Increment atomically increments the counter at key and returns the new
// value.
func Increment(ctx context.Context, s Store, key string) (int64, error) {
	var next int64
	err := UpdateJSON(ctx, s, key, func(v *int64, _ bool) error {
		*v++
		next = *v
		return nil
	})
	return next, err
}
