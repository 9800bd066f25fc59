// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2024 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/USA-RedDragon/DMRHub>

package kv

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/cec-lip/lipd/internal/config"
	"github.com/puzpuzpuz/xsync/v4"
)

func makeInMemoryKV(_ context.Context, _ *config.Config) (KV, error) {
	return inMemoryKV{
		kv: xsync.NewMap[string, kvValue](),
	}, nil
}

type kvValue struct {
	values [][]byte
	ttl    time.Time
}

type inMemoryKV struct {
	kv *xsync.Map[string, kvValue]
}

func (kv inMemoryKV) Has(_ context.Context, key string) (bool, error) {
	obj, ok := kv.kv.Load(key)
	if !ok {
		return false, nil
	}
	if !obj.ttl.IsZero() && obj.ttl.Before(time.Now()) {
		kv.kv.Delete(key) // Remove expired key
		return false, nil
	}
	return true, nil
}

func (kv inMemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := kv.kv.Load(key)
	if !ok {
		return nil, fmt.Errorf("key %s not found", key)
	}
	if len(value.values) == 0 {
		return nil, fmt.Errorf("key %s has no values", key)
	}
	if !value.ttl.IsZero() && value.ttl.Before(time.Now()) {
		kv.kv.Delete(key) // Remove expired key
		return nil, fmt.Errorf("key %s has expired", key)
	}
	return value.values[0], nil // Return the first value
}

func (kv inMemoryKV) Set(_ context.Context, key string, value []byte) error {
	kv.kv.Store(key, kvValue{
		values: [][]byte{value},
	})
	return nil
}

func (kv inMemoryKV) Delete(_ context.Context, key string) error {
	kv.kv.Delete(key)
	return nil
}

func (kv inMemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	value, ok := kv.kv.Load(key)
	if !ok {
		return fmt.Errorf("key %s not found", key)
	}
	if ttl <= 0 {
		kv.kv.Delete(key) // Remove the key if ttl is zero or negative
		return nil
	}
	value.ttl = time.Now().Add(ttl)
	kv.kv.Store(key, value)
	return nil
}

func (kv inMemoryKV) Scan(_ context.Context, _ uint64, match string, count int64) ([]string, uint64, error) {
	keys := make([]string, 0)
	kv.kv.Range(func(key string, value kvValue) bool {
		if !value.ttl.IsZero() && value.ttl.Before(time.Now()) {
			kv.kv.Delete(key) // Remove expired keys
			return true       // continue iteration
		}
		matched, _ := path.Match(match, key)
		if match == "" || matched {
			keys = append(keys, key)
		}
		return count <= 0 || int64(len(keys)) < count
	})
	return keys, 0, nil // cursor is not used in this implementation
}

// RPush appends a value to a list stored under key. Lists share the
// same map as scalar values; RPush on a key previously Set appends
// after the Set value, which stays the list's first element.
func (kv inMemoryKV) RPush(_ context.Context, key string, value []byte) (int64, error) {
	existing, _ := kv.kv.Load(key)
	existing.values = append(existing.values, value)
	kv.kv.Store(key, existing)
	return int64(len(existing.values)), nil
}

// LDrain atomically returns all elements of the list and deletes the key.
func (kv inMemoryKV) LDrain(_ context.Context, key string) ([][]byte, error) {
	value, ok := kv.kv.LoadAndDelete(key)
	if !ok {
		return nil, nil
	}
	return value.values, nil
}

func (kv inMemoryKV) Close() error {
	// No resources to close in in-memory implementation
	return nil
}
