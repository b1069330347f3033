/* Copyright 2024 Loomworks
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package storage is the boundary to the replicated key-value store.
//
// The runtime is a consumer of this store, not its implementer: the
// store owns conflict resolution and eventual delivery of
// subscription callbacks; this package just specifies what the
// runtime needs (get/query/put/subscribe) and ships an in-memory
// implementation plus a bbolt-backed one (in 'storage/bolt').
package storage

import (
	"context"

	"github.com/loomworks/loom/expr"
)

// KeyField is the unique identifier field of stored records.  A
// query whose filter is a single equality condition on this field can
// (and must) be served by a point lookup instead of a collection
// scan.
var KeyField = "id"

// Filter is a set of concrete equality conditions on record fields.
// Filters reaching this boundary never contain expressions.
type Filter map[string]interface{}

// Store is what the runtime requires of the underlying store.
type Store interface {
	// Get fetches one record.  The boolean reports whether the
	// record exists.
	Get(ctx context.Context, collection, key string) (interface{}, bool, error)

	// Query returns the records of a collection matching the
	// filter.  An empty filter matches everything.
	Query(ctx context.Context, collection string, filter Filter) ([]interface{}, error)

	// Put writes one record.  Put returns after the write is
	// committed.
	Put(ctx context.Context, collection, key string, value interface{}) error

	// Subscribe registers a callback for writes to a collection
	// and returns an unsubscribe function.  Callbacks may arrive
	// on any goroutine and may be delivered more than once for
	// the same logical value; consumers must re-apply
	// idempotently.
	Subscribe(collection string, f func(key string, value interface{})) (func(), error)
}

// Matches reports whether a record satisfies all of a filter's
// equality conditions.  Conditions on fields missing from the record
// do not match.
func Matches(value interface{}, filter Filter) bool {
	m, is := value.(map[string]interface{})
	if !is {
		return len(filter) == 0
	}
	for field, want := range filter {
		got, err := expr.FollowPath(m, field, "record")
		if err != nil {
			return false
		}
		if !expr.Equal(got, want) {
			return false
		}
	}
	return true
}

// PointLookup reports whether a filter is a single equality condition
// on KeyField and, if so, returns the key as a string.
func PointLookup(filter Filter) (string, bool) {
	if len(filter) != 1 {
		return "", false
	}
	v, have := filter[KeyField]
	if !have {
		return "", false
	}
	s, is := v.(string)
	return s, is
}

// StoreError wraps a failure at the store-client boundary.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return "store " + e.Op + " on \"" + e.Collection + "\" failed: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
