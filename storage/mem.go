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

package storage

import (
	"context"
	"sort"
	"sync"
)

// Mem is an in-memory Store for tests, demos, and sessions that
// don't need durability.
type Mem struct {
	sync.RWMutex

	collections map[string]map[string]interface{}

	subId int
	subs  map[string]map[int]func(string, interface{})
}

// NewMem makes an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		collections: make(map[string]map[string]interface{}, 8),
		subs:        make(map[string]map[int]func(string, interface{}), 8),
	}
}

func (s *Mem) Get(ctx context.Context, collection, key string) (interface{}, bool, error) {
	s.RLock()
	defer s.RUnlock()
	c, have := s.collections[collection]
	if !have {
		return nil, false, nil
	}
	v, have := c[key]
	return v, have, nil
}

func (s *Mem) Query(ctx context.Context, collection string, filter Filter) ([]interface{}, error) {
	s.RLock()
	c := s.collections[collection]
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	// Deterministic order makes tests and diffs sane.
	sort.Strings(keys)
	acc := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		if Matches(c[k], filter) {
			acc = append(acc, c[k])
		}
	}
	s.RUnlock()
	return acc, nil
}

func (s *Mem) Put(ctx context.Context, collection, key string, value interface{}) error {
	s.Lock()
	c, have := s.collections[collection]
	if !have {
		c = make(map[string]interface{}, 8)
		s.collections[collection] = c
	}
	c[key] = value

	fs := make([]func(string, interface{}), 0, len(s.subs[collection]))
	for _, f := range s.subs[collection] {
		fs = append(fs, f)
	}
	s.Unlock()

	// Notify outside the lock: a callback may turn around and
	// read the store.
	for _, f := range fs {
		f(key, value)
	}
	return nil
}

func (s *Mem) Subscribe(collection string, f func(key string, value interface{})) (func(), error) {
	s.Lock()
	s.subId++
	id := s.subId
	m, have := s.subs[collection]
	if !have {
		m = make(map[int]func(string, interface{}), 4)
		s.subs[collection] = m
	}
	m[id] = f
	s.Unlock()

	return func() {
		s.Lock()
		delete(s.subs[collection], id)
		s.Unlock()
	}, nil
}
