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

// Package bolt is a bbolt-backed storage.Store: one bucket per
// collection, JSON-encoded values.
package bolt

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/loomworks/loom/storage"

	bbolt "go.etcd.io/bbolt"
)

// Store is a file-backed storage.Store.
type Store struct {
	Debug bool

	filename string
	db       *bbolt.DB

	mu    sync.Mutex
	subId int
	subs  map[string]map[int]func(string, interface{})
}

// NewStore makes a Store that will read and write the given file.
// Call Open before use.
func NewStore(filename string) *Store {
	return &Store{
		filename: filename,
		subs:     make(map[string]map[int]func(string, interface{}), 8),
	}
}

// Open opens the underlying bbolt file.
func (s *Store) Open(ctx context.Context) error {
	opts := &bbolt.Options{
		Timeout: time.Second,
	}
	db, err := bbolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.Debug {
		log.Printf("bolt.Store "+format, args...)
	}
}

func (s *Store) Get(ctx context.Context, collection, key string) (interface{}, bool, error) {
	var (
		v    interface{}
		have bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		bs := b.Get([]byte(key))
		if bs == nil {
			return nil
		}
		have = true
		return json.Unmarshal(bs, &v)
	})
	return v, have, err
}

func (s *Store) Query(ctx context.Context, collection string, filter storage.Filter) ([]interface{}, error) {
	acc := make([]interface{}, 0, 32)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, bs := c.First(); k != nil; k, bs = c.Next() {
			var v interface{}
			if err := json.Unmarshal(bs, &v); err != nil {
				return err
			}
			if storage.Matches(v, filter) {
				acc = append(acc, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logf("Query %s found %d records", collection, len(acc))
	return acc, nil
}

func (s *Store) Put(ctx context.Context, collection, key string, value interface{}) error {
	js, err := json.Marshal(&value)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), js)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	fs := make([]func(string, interface{}), 0, len(s.subs[collection]))
	for _, f := range s.subs[collection] {
		fs = append(fs, f)
	}
	s.mu.Unlock()

	for _, f := range fs {
		f(key, value)
	}
	return nil
}

func (s *Store) Subscribe(collection string, f func(key string, value interface{})) (func(), error) {
	s.mu.Lock()
	s.subId++
	id := s.subId
	m, have := s.subs[collection]
	if !have {
		m = make(map[int]func(string, interface{}), 4)
		s.subs[collection] = m
	}
	m[id] = f
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs[collection], id)
		s.mu.Unlock()
	}, nil
}
