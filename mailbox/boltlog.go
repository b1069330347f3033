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

package mailbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// BoltLog is a bbolt-backed Log: one bucket per target actor, keys
// are 8-byte big-endian sequences so cursor order is sequence order.
type BoltLog struct {
	filename string
	db       *bbolt.DB

	mu    sync.Mutex
	subId int
	subs  map[string]map[int]func(*Entry)
}

// NewBoltLog makes a BoltLog that will read and write the given
// file.  Call Open before use.
func NewBoltLog(filename string) *BoltLog {
	return &BoltLog{
		filename: filename,
		subs:     make(map[string]map[int]func(*Entry), 8),
	}
}

// Open opens the underlying bbolt file.
func (l *BoltLog) Open(ctx context.Context) error {
	opts := &bbolt.Options{
		Timeout: time.Second,
	}
	db, err := bbolt.Open(l.filename, 0644, opts)
	if err != nil {
		return err
	}
	l.db = db
	return nil
}

// Close closes the underlying bbolt file.
func (l *BoltLog) Close(ctx context.Context) error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (l *BoltLog) Append(ctx context.Context, e *Entry) (uint64, error) {
	stored := e.Copy()
	stored.Processed = false
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(e.Target))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		stored.Seq = seq
		js, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), js)
	})
	if err != nil {
		return 0, err
	}
	e.Seq = stored.Seq

	l.mu.Lock()
	fs := make([]func(*Entry), 0, len(l.subs[e.Target]))
	for _, f := range l.subs[e.Target] {
		fs = append(fs, f)
	}
	l.mu.Unlock()

	for _, f := range fs {
		f(stored.Copy())
	}
	return stored.Seq, nil
}

func (l *BoltLog) After(ctx context.Context, target string, seq uint64) ([]*Entry, error) {
	acc := make([]*Entry, 0, 8)
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(target))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, bs := c.Seek(seqKey(seq + 1)); k != nil; k, bs = c.Next() {
			var e Entry
			if err := json.Unmarshal(bs, &e); err != nil {
				return err
			}
			acc = append(acc, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (l *BoltLog) MarkProcessed(ctx context.Context, target string, seq uint64) (bool, error) {
	var flipped bool
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(target))
		if b == nil {
			return nil
		}
		bs := b.Get(seqKey(seq))
		if bs == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(bs, &e); err != nil {
			return err
		}
		if e.Processed {
			return nil
		}
		e.Processed = true
		js, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		flipped = true
		return b.Put(seqKey(seq), js)
	})
	return flipped, err
}

func (l *BoltLog) Subscribe(target string, f func(*Entry)) (func(), error) {
	l.mu.Lock()
	l.subId++
	id := l.subId
	m, have := l.subs[target]
	if !have {
		m = make(map[int]func(*Entry), 4)
		l.subs[target] = m
	}
	m[id] = f
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs[target], id)
		l.mu.Unlock()
	}, nil
}
