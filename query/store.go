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

package query

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/loomworks/loom/expr"
	"github.com/loomworks/loom/storage"
)

// DefaultTimeout bounds a single external fetch during resolution.
var DefaultTimeout = 10 * time.Second

// ErrorSuffix names the context field that carries a descriptor's
// resolution failure: a descriptor at key "items" reports under
// "itemsError".  State machines can guard on that field to reach an
// error state; the key's previous result is cleared rather than left
// silently stale.
const ErrorSuffix = "Error"

// binding is the store's record of one registered descriptor.
type binding struct {
	desc *Descriptor

	// deps is the set of context paths the filter reads, computed
	// once at registration.  It only changes when the descriptor
	// itself is replaced.
	deps []string

	// lastFilter is the canonical JSON of the last concrete
	// filter; an unchanged concrete filter skips the fetch.
	lastFilter string

	// dirty forces the next resolution through to the source,
	// set at registration and on source-collection writes.
	dirty bool

	// subErr is a source subscription failure.  The descriptor
	// fails closed rather than serving results that would never
	// invalidate.
	subErr error

	unsub func()
}

// Store wraps one actor's context document.
//
// It implements the machine's ContextDoc: Apply is the sole mutation
// path, and every Apply re-resolves exactly those descriptors whose
// filter dependencies changed value.  The resolved results live in
// the context under the descriptor's own key; the raw descriptors
// live only in the store's bindings.
//
// Snapshot and Apply are called from the actor's single event loop.
// Source subscription callbacks can arrive on other goroutines; set
// Defer to route them back onto that loop.
type Store struct {
	// Source is the external data store.
	Source storage.Store

	// Evaluator evaluates filter and map expressions.  Nil means
	// expr.DefaultEvaluator.
	Evaluator *expr.Evaluator

	// Timeout bounds each external fetch.  Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Defer, if not nil, schedules source-driven re-resolution
	// (instead of running it on the subscription callback's
	// goroutine).
	Defer func(func())

	// Debug turns on logging.
	Debug bool

	mu       sync.Mutex
	context  map[string]interface{}
	bindings map[string]*binding
	subId    int
	subs     map[int]func(map[string]interface{})
}

// NewStore makes a Store over an initial context, registering and
// resolving any descriptor-valued entries.
func NewStore(src storage.Store, initial map[string]interface{}) (*Store, error) {
	s := &Store{
		Source:   src,
		context:  make(map[string]interface{}, len(initial)),
		bindings: make(map[string]*binding, 4),
		subs:     make(map[int]func(map[string]interface{}), 4),
	}
	if initial != nil {
		if err := s.Apply(initial); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.Debug {
		log.Printf("query.Store "+format, args...)
	}
}

func (s *Store) evaluator() *expr.Evaluator {
	if s.Evaluator != nil {
		return s.Evaluator
	}
	return expr.DefaultEvaluator
}

func (s *Store) timeout() time.Duration {
	if 0 < s.Timeout {
		return s.Timeout
	}
	return DefaultTimeout
}

// Snapshot returns a copy of the context with descriptor results in
// place of descriptors.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := make(map[string]interface{}, len(s.context))
	for k, v := range s.context {
		acc[k] = v
	}
	return acc
}

// Apply merges evaluated key/value pairs into the context and then
// re-resolves affected descriptors.
//
// A descriptor-shaped value registers (or replaces) a descriptor at
// that key; a plain value at a previously descriptor-holding key
// unregisters it.  The merge itself is all-or-nothing: values land
// before any resolution I/O starts, so a fetch failure never leaves
// a partial merge.
func (s *Store) Apply(changes map[string]interface{}) error {
	s.mu.Lock()
	err := s.apply(changes)
	fire := s.notifyLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	fire()
	return nil
}

// apply does the merge and resolution.  Caller holds the lock.
func (s *Store) apply(changes map[string]interface{}) error {
	// Dependency values before the merge, for change detection.
	before := make(map[string]interface{}, 4)
	for _, b := range s.bindings {
		for _, p := range b.deps {
			if _, have := before[p]; !have {
				before[p] = s.valueAt(p)
			}
		}
	}

	for k, v := range changes {
		if d, is := AsDescriptor(v); is {
			s.register(k, d)
			continue
		}
		s.unregister(k)
		s.context[k] = v
	}

	for k, b := range s.bindings {
		if !b.dirty {
			changed := false
			for _, p := range b.deps {
				if !expr.Equal(before[p], s.valueAt(p)) {
					changed = true
					break
				}
			}
			if !changed {
				continue
			}
		}
		if err := s.resolve(k, b); err != nil {
			return err
		}
	}
	return nil
}

// Watch subscribes to context changes.  The callback gets a snapshot
// after every batch of changes; it returns an unsubscribe function.
func (s *Store) Watch(f func(map[string]interface{})) (func(), error) {
	s.mu.Lock()
	s.subId++
	id := s.subId
	s.subs[id] = f
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// Close releases the store's source subscriptions.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.bindings {
		if b.unsub != nil {
			b.unsub()
		}
		delete(s.bindings, k)
	}
}

// register installs a descriptor at key, computing its dependency set
// and subscribing to its source collection.  Caller holds the lock.
func (s *Store) register(key string, d *Descriptor) {
	s.unregister(key)

	deps := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for _, fexpr := range d.Filter {
		for _, p := range expr.References(fexpr) {
			if !seen[p] {
				seen[p] = true
				deps = append(deps, p)
			}
		}
	}

	b := &binding{
		desc:  d,
		deps:  deps,
		dirty: true,
	}
	unsub, err := s.Source.Subscribe(d.Source, func(string, interface{}) {
		s.invalidate(key)
	})
	if err != nil {
		log.Printf("query.Store subscribe %s for %s: %v", d.Source, key, err)
		b.subErr = err
	} else {
		b.unsub = unsub
	}
	s.bindings[key] = b
	s.logf("registered %s -> %s deps %v", key, d.Source, deps)
}

func (s *Store) unregister(key string) {
	b, have := s.bindings[key]
	if !have {
		return
	}
	if b.unsub != nil {
		b.unsub()
	}
	delete(s.bindings, key)
}

// invalidate marks a descriptor stale after a write to its source
// collection and re-resolves it, via Defer when configured so the
// work lands on the actor's event loop.
func (s *Store) invalidate(key string) {
	run := func() {
		s.mu.Lock()
		fire := func() {}
		b, have := s.bindings[key]
		if have {
			b.dirty = true
			if err := s.resolve(key, b); err != nil {
				s.logf("invalidate %s: %v", key, err)
			} else {
				fire = s.notifyLocked()
			}
		}
		s.mu.Unlock()
		fire()
	}
	if s.Defer != nil {
		s.Defer(run)
		return
	}
	run()
}

// resolve evaluates a descriptor's filter, fetches if the concrete
// filter changed, applies the map projection, and writes the result
// under key.  Caller holds the lock.
//
// Evaluation and fetch failures land in the key's error field rather
// than returning an error: a broken descriptor must not abort the
// rest of an Apply, and state machines need the failure in context.
func (s *Store) resolve(key string, b *binding) error {
	if b.subErr != nil {
		s.fail(key, b.subErr)
		return nil
	}

	scope := expr.NewScope(s.context)

	concrete := make(storage.Filter, len(b.desc.Filter))
	hasNull := false
	for fk, fexpr := range b.desc.Filter {
		v, err := s.evaluator().Eval(fexpr, scope)
		if err != nil {
			var mb *expr.MissingBinding
			if errors.As(err, &mb) {
				// An absent context field filters like null.
				v = nil
			} else {
				s.fail(key, err)
				return nil
			}
		}
		if v == nil {
			hasNull = true
		}
		concrete[fk] = v
	}

	js, err := json.Marshal(concrete)
	if err != nil {
		return err
	}
	if !b.dirty && string(js) == b.lastFilter {
		return nil
	}
	b.lastFilter = string(js)
	b.dirty = false

	// A null condition can never match a record.
	if hasNull {
		s.succeed(key, nil)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()

	var result interface{}
	if pk, is := storage.PointLookup(concrete); is {
		v, have, err := s.Source.Get(ctx, b.desc.Source, pk)
		if err != nil {
			s.fail(key, err)
			return nil
		}
		if have {
			result = v
		}
	} else {
		vs, err := s.Source.Query(ctx, b.desc.Source, concrete)
		if err != nil {
			s.fail(key, err)
			return nil
		}
		result = vs
	}

	if b.desc.Map != nil && result != nil {
		result, err = s.project(b.desc.Map, result)
		if err != nil {
			s.fail(key, err)
			return nil
		}
	}

	s.succeed(key, result)
	s.logf("resolved %s from %s", key, b.desc.Source)
	return nil
}

// project reshapes a result (single object or slice) through the
// descriptor's map expressions, with each item bound in scope.
func (s *Store) project(shape map[string]interface{}, result interface{}) (interface{}, error) {
	one := func(item interface{}) (interface{}, error) {
		scope := expr.NewScope(s.context).With(expr.ScopeItem, item)
		acc := make(map[string]interface{}, len(shape))
		for k, e := range shape {
			v, err := s.evaluator().Eval(e, scope)
			if err != nil {
				return nil, err
			}
			acc[k] = v
		}
		return acc, nil
	}

	if items, is := result.([]interface{}); is {
		acc := make([]interface{}, 0, len(items))
		for _, item := range items {
			v, err := one(item)
			if err != nil {
				return nil, err
			}
			acc = append(acc, v)
		}
		return acc, nil
	}
	return one(result)
}

func (s *Store) succeed(key string, result interface{}) {
	s.context[key] = result
	delete(s.context, key+ErrorSuffix)
}

func (s *Store) fail(key string, err error) {
	delete(s.context, key)
	s.context[key+ErrorSuffix] = err.Error()
	s.logf("descriptor %s failed: %v", key, err)
}

func (s *Store) valueAt(path string) interface{} {
	v, err := expr.FollowPath(s.context, path, expr.ScopeContext)
	if err != nil {
		return nil
	}
	return v
}

// notifyLocked captures the subscriber set and a snapshot under the
// lock and returns the fan-out to run after release.
func (s *Store) notifyLocked() func() {
	if len(s.subs) == 0 {
		return func() {}
	}
	snapshot := make(map[string]interface{}, len(s.context))
	for k, v := range s.context {
		snapshot[k] = v
	}
	fs := make([]func(map[string]interface{}), 0, len(s.subs))
	for _, f := range s.subs {
		fs = append(fs, f)
	}
	return func() {
		for _, f := range fs {
			f(snapshot)
		}
	}
}
