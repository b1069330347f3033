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

package runtime

import (
	"context"
	"sync"
)

// Call is one custom action invocation: the acting actor and the
// already-evaluated arguments.
type Call struct {
	Actor *Actor
	Args  map[string]interface{}
}

// ActionFunc implements a named custom action.
type ActionFunc func(ctx context.Context, call *Call) error

// Registry holds actor definitions and custom action handlers.  It
// is passed into NewRuntime explicitly; there is no ambient global
// registry, so a registry's lifetime is its runtime's lifetime.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*ActorDef
	actions map[string]ActionFunc
}

func NewRegistry() *Registry {
	return &Registry{
		defs:    make(map[string]*ActorDef, 8),
		actions: make(map[string]ActionFunc, 8),
	}
}

// AddDef validates and registers an actor definition.
func (r *Registry) AddDef(def *ActorDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.defs[def.Name] = def
	r.mu.Unlock()
	return nil
}

// Def looks up a definition by name.
func (r *Registry) Def(name string) (*ActorDef, bool) {
	r.mu.RLock()
	def, have := r.defs[name]
	r.mu.RUnlock()
	return def, have
}

// AddAction registers a custom action handler.
func (r *Registry) AddAction(name string, f ActionFunc) {
	r.mu.Lock()
	r.actions[name] = f
	r.mu.Unlock()
}

func (r *Registry) action(name string) (ActionFunc, bool) {
	r.mu.RLock()
	f, have := r.actions[name]
	r.mu.RUnlock()
	return f, have
}
