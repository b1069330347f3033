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
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/loomworks/loom/expr"
	"github.com/loomworks/loom/machine"
	"github.com/loomworks/loom/mailbox"
	"github.com/loomworks/loom/query"
	"github.com/loomworks/loom/storage"
)

// Diagnostic reports a dropped message or a failed action.  Nothing
// in the runtime ever applies an invalid payload silently; it lands
// here instead.
type Diagnostic struct {
	Actor string
	Entry *mailbox.Entry
	Err   error
}

// Runtime is an arena of actors over a shared external store and a
// shared message log.
//
// Actors are keyed by id; parents hold name→id indices into the
// arena, never direct child references, so destruction is a map
// mutation rather than a graph traversal.
type Runtime struct {
	Registry *Registry

	// Store is the shared external data store.  Query fetches go
	// through a retrier; persistent failures surface in actor
	// context.
	Store storage.Store

	// Log is the shared message log.
	Log mailbox.Log

	// Diagnostics, if not nil, hears about dropped messages and
	// failed actions.  Sends never block; an unread diagnostic
	// is discarded.
	Diagnostics chan Diagnostic

	Debug bool

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRuntime makes a Runtime.  The registry, store, and log are
// explicit; the runtime has no ambient state.
func NewRuntime(reg *Registry, store storage.Store, mlog mailbox.Log) *Runtime {
	return &Runtime{
		Registry: reg,
		Store:    store,
		Log:      mlog,
		actors:   make(map[string]*Actor, 16),
	}
}

func (r *Runtime) logf(format string, args ...interface{}) {
	if r.Debug {
		log.Printf("runtime "+format, args...)
	}
}

func (r *Runtime) diagnose(actorId string, e *mailbox.Entry, err error) {
	r.logf("diagnostic for %s: %v", actorId, err)
	if r.Diagnostics == nil {
		return
	}
	select {
	case r.Diagnostics <- Diagnostic{Actor: actorId, Entry: e, Err: err}:
	default:
	}
}

// CreateActor materializes an actor from a registered definition.
func (r *Runtime) CreateActor(ctx context.Context, defName, parentId string) (*Actor, error) {
	return r.create(ctx, defName, parentId, "", nil, "", 0)
}

// create is the shared construction path for fresh and restored
// actors.  A restored actor carries its saved id, context, state,
// and watermark.
func (r *Runtime) create(ctx context.Context, defName, parentId, id string, saved map[string]interface{}, current string, watermark uint64) (*Actor, error) {
	def, have := r.Registry.Def(defName)
	if !have {
		return nil, &UnknownDef{Name: defName}
	}
	if id == "" {
		id = def.Name + "-" + uuid.New().String()
	}

	initial := copyDoc(def.Context)
	for k, v := range saved {
		if _, isDesc := query.AsDescriptor(def.Context[k]); isDesc {
			// The definition's descriptor wins over its
			// saved (stale) result.
			continue
		}
		initial[k] = v
	}

	a := &Actor{
		Id:       id,
		Def:      def,
		rt:       r,
		parent:   parentId,
		slots:    make(map[string]string, len(def.Slots)),
		slotRefs: make(map[string]string, len(def.Slots)),
	}

	m, err := machine.New(def.Machine)
	if err != nil {
		return nil, err
	}
	if current != "" {
		m.Current = current
	}
	a.Machine = m

	qs, err := query.NewStore(storage.WithRetry(r.Store), nil)
	if err != nil {
		return nil, err
	}
	qs.Defer = a.exec
	qs.Debug = r.Debug
	a.Queries = qs

	a.Inbox = &mailbox.Inbox{
		Target:  id,
		Accept:  def.Accept,
		Schemas: def.compiled,
		Log:     r.Log,
		Deliver: a.deliver,
		Drop:    a.dropped,
	}
	a.Inbox.SetWatermark(watermark)

	// Slot maintenance rides the same notification as rendering,
	// so teardown is synchronous with the repointing mutation.
	if _, err := qs.Watch(a.syncSlots); err != nil {
		return nil, err
	}

	// The initial context resolves before the actor is reachable.
	if err := qs.Apply(initial); err != nil {
		return nil, err
	}

	unsub, err := r.Log.Subscribe(id, func(e *mailbox.Entry) {
		a.exec(func() {
			if err := a.Inbox.Handle(context.Background(), e); err != nil {
				r.diagnose(id, e, err)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	a.unsubLog = unsub

	r.mu.Lock()
	r.actors[id] = a
	r.mu.Unlock()
	r.logf("created actor %s (%s)", id, defName)

	// Catch up on anything logged before the subscription (or
	// past a restored watermark).
	a.exec(func() {
		if err := a.Inbox.CatchUp(ctx); err != nil {
			r.diagnose(id, nil, err)
		}
	})

	return a, nil
}

// Actor looks up a live actor by id.
func (r *Runtime) Actor(id string) (*Actor, bool) {
	r.mu.Lock()
	a, have := r.actors[id]
	r.mu.Unlock()
	return a, have
}

// DestroyActor removes an actor and its materialized children from
// the arena and releases their subscriptions.
func (r *Runtime) DestroyActor(id string) {
	r.mu.Lock()
	a, have := r.actors[id]
	if have {
		delete(r.actors, id)
	}
	r.mu.Unlock()
	if !have {
		return
	}

	a.mu.Lock()
	children := make([]string, 0, len(a.slots))
	for _, childId := range a.slots {
		children = append(children, childId)
	}
	a.mu.Unlock()
	for _, childId := range children {
		r.DestroyActor(childId)
	}

	a.close()
	r.logf("destroyed actor %s", id)
}

// ResolveChild returns the actor occupying a slot, materializing it
// on first call from the slot's declared reference.
//
// A repoint clears the index (see Actor.syncSlots), so the next call
// here materializes the new reference.  For a Service parent the old
// child stays alive in the arena; for a UI parent it is already torn
// down by then.
func (r *Runtime) ResolveChild(ctx context.Context, parentId, slot string) (*Actor, error) {
	p, have := r.Actor(parentId)
	if !have {
		return nil, &UnknownActor{Id: parentId}
	}
	field, have := p.Def.Slots[slot]
	if !have {
		return nil, &UnknownSlot{Actor: parentId, Slot: slot}
	}
	ref, _ := p.Queries.Snapshot()[field].(string)
	if ref == "" {
		return nil, &EmptySlot{Actor: parentId, Slot: slot}
	}

	p.mu.Lock()
	childId, have := p.slots[slot]
	matches := have && p.slotRefs[slot] == ref
	p.mu.Unlock()
	if matches {
		if child, live := r.Actor(childId); live {
			return child, nil
		}
	}

	child, err := r.CreateActor(ctx, ref, parentId)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.slots[slot] = child.Id
	p.slotRefs[slot] = ref
	p.mu.Unlock()
	return child, nil
}

// Send appends a message to the target's log, returning after the
// write is durable.  Payloads must be concrete: anything still
// containing expression syntax is rejected at this boundary.
func (r *Runtime) Send(ctx context.Context, source, target, typ string, payload interface{}) (uint64, error) {
	if expr.IsExpression(payload) {
		return 0, &PayloadNotConcrete{Type: typ}
	}
	e := &mailbox.Entry{
		Type:    typ,
		Payload: payload,
		Source:  source,
		Target:  target,
	}
	return r.Log.Append(ctx, e)
}

// Watch subscribes to an actor's context.  This is the rendering
// boundary: the callback gets a snapshot after every change batch.
func (r *Runtime) Watch(actorId string, f func(map[string]interface{})) (func(), error) {
	a, have := r.Actor(actorId)
	if !have {
		return nil, &UnknownActor{Id: actorId}
	}
	return a.Queries.Watch(f)
}

// Shutdown destroys every actor.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.actors))
	for id := range r.actors {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.DestroyActor(id)
	}
}

// copyDoc deep-copies a context document so actors never share
// mutable structure with their definitions.
func copyDoc(doc map[string]interface{}) map[string]interface{} {
	acc := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		acc[k] = copyValue(v)
	}
	return acc
}

func copyValue(x interface{}) interface{} {
	switch vv := x.(type) {
	case map[string]interface{}:
		return copyDoc(vv)
	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, v := range vv {
			acc[i] = copyValue(v)
		}
		return acc
	default:
		return x
	}
}
