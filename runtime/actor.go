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
	"errors"
	"sync"

	"github.com/loomworks/loom/machine"
	"github.com/loomworks/loom/mailbox"
	"github.com/loomworks/loom/query"
)

// ErrorEvent is the event synthesized when an action fails
// mid-transition.  A machine that declares a transition for it can
// reach a user-visible error state; one that doesn't ignores it.
const ErrorEvent = "error"

// Actor is one live actor: a query store wrapping its context, a
// state machine, and an inbox over its slice of the message log.
type Actor struct {
	Id  string
	Def *ActorDef

	Machine *machine.Machine
	Queries *query.Store
	Inbox   *mailbox.Inbox

	rt     *Runtime
	parent string

	unsubLog func()

	// The scheduler: whoever enqueues first drains the whole
	// queue, so nested work (a self-send from an action, a
	// deferred query re-resolution) runs after the current step
	// instead of deadlocking inside it.  This run-to-completion
	// drain is what makes per-actor processing strictly
	// sequential.
	mu       sync.Mutex
	pending  []func()
	draining bool
	closed   bool

	// Materialized children: slot name to arena id, plus the
	// reference that materialized each one (to detect repoints).
	slots    map[string]string
	slotRefs map[string]string
}

// exec schedules f on the actor's logical thread.  If the actor is
// idle, f (and anything it enqueues) runs before exec returns.
func (a *Actor) exec(f func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.pending = append(a.pending, f)
	if a.draining {
		a.mu.Unlock()
		return
	}
	a.draining = true
	for {
		if len(a.pending) == 0 {
			a.draining = false
			a.mu.Unlock()
			return
		}
		next := a.pending[0]
		a.pending = a.pending[1:]
		a.mu.Unlock()
		next()
		a.mu.Lock()
	}
}

func (a *Actor) close() {
	a.mu.Lock()
	a.closed = true
	a.pending = nil
	a.mu.Unlock()
	if a.unsubLog != nil {
		a.unsubLog()
	}
	a.Queries.Close()
}

// deliver is the inbox's hand-off into the state machine.  It runs
// on the actor's logical thread.
func (a *Actor) deliver(ctx context.Context, e *mailbox.Entry) error {
	step, err := a.Machine.Send(ctx, a.Queries, e.Type, e.Payload, &handlers{a: a})
	if err != nil {
		a.rt.diagnose(a.Id, e, err)
		var af *machine.ActionFailed
		if errors.As(err, &af) && e.Type != ErrorEvent {
			payload := map[string]interface{}{
				"event":   e.Type,
				"state":   af.State,
				"message": af.Err.Error(),
			}
			if _, err := a.Machine.Send(ctx, a.Queries, ErrorEvent, payload, &handlers{a: a}); err != nil {
				a.rt.diagnose(a.Id, e, err)
			}
		}
		return nil
	}
	a.rt.logf("actor %s %s: %s -> %s", a.Id, e.Type, step.From, step.To)
	return nil
}

func (a *Actor) dropped(e *mailbox.Entry, reason error) {
	a.rt.diagnose(a.Id, e, reason)
}

// syncSlots runs after every context change.  When a slot's
// reference field no longer matches the reference that materialized
// its child, the index entry is cleared; if this actor is a UI
// actor, the old child is torn down synchronously, so its log
// subscription is gone before any new child's begins.
func (a *Actor) syncSlots(snapshot map[string]interface{}) {
	if len(a.Def.Slots) == 0 {
		return
	}

	type stale struct {
		slot    string
		childId string
	}
	a.mu.Lock()
	repointed := make([]stale, 0, len(a.Def.Slots))
	for slot, field := range a.Def.Slots {
		childId, have := a.slots[slot]
		if !have {
			continue
		}
		ref, _ := snapshot[field].(string)
		if a.slotRefs[slot] == ref {
			continue
		}
		delete(a.slots, slot)
		delete(a.slotRefs, slot)
		repointed = append(repointed, stale{slot: slot, childId: childId})
	}
	teardown := a.Def.kind() == KindUI
	a.mu.Unlock()

	for _, s := range repointed {
		a.rt.logf("actor %s slot %s repointed away from %s", a.Id, s.slot, s.childId)
		if teardown {
			a.rt.DestroyActor(s.childId)
		}
	}
}

// handlers routes a machine's custom actions: the builtin "send"
// first, then the registry.
type handlers struct {
	a *Actor
}

func (h *handlers) Execute(ctx context.Context, name string, args map[string]interface{}) error {
	if name == "send" {
		return h.send(ctx, args)
	}
	f, have := h.a.rt.Registry.action(name)
	if !have {
		return &machine.NoHandler{Name: name}
	}
	return f(ctx, &Call{Actor: h.a, Args: args})
}

// send forwards a derived value to another actor's mailbox.  "to" is
// one of this actor's slot names (the child is materialized if need
// be) or a plain actor id.
func (h *handlers) send(ctx context.Context, args map[string]interface{}) error {
	to, _ := args["to"].(string)
	typ, _ := args["type"].(string)
	if to == "" || typ == "" {
		return &machine.NoHandler{Name: "send"}
	}
	target := to
	if _, isSlot := h.a.Def.Slots[to]; isSlot {
		child, err := h.a.rt.ResolveChild(ctx, h.a.Id, to)
		if err != nil {
			return err
		}
		target = child.Id
	}
	_, err := h.a.rt.Send(ctx, h.a.Id, target, typ, args["payload"])
	return err
}
