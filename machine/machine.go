package machine

import (
	"context"

	"github.com/loomworks/loom/expr"
)

// ContextDoc is the machine's view of its actor's context.
//
// Apply merges a set of already-evaluated key/value pairs into the
// document all-or-nothing: no error may leave a partial merge behind.
// The query store implements this interface; the machine never holds
// the document itself.
type ContextDoc interface {
	Snapshot() map[string]interface{}
	Apply(changes map[string]interface{}) error
}

// Handlers resolves named custom actions.  The actor runtime
// registers its handlers at construction; there is no ambient global
// registry.
type Handlers interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) error
}

// Reasons an event can be ignored.
const (
	IgnoredUnhandled = "unhandled" // current state declares no transition for the event
	IgnoredGuard     = "guard"     // guard was falsy or failed to evaluate
)

// Step reports what one Send did.
type Step struct {
	Event   string        `json:"event"`
	From    string        `json:"from"`
	To      string        `json:"to,omitempty"`
	Ignored string        `json:"ignored,omitempty"`
	Traces  []interface{} `json:"traces,omitempty"`
}

func (s *Step) trace(x interface{}) {
	s.Traces = append(s.Traces, x)
}

// Machine is a Definition plus the name of the current state.
//
// A Machine is not safe for concurrent use.  The actor runtime
// serializes events per actor, which is what gives transitions their
// determinism: a second event must wait until the current
// exit→actions→entry sequence completes.
type Machine struct {
	Def     *Definition `json:"-"`
	Current string      `json:"current"`

	// Evaluator evaluates guards and action expressions.  Nil
	// means expr.DefaultEvaluator.
	Evaluator *expr.Evaluator `json:"-"`
}

// New validates the definition and returns a machine at its initial
// state.
func New(def *Definition) (*Machine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		Def:     def,
		Current: def.Initial,
	}, nil
}

func (m *Machine) ev() *expr.Evaluator {
	if m.Evaluator != nil {
		return m.Evaluator
	}
	return expr.DefaultEvaluator
}

// Send presents one event to the machine.
//
// The algorithm: look up the current state's transition for the
// event (absent means no-op); evaluate the guard against
// {context, event} (falsy or failing means stay put, never an error
// to the caller); then run the current state's exit actions, the
// transition's actions, move to the target, and run the target's
// entry actions, in that fixed order.
//
// A failing exit or transition action aborts the move: the machine
// stays in its source state and the error is returned.  A failing
// entry action leaves the machine in the target state (the move
// already happened) with the remaining entry actions skipped.
func (m *Machine) Send(ctx context.Context, doc ContextDoc, event string, payload interface{}, handlers Handlers) (*Step, error) {
	step := &Step{
		Event: event,
		From:  m.Current,
	}

	node, have := m.Def.States[m.Current]
	if !have {
		// Validate prevents this unless someone scribbled on
		// Current.
		return step, &DanglingTarget{Def: m.Def.Name, State: m.Current, Event: event, Target: m.Current}
	}

	tr, have := node.On[event]
	if !have {
		step.Ignored = IgnoredUnhandled
		return step, nil
	}

	if tr.Guard != nil {
		v, err := m.ev().Eval(tr.Guard, m.scope(doc, payload))
		if err != nil {
			// A guard error downgrades to "guard fails".
			step.trace(map[string]interface{}{
				"guardError": err.Error(),
			})
			step.Ignored = IgnoredGuard
			return step, nil
		}
		if !expr.Truthy(v) {
			step.Ignored = IgnoredGuard
			return step, nil
		}
	}

	// Guard passed: the transition now runs to completion or fails
	// explicitly.  There is no mid-transition cancellation.

	if err := m.run(ctx, doc, event, payload, node.Exit, handlers, step); err != nil {
		return step, err
	}
	if err := m.run(ctx, doc, event, payload, tr.Actions, handlers, step); err != nil {
		return step, err
	}

	m.Current = tr.Target
	step.To = tr.Target

	target := m.Def.States[tr.Target]
	if err := m.run(ctx, doc, event, payload, target.Entry, handlers, step); err != nil {
		return step, err
	}

	return step, nil
}

func (m *Machine) scope(doc ContextDoc, payload interface{}) expr.Scope {
	return expr.Scope{
		expr.ScopeContext: doc.Snapshot(),
		expr.ScopeEvent:   payload,
	}
}

// run executes an action list.  The first failure aborts the
// remainder of the list.
func (m *Machine) run(ctx context.Context, doc ContextDoc, event string, payload interface{}, as []*Action, handlers Handlers, step *Step) error {
	for _, a := range as {
		if err := m.exec(ctx, doc, event, payload, a, handlers, step); err != nil {
			return &ActionFailed{State: m.Current, Event: event, Err: err}
		}
	}
	return nil
}

func (m *Machine) exec(ctx context.Context, doc ContextDoc, event string, payload interface{}, a *Action, handlers Handlers, step *Step) error {
	// Each action sees the context as left by the previous one.
	scope := m.scope(doc, payload)

	if a.Update != nil {
		// Evaluate every value before applying any, so a
		// failing expression can't leave a partial merge.
		changes := make(map[string]interface{}, len(a.Update))
		for k, src := range a.Update {
			v, err := m.ev().Eval(src, scope)
			if err != nil {
				return err
			}
			changes[k] = v
		}
		step.trace(map[string]interface{}{
			"updateContext": changes,
		})
		return doc.Apply(changes)
	}

	if handlers == nil {
		return &NoHandler{Name: a.Name}
	}
	args := make(map[string]interface{}, len(a.Args))
	for k, src := range a.Args {
		v, err := m.ev().Eval(src, scope)
		if err != nil {
			return err
		}
		args[k] = v
	}
	step.trace(map[string]interface{}{
		"action": a.Name,
		"args":   args,
	})
	return handlers.Execute(ctx, a.Name, args)
}
