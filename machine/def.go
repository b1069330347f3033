// Package machine implements the hierarchical state machine engine.
//
// A Definition gives the structure of a machine: named states, an
// initial state, and event-keyed transitions with optional guards and
// actions.  This data does not include any runtime state (the name of
// the current state lives in a Machine).  Definitions load from plain
// JSON or YAML documents and are validated before use: an unresolved
// state reference is a load-time error, not a runtime one.
package machine

import (
	"encoding/json"

	"github.com/jsccast/yaml"
)

// Definition is the structure of a machine.
type Definition struct {
	// Name is the generic name for this machine.  Something like
	// "todo-editor".
	Name string `json:"name,omitempty" yaml:",omitempty"`

	// Doc is general documentation about how this machine works.
	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// Initial is the name of the state a new machine starts in.
	Initial string `json:"initial" yaml:"initial"`

	// States is the structure of the machine.
	States map[string]*StateNode `json:"states" yaml:"states"`
}

// StateNode is one state: its transitions and its entry/exit actions.
type StateNode struct {
	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// On maps event names to transitions.  An event with no entry
	// here is ignored by this state (a documented no-op).
	On map[string]*Transition `json:"on,omitempty" yaml:",omitempty"`

	// Entry actions run after the machine moves into this state.
	Entry []*Action `json:"entry,omitempty" yaml:",omitempty"`

	// Exit actions run before the machine leaves this state.
	Exit []*Action `json:"exit,omitempty" yaml:",omitempty"`
}

// Transition is a possible move to a next state.
type Transition struct {
	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// Target is the name of the next state.
	Target string `json:"target" yaml:"target"`

	// Guard is an optional expression evaluated against
	// {context, event}.  A falsy (or failing) guard means the
	// event is ignored and the machine stays put.
	Guard interface{} `json:"guard,omitempty" yaml:",omitempty"`

	// Actions run between the source state's exit actions and the
	// target state's entry actions.
	Actions []*Action `json:"actions,omitempty" yaml:",omitempty"`
}

// Action is either an updateContext merge or a named custom action.
// Exactly one of Update and Name must be set.
type Action struct {
	// Update maps context keys to expressions.  The evaluated
	// pairs are merged into the context atomically; this is the
	// only sanctioned context-mutation path.
	Update map[string]interface{} `json:"updateContext,omitempty" yaml:"updateContext,omitempty"`

	// Name invokes a custom action registered with the runtime.
	Name string `json:"action,omitempty" yaml:"action,omitempty"`

	// Args maps argument names to expressions for a custom
	// action.
	Args map[string]interface{} `json:"args,omitempty" yaml:",omitempty"`
}

// ParseDefinition parses a JSON or YAML definition document.
//
// The parsed definition is validated; see Definition.Validate.
func ParseDefinition(body []byte) (*Definition, error) {
	var def Definition
	var err error
	if 0 < len(body) && body[0] == '{' {
		err = json.Unmarshal(body, &def)
	} else {
		err = yaml.Unmarshal(body, &def)
	}
	if err != nil {
		return nil, err
	}
	if err = def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural soundness: the initial state exists,
// every transition target exists, and every action is well-formed.
//
// Any error returned here is a ConfigurationError: fatal at load
// time, and it must prevent actor creation.
func (def *Definition) Validate() error {
	if def.Initial == "" {
		return &UnknownInitial{Def: def.Name, Initial: ""}
	}
	if _, have := def.States[def.Initial]; !have {
		return &UnknownInitial{Def: def.Name, Initial: def.Initial}
	}
	for name, n := range def.States {
		if n == nil {
			n = &StateNode{}
			def.States[name] = n
		}
		if err := validActions(def.Name, name, n.Entry); err != nil {
			return err
		}
		if err := validActions(def.Name, name, n.Exit); err != nil {
			return err
		}
		for event, tr := range n.On {
			if tr == nil || tr.Target == "" {
				return &DanglingTarget{Def: def.Name, State: name, Event: event, Target: ""}
			}
			if _, have := def.States[tr.Target]; !have {
				return &DanglingTarget{Def: def.Name, State: name, Event: event, Target: tr.Target}
			}
			if err := validActions(def.Name, name, tr.Actions); err != nil {
				return err
			}
		}
	}
	return nil
}

func validActions(def, state string, as []*Action) error {
	for _, a := range as {
		if a == nil {
			return &MalformedAction{Def: def, State: state, Reason: "nil action"}
		}
		hasUpdate := a.Update != nil
		hasName := a.Name != ""
		if hasUpdate == hasName {
			return &MalformedAction{Def: def, State: state,
				Reason: "want exactly one of updateContext and action"}
		}
	}
	return nil
}
