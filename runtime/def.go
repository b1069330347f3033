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

// Package runtime owns actor lifecycle: creation, lazy child
// materialization, destruction, and the send/receive surface.  Each
// actor gets a query store, a state machine, and an inbox, wired
// together so that its event processing is strictly sequential.
package runtime

import (
	"encoding/json"

	"github.com/jsccast/yaml"
	"github.com/loomworks/loom/machine"
	"github.com/loomworks/loom/schema"
)

// Actor kinds.  Service actors live for the whole session; UI actors
// are materialized lazily by slot references and torn down when the
// referencing slot repoints.
const (
	KindService = "service"
	KindUI      = "ui"
)

// ActorDef declares an actor: its machine, initial context, mailbox
// gates, and child slots.
type ActorDef struct {
	// Name identifies this definition in the registry.
	Name string `json:"name" yaml:"name"`

	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// Kind is KindService or KindUI.  Empty means KindUI, the
	// common case for lazily materialized children.
	Kind string `json:"kind,omitempty" yaml:",omitempty"`

	// Machine is the actor's state machine definition.
	Machine *machine.Definition `json:"machine" yaml:"machine"`

	// Context is the initial context document.  Entries may be
	// plain values or query descriptors.
	Context map[string]interface{} `json:"context,omitempty" yaml:",omitempty"`

	// Accept is the mailbox type allow-list.  Nil accepts every
	// type.
	Accept []string `json:"accept,omitempty" yaml:",omitempty"`

	// Schemas maps message types to payload schemas, compiled at
	// registration.
	Schemas map[string]interface{} `json:"schemas,omitempty" yaml:",omitempty"`

	// Slots maps slot names to the context field whose value
	// names the child's definition.  Repointing that field (via
	// updateContext) is the only way to swap the slot's child.
	Slots map[string]string `json:"slots,omitempty" yaml:",omitempty"`

	compiled schema.Validator
}

// ParseActorDef parses a JSON or YAML actor definition.
func ParseActorDef(body []byte) (*ActorDef, error) {
	var def ActorDef
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

// Validate checks the definition and compiles its schemas.  Any
// error here prevents registration (and therefore actor creation).
func (def *ActorDef) Validate() error {
	if def.Name == "" {
		return &BadDef{Reason: "no name"}
	}
	switch def.Kind {
	case "", KindService, KindUI:
	default:
		return &BadDef{Def: def.Name, Reason: `kind must be "service" or "ui"`}
	}
	if def.Machine == nil {
		return &BadDef{Def: def.Name, Reason: "no machine"}
	}
	if err := def.Machine.Validate(); err != nil {
		return err
	}
	for slot, field := range def.Slots {
		if field == "" {
			return &BadDef{Def: def.Name, Reason: `slot "` + slot + `" has no context field`}
		}
	}
	compiled, err := schema.Compile(def.Schemas)
	if err != nil {
		return &BadDef{Def: def.Name, Reason: err.Error()}
	}
	def.compiled = compiled
	return nil
}

func (def *ActorDef) kind() string {
	if def.Kind == "" {
		return KindUI
	}
	return def.Kind
}
