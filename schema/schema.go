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

// Package schema validates message payloads against declared
// per-type schemas.
//
// The mailbox protocol consults a Validator before routing a message
// into a state machine, and the query store can use one when
// persisting mapped results.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Validator reports payload validation problems.  An empty result
// means the payload is acceptable.
type Validator interface {
	Validate(typeName string, payload interface{}) []error
}

// Any accepts every payload.
type Any struct{}

func (Any) Validate(typeName string, payload interface{}) []error {
	return nil
}

// Schemas is a Validator over JSON-schema documents compiled at
// definition load time.
//
// A message type with no declared schema passes validation; the
// allow-list, not the schema table, decides which types an actor
// accepts at all.
type Schemas struct {
	compiled map[string]*openapi3.Schema
}

// Compile builds a Schemas from raw schema documents keyed by message
// type.  A malformed schema is a load-time error (it must prevent
// actor creation, so it is returned here rather than surfacing per
// message).
func Compile(raw map[string]interface{}) (*Schemas, error) {
	acc := make(map[string]*openapi3.Schema, len(raw))
	for name, doc := range raw {
		js, err := json.Marshal(&doc)
		if err != nil {
			return nil, fmt.Errorf("schema for %q: %w", name, err)
		}
		var s openapi3.Schema
		if err := s.UnmarshalJSON(js); err != nil {
			return nil, fmt.Errorf("schema for %q: %w", name, err)
		}
		if err := s.Validate(context.Background()); err != nil {
			return nil, fmt.Errorf("schema for %q: %w", name, err)
		}
		acc[name] = &s
	}
	return &Schemas{compiled: acc}, nil
}

// Validate checks a payload against the schema declared for its
// type, if any.
func (s *Schemas) Validate(typeName string, payload interface{}) []error {
	sch, have := s.compiled[typeName]
	if !have {
		return nil
	}
	err := sch.VisitJSON(payload, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	if me, is := err.(openapi3.MultiError); is {
		return []error(me)
	}
	return []error{err}
}
