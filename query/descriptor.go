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

// Package query implements the reactive query store: a context
// document whose descriptor-valued entries are resolved against an
// external store and kept current as the context fields their
// filters read change.
package query

// Descriptor declares a query embedded in context.
//
// Filter values are expressions evaluated against the current
// context; since they may read other context fields, a descriptor's
// result can change without the descriptor itself changing.  Map, if
// present, reshapes each result item (evaluated with the item bound
// in scope).
type Descriptor struct {
	Source string
	Filter map[string]interface{}
	Map    map[string]interface{}
}

// AsDescriptor reports whether a context value is descriptor-shaped:
// a map with a "source" string and no keys beyond "source", "filter",
// and "map".  Anything else is a plain value, even if it happens to
// contain a "source" field alongside other data.
func AsDescriptor(x interface{}) (*Descriptor, bool) {
	m, is := x.(map[string]interface{})
	if !is {
		return nil, false
	}
	src, is := m["source"].(string)
	if !is || src == "" {
		return nil, false
	}
	for k := range m {
		switch k {
		case "source", "filter", "map":
		default:
			return nil, false
		}
	}
	d := &Descriptor{Source: src}
	if f, have := m["filter"]; have {
		fm, is := f.(map[string]interface{})
		if !is {
			return nil, false
		}
		d.Filter = fm
	}
	if p, have := m["map"]; have {
		pm, is := p.(map[string]interface{})
		if !is {
			return nil, false
		}
		d.Map = pm
	}
	return d, true
}
