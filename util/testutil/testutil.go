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

// Package testutil has small helpers for tests that traffic in JSON
// documents.
package testutil

import (
	"encoding/json"
	"fmt"
)

// JS gives the compact JSON for x, so a t.Fatal always has something
// printable.  A value that won't marshal comes back in Go syntax
// instead.
func JS(x interface{}) string {
	bs, err := json.Marshal(x)
	if err != nil {
		return fmt.Sprintf("%#v", x)
	}
	return string(bs)
}

// Dwimjs parses a string (or byte slice) as JSON, panicking on bad
// input, which keeps inline documents in tests honest.  Any other
// value passes through unchanged.
func Dwimjs(x interface{}) interface{} {
	var bs []byte
	switch vv := x.(type) {
	case string:
		bs = []byte(vv)
	case []byte:
		bs = vv
	default:
		return x
	}
	var v interface{}
	if err := json.Unmarshal(bs, &v); err != nil {
		panic(err)
	}
	return v
}
