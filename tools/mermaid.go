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

package tools

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/loomworks/loom/machine"
)

type MermaidOpts struct {
	// ShowGuards will result in an edge label that includes the
	// JSON representation of the transition's guard (if any).
	ShowGuards bool `json:"showGuards"`

	// InitialFill is the fill color for the initial state.
	InitialFill string `json:"initialFill,omitempty"`
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) input file
// for the given definition.
func Mermaid(def *machine.Definition, w io.Writer, opts *MermaidOpts) error {
	if opts == nil {
		opts = &MermaidOpts{
			ShowGuards:  true,
			InitialFill: "#bcf2db",
		}
	}

	fmt.Fprintf(w, "graph TB\n")

	nids := make(map[string]string)
	num := 0
	node := func(name string) string {
		if nid, already := nids[name]; already {
			return nid
		}
		num++
		nid := fmt.Sprintf("n%d", num)
		nids[name] = nid
		fmt.Fprintf(w, "  %s[\"%s\"]\n", nid, name)
		return nid
	}

	for _, name := range stateNames(def) {
		n := def.States[name]
		from := node(name)
		for event, tr := range n.On {
			label := event
			if opts.ShowGuards && tr.Guard != nil {
				js, err := json.Marshal(tr.Guard)
				if err != nil {
					return err
				}
				label += " " + string(js)
			}
			fmt.Fprintf(w, "  %s-->|\"%s\"|%s\n", from, label, node(tr.Target))
		}
	}

	if opts.InitialFill != "" {
		fmt.Fprintf(w, "  style %s fill:%s\n", nids[def.Initial], opts.InitialFill)
	}

	return nil
}
