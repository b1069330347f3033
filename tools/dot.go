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

// Package tools renders machine definitions as Graphviz, Mermaid,
// and HTML documents.
package tools

// dot -Tpng g.dot > g.png

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/loomworks/loom/machine"
)

// Dot makes a Graphviz dot file for the given definition.
//
// The optional current is the name of the machine's current state,
// which gets a heavier outline.
func Dot(def *machine.Definition, w io.Writer, current string) error {
	fmt.Fprintf(w, "digraph G {\n")
	fmt.Fprintf(w, `  graph [ordering=out,rankdir=TB,nodesep=0.3,ranksep=0.6]
  node [shape="record" style="rounded,filled"]
  edge [fontsize = "12"]
`)

	for _, name := range stateNames(def) {
		n := def.States[name]
		label := name
		if n.Doc != "" {
			label += "<BR/><FONT POINT-SIZE='8'>" + firstSentence(n.Doc) + "</FONT>"
		}
		fillcolor := "#99ddc8"
		if name == def.Initial {
			fillcolor = "#2d93ad"
		}
		penwidth := "1"
		if name == current {
			penwidth = "3"
		}
		fmt.Fprintf(w, "  \"%s\" [label=<%s>,fillcolor=\"%s\",penwidth=%s]\n",
			name, label, fillcolor, penwidth)
	}

	for _, name := range stateNames(def) {
		n := def.States[name]
		events := make([]string, 0, len(n.On))
		for event := range n.On {
			events = append(events, event)
		}
		sort.Strings(events)
		for _, event := range events {
			tr := n.On[event]
			label := event
			if tr.Guard != nil {
				label += " ?"
			}
			fmt.Fprintf(w, "  \"%s\" -> \"%s\" [label=\"%s\"]\n", name, tr.Target, label)
		}
	}

	fmt.Fprintf(w, "}\n")
	return nil
}

// stateNames gives deterministic output order: initial first, then
// the rest sorted.
func stateNames(def *machine.Definition) []string {
	names := make([]string, 0, len(def.States))
	for name := range def.States {
		if name != def.Initial {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{def.Initial}, names...)
}

func firstSentence(doc string) string {
	if len(doc) <= 40 {
		return doc
	}
	if period := strings.Index(doc, ". "); 0 < period {
		return doc[0 : period+1]
	}
	return doc
}
