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
	. "github.com/loomworks/loom/util/testutil"

	md "github.com/russross/blackfriday/v2"
)

// RenderDefHTML writes an HTML fragment documenting a definition.
// Doc strings are Markdown.
func RenderDefHTML(def *machine.Definition, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f(`<div class="defDoc doc">%s</div>`, md.Run([]byte(def.Doc)))

	f(`<div class="states"><table>`)
	for _, name := range stateNames(def) {
		n := def.States[name]
		f(`<tr class="state"><td><span id="%s" class="stateName">%s</span></td><td>`, name, name)

		if n.Doc != "" {
			f(`<div class="stateDoc doc">%s</div>`, md.Run([]byte(n.Doc)))
		}
		if 0 < len(n.On) {
			f(`<div class="transitions">`)
			f(`<table>`)
			for event, tr := range n.On {
				f(`<tr><td><div class="eventName">%s</div></td><td>`, event)
				f(`<table>`)
				if tr.Guard != nil {
					f(`<tr><td></td><td>guard</td>`)
					f(`<td><code>%s</code></td></tr>`, JS(tr.Guard))
				}
				if tr.Target != "" {
					f(`<tr><td></td><td>target</td>`)
					f(`<td><a href="#%s"><code>%s</code></a></td></tr>`, tr.Target, tr.Target)
				}
				for _, a := range tr.Actions {
					if a.Update != nil {
						f(`<tr><td></td><td>updateContext</td>`)
						f(`<td><code>%s</code></td></tr>`, JS(a.Update))
					} else {
						f(`<tr><td></td><td>action</td>`)
						f(`<td><code>%s %s</code></td></tr>`, a.Name, JS(a.Args))
					}
				}
				f(`</table>`)
				f(`</td></tr>`)
			}
			f(`</table>`)
			f(`</div>`)
		}
		f(`</td></tr>`)
	}
	f(`</table></div>`)

	return nil
}

// RenderDefPage writes a complete HTML page for a definition,
// including its JSON representation.
func RenderDefPage(def *machine.Definition, out io.Writer, cssFiles []string) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/def-html.css"}
	}

	js, err := json.Marshal(def)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
    <title>%s</title>
`, def.Name)
	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, `    <link rel="stylesheet" href="%s">
`, cssFile)
	}
	fmt.Fprintf(out, `  </head>
  <body>
    <h1>%s</h1>
`, def.Name)

	if err := RenderDefHTML(def, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `    <div class="defJSON"><pre>%s</pre></div>
  </body>
</html>
`, js)

	return nil
}
