/* Copyright 2019 Comcast Cable Communications Management, LLC
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
	"bytes"
	"fmt"
	"html"
	"io"
	"sort"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/deploy"
	. "github.com/Comcast/corral/util/testutil"

	md "github.com/russross/blackfriday/v2"
)

func RenderDefinitionHTML(def *core.Definition, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f(`<div class="processDoc doc">%s</div>`, md.Run([]byte(def.Doc)))
	f(`<div>mode: <span class="mode">%s</span></div>`, def.Mode)

	{ // Operations
		names := make([]string, 0, len(def.Operations))
		for name := range def.Operations {
			names = append(names, name)
		}
		sort.Strings(names)

		f(`<div class="operations"><table>`)
		for _, name := range names {
			op := def.Operations[name]
			f(`<tr class="operation"><td><span id="op-%s" class="operationName">%s</span></td>`, name, name)
			f(`<td><span class="kind">%s</span></td><td>`, op.Kind)
			if op.Doc != "" {
				f(`<div class="operationDoc doc">%s</div>`, md.Run([]byte(op.Doc)))
			}
			f(`</td></tr>`)
		}
		f(`</table></div>`)
	}

	{ // Correlation sets
		f(`<div class="correlationSets">`)
		for _, cset := range def.CorrelationSets {
			f(`<div class="correlationSet"><h3>%s</h3>`, cset.Name)
			if cset.Doc != "" {
				f(`<div class="correlationSetDoc doc">%s</div>`, md.Run([]byte(cset.Doc)))
			}
			ops := make([]string, 0, len(cset.Operations))
			for op := range cset.Operations {
				ops = append(ops, op)
			}
			sort.Strings(ops)

			f(`<table>`)
			for _, op := range ops {
				for _, p := range cset.Operations[op] {
					f(`<tr><td><a href="#op-%s"><code>%s</code></a></td><td><code>%s</code></td><td><code>%s</code></td></tr>`,
						op, op, p.Message, p.Session)
				}
			}
			f(`</table></div>`)
		}
		f(`</div>`)
	}

	if def.Init != nil {
		f(`<div class="init"><pre>%s</pre></div>`, html.EscapeString(JS(def.Init)))
	}

	a, err := Analyze(def)
	if err != nil {
		return err
	}
	if 0 < len(a.Warnings) {
		f(`<div class="warnings"><ul>`)
		for _, w := range a.Warnings {
			f(`<li>%s</li>`, html.EscapeString(w))
		}
		f(`</ul></div>`)
	}

	return nil
}

func RenderDefinitionPage(def *core.Definition, out io.Writer, cssFiles []string, includeGraph bool) error {

	if cssFiles == nil {
		cssFiles = []string{"/static/definition-html.css"}
	}

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, def.Name)

	if includeGraph {
		fmt.Fprintf(out, `  <script src="https://cdn.jsdelivr.net/npm/mermaid/dist/mermaid.min.js"></script>
  <script>mermaid.initialize({startOnLoad:true});</script>
`)
	}

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `  </head>
  <body>
    <h1>%s</h1>
`, def.Name)

	if includeGraph {
		var g bytes.Buffer
		if err := Mermaid(def, &g, nil); err != nil {
			return err
		}
		fmt.Fprintf(out, "<div class=\"mermaid\">\n%s</div>\n", g.String())
	}

	if err := RenderDefinitionHTML(def, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)

	return nil
}

func ReadAndRenderDefinitionPage(filename string, cssFiles []string, out io.Writer, includeGraph bool) error {
	doc, err := deploy.Load(filename)
	if err != nil {
		return err
	}
	def, err := doc.Definition()
	if err != nil {
		return err
	}
	return RenderDefinitionPage(def, out, cssFiles, includeGraph)
}
