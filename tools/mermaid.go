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
	"fmt"
	"io"
	"sort"

	"github.com/Comcast/corral/core"
)

type MermaidOpts struct {
	// ShowPaths labels edges with message paths.
	ShowPaths bool `json:"showPaths"`

	// RequestFill is the fill color for request-response
	// operations.
	RequestFill string `json:"requestFill,omitempty"`
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) input file
// showing how operations reach session state through correlation
// sets.
func Mermaid(def *core.Definition, w io.Writer, opts *MermaidOpts) error {
	if opts == nil {
		opts = &MermaidOpts{
			ShowPaths:   true,
			RequestFill: "#bcf2db",
		}
	}

	fmt.Fprintf(w, "graph LR\n")

	nids := make(map[string]string)
	num := 0
	node := func(key, label, open, close string) string {
		if nid, already := nids[key]; already {
			return nid
		}
		num++
		nid := fmt.Sprintf("n%d", num)
		nids[key] = nid
		fmt.Fprintf(w, "  %s%s\"%s\"%s\n", nid, open, label, close)
		return nid
	}

	ops := make([]string, 0, len(def.Operations))
	for name := range def.Operations {
		ops = append(ops, name)
	}
	sort.Strings(ops)

	for _, name := range ops {
		nid := node("op:"+name, name, "[", "]")
		if def.IsRequestResponse(name) && opts.RequestFill != "" {
			fmt.Fprintf(w, "  style %s fill:%s\n", nid, opts.RequestFill)
		}
	}

	for _, cset := range def.CorrelationSets {
		cid := node("set:"+cset.Name, cset.Name, "((", "))")
		for _, name := range ops {
			pairs, have := cset.Pairs(name)
			if !have {
				continue
			}
			oid := nids["op:"+name]
			for _, p := range pairs {
				if opts.ShowPaths {
					fmt.Fprintf(w, "  %s -->|\"%s\"| %s\n", oid, p.Message, cid)
				} else {
					fmt.Fprintf(w, "  %s --> %s\n", oid, cid)
				}
			}
		}
		for _, sp := range cset.SessionPaths() {
			pid := node("path:"+sp.String(), sp.String(), "(", ")")
			fmt.Fprintf(w, "  %s --> %s\n", cid, pid)
		}
	}

	return nil
}
