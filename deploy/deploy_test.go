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

package deploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/correlation"
	"github.com/Comcast/corral/value"
)

var ordersYAML = `
name: orders
doc: Order handling.
mode: concurrent
engine: hash
operations:
  - name: place
    kind: requestResponse
    doc: Place an *order*.
  - name: confirm
  - name: ship
correlationSets:
  - name: order
    operations: [place, confirm]
    pairs:
      - session: /orderId
        message: /id
        messages:
          ship: /order/id
init:
  status: new
  count: 0
`

func TestDefinition(t *testing.T) {
	d, err := Parse([]byte(ordersYAML))
	if err != nil {
		t.Fatal(err)
	}
	def, err := d.Definition()
	if err != nil {
		t.Fatal(err)
	}

	if def.Mode != core.Concurrent {
		t.Fatalf("mode %s", def.Mode)
	}
	if !def.IsRequestResponse("place") || def.IsRequestResponse("confirm") {
		t.Fatal("operation kinds")
	}
	if len(def.CorrelationSets) != 1 {
		t.Fatalf("%d sets", len(def.CorrelationSets))
	}

	cset := def.CorrelationSets[0]
	for op, want := range map[string]string{
		"place":   "/id",
		"confirm": "/id",
		"ship":    "/order/id",
	} {
		pairs, have := cset.Pairs(op)
		if !have || len(pairs) != 1 {
			t.Fatalf("%s: %v", op, pairs)
		}
		if got := pairs[0].Message.String(); got != want {
			t.Fatalf("%s: %s != %s", op, got, want)
		}
		if got := pairs[0].Session.String(); got != "/orderId" {
			t.Fatalf("%s: %s", op, got)
		}
	}

	status, _ := value.Resolve(def.Init, value.MustParsePath("/status"))
	if !value.Equal(status, value.NewString("new")) {
		t.Fatalf("init %s", def.Init)
	}
	count, _ := value.Resolve(def.Init, value.MustParsePath("/count"))
	if count.Kind() != value.Int {
		t.Fatalf("count is %s", count.Kind())
	}

	if cfg := d.Config(); cfg.Strategy != correlation.Hash {
		t.Fatalf("strategy %q", cfg.Strategy)
	}
}

func TestJSONDefinition(t *testing.T) {
	js := `{"name":"pinger","operations":[{"name":"ping","kind":"requestResponse"}]}`
	d, err := Parse([]byte(js))
	if err != nil {
		t.Fatal(err)
	}
	def, e, err := d.Build(d.Config())
	if err != nil {
		t.Fatal(err)
	}
	if def.Mode != core.Single {
		t.Fatalf("mode %s", def.Mode)
	}
	if _, is := e.(*correlation.ScanEngine); !is {
		t.Fatalf("engine %T", e)
	}
}

func TestBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no name", `operations: [{name: a}]`},
		{"no operations", `name: x`},
		{"bad mode", `{name: x, mode: sometimes, operations: [{name: a}]}`},
		{"bad kind", `{name: x, operations: [{name: a, kind: maybe}]}`},
		{"twice", `{name: x, operations: [{name: a}, {name: a}]}`},
		{"no pairs", `{name: x, operations: [{name: a}], correlationSets: [{name: s, operations: [a]}]}`},
		{"bad path", `{name: x, operations: [{name: a}], correlationSets: [{name: s, operations: [a], pairs: [{session: "/a[", message: /b}]}]}`},
		{"no message path", `{name: x, operations: [{name: a}], correlationSets: [{name: s, operations: [a], pairs: [{session: /a}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse([]byte(tt.src))
			if err != nil {
				t.Fatal(err)
			}
			_, err = d.Definition()
			var bd *BadDefinition
			if !errors.As(err, &bd) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestUnknownCorrelationOperation(t *testing.T) {
	src := `
name: x
operations: [{name: a}]
correlationSets:
  - name: s
    operations: [a, b]
    pairs: [{session: /k, message: /k}]
`
	d, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Definition()
	var uco *UnknownCorrelationOperation
	if !errors.As(err, &uco) {
		t.Fatalf("got %v", err)
	}
	if uco.Operation != "b" || uco.Set != "s" {
		t.Fatalf("got %#v", uco)
	}
}

func TestUnknownEngine(t *testing.T) {
	d, _ := Parse([]byte(`{name: x, engine: btree, operations: [{name: a}]}`))
	if _, _, err := d.Build(d.Config()); !errors.Is(err, correlation.UnknownStrategy) {
		t.Fatalf("got %v", err)
	}
}

func TestMarshal(t *testing.T) {
	d, err := Parse([]byte(ordersYAML))
	if err != nil {
		t.Fatal(err)
	}
	bs, err := d.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(bs)
	if err != nil {
		t.Fatal(err)
	}
	def, err := again.Definition()
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Operations) != 3 || !strings.Contains(string(bs), "correlationSets") {
		t.Fatal(string(bs))
	}
}

func ExampleParseValue() {
	v, err := ParseValue([]byte(`{orderId: 42, lines: [a, b]}`))
	if err != nil {
		panic(err)
	}
	fmt.Println(v)
	// Output:
	// {"lines":["a","b"],"orderId":42}
}

func TestInline(t *testing.T) {
	f := func(name string) ([]byte, error) {
		if name != "body.js" {
			return nil, fmt.Errorf("no %s", name)
		}
		return []byte("var m = _.receive();\n_.reply(m, 1);\n"), nil
	}
	src := "script: |-\n  %inline(\"body.js\")\nname: x\n"
	got, err := Inline([]byte(src), f)
	if err != nil {
		t.Fatal(err)
	}
	want := "script: |-\n  var m = _.receive();\n  _.reply(m, 1);\nname: x\n"
	if string(got) != want {
		t.Fatalf("got %q", got)
	}

	if _, err = Inline([]byte(`%inline("other.js")`), f); err == nil {
		t.Fatal("inlined a missing file")
	}
}

func TestLoadWithInline(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "body.js"), []byte("var m = _.receive();\n_.reply(m, 1);\n"), 0644); err != nil {
		t.Fatal(err)
	}
	def := `name: x
operations: [{name: ping, kind: requestResponse}]
script: |-
  %inline("body.js")
`
	filename := filepath.Join(dir, "x.yaml")
	if err := os.WriteFile(filename, []byte(def), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if d.Script != "var m = _.receive();\n_.reply(m, 1);" {
		t.Fatalf("got %q", d.Script)
	}
}
