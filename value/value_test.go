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

package value

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestEqual(t *testing.T) {
	type test struct {
		title string
		a, b  *Value
		want  bool
		loose bool
	}

	tests := []test{
		{"same ints", NewInt(5), NewInt(5), true, true},
		{"int vs string", NewInt(5), NewString("5"), false, true},
		{"int vs double", NewInt(5), NewDouble(5), false, true},
		{"different strings", NewString("a"), NewString("b"), false, false},
		{"both undefined", New(), New(), false, false},
		{"one undefined", New(), NewInt(1), false, false},
		{"nil", nil, nil, false, false},
		{"bools", NewBool(true), NewBool(true), true, true},
		{"bytes", NewBytes([]byte("x")), NewBytes([]byte("x")), true, true},
		{"bytes vs string", NewBytes([]byte("x")), NewString("x"), false, true},
		{"trees",
			MustParseJSON(`{"a":1,"b":["x","y"]}`),
			MustParseJSON(`{"b":["x","y"],"a":1}`),
			true, true},
		{"trees differ in order of repeated",
			MustParseJSON(`{"b":["x","y"]}`),
			MustParseJSON(`{"b":["y","x"]}`),
			false, false},
		{"trees differ in kind",
			MustParseJSON(`{"a":1}`),
			MustParseJSON(`{"a":"1"}`),
			false, true},
		{"extra key",
			MustParseJSON(`{"a":1}`),
			MustParseJSON(`{"a":1,"b":2}`),
			false, false},
	}

	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			if got := Equal(tc.a, tc.b); got != tc.want {
				t.Fatalf("Equal(%s, %s) = %v", tc.a, tc.b, got)
			}
			if got := LooseEqual(tc.a, tc.b); got != tc.loose {
				t.Fatalf("LooseEqual(%s, %s) = %v", tc.a, tc.b, got)
			}
			if tc.a.IsDefined() && tc.b.IsDefined() {
				if same := tc.a.Key() == tc.b.Key(); same != tc.want {
					t.Fatalf("Key agreement %v but Equal %v", same, tc.want)
				}
				if same := tc.a.LooseKey() == tc.b.LooseKey(); same != tc.loose {
					t.Fatalf("LooseKey agreement %v but LooseEqual %v", same, tc.loose)
				}
			}
		})
	}
}

func TestParsePath(t *testing.T) {
	good := map[string]string{
		"":             "/",
		"/":            "/",
		"/orderId":     "/orderId",
		"orderId":      "/orderId",
		"/a/b[1]/c":    "/a/b[1]/c",
		"/a[0]/b":      "/a/b",
		"/items[12]":   "/items[12]",
		"/with space":  "/with space",
		"/customer/id": "/customer/id",
	}
	for src, want := range good {
		p, err := ParsePath(src)
		if err != nil {
			t.Fatalf("%q: %s", src, err)
		}
		if got := p.String(); got != want {
			t.Fatalf("%q: got %q, wanted %q", src, got, want)
		}
	}

	for _, src := range []string{"/a//b", "/a[", "/a[x]", "/[1]", "/a]", "/a[-1]"} {
		if _, err := ParsePath(src); err == nil {
			t.Fatalf("%q: expected an error", src)
		}
	}
}

func TestResolve(t *testing.T) {
	root := MustParseJSON(`{"order":{"id":42,"lines":[{"sku":"a"},{"sku":"b"}]}}`)

	if v, ok := Resolve(root, MustParsePath("/order/id")); !ok || !Equal(v, NewInt(42)) {
		t.Fatalf("got %s %v", v, ok)
	}
	if v, ok := Resolve(root, MustParsePath("/order/lines[1]/sku")); !ok || !Equal(v, NewString("b")) {
		t.Fatalf("got %s %v", v, ok)
	}
	for _, p := range []string{"/order/nope", "/order/lines[2]", "/order/id/deeper"} {
		if v, ok := Resolve(root, MustParsePath(p)); ok {
			t.Fatalf("%s resolved to %s", p, v)
		}
	}
	if _, ok := Resolve(nil, MustParsePath("/x")); ok {
		t.Fatal("resolved against nil")
	}
	if v, ok := Resolve(root, Path{}); !ok || v != root {
		t.Fatal("empty path should resolve to the root")
	}
}

func TestSet(t *testing.T) {
	root := New()
	x := NewString("tacos")
	Set(root, MustParsePath("/a/b[2]/c"), x)

	got, ok := Resolve(root, MustParsePath("/a/b[2]/c"))
	if !ok || !Equal(got, x) {
		t.Fatalf("got %s", root)
	}
	if got == x {
		t.Fatal("Set didn't copy")
	}
	if n := len(root.Children("a")[0].Children("b")); n != 3 {
		t.Fatalf("wanted 3 b's, got %d", n)
	}
	if pred, _ := Resolve(root, MustParsePath("/a/b[1]")); pred.IsDefined() {
		t.Fatalf("predecessor should be undefined: %s", pred)
	}
}

func TestCopyIsDeep(t *testing.T) {
	a := MustParseJSON(`{"x":{"y":1}}`)
	b := a.Copy()
	Set(b, MustParsePath("/x/y"), NewInt(2))
	if v, _ := Resolve(a, MustParsePath("/x/y")); !Equal(v, NewInt(1)) {
		t.Fatalf("original changed: %s", a)
	}
}

func TestInterface(t *testing.T) {
	src := `{"$":"root","a":[1,2.5,"three"],"b":{"c":true}}`
	v := MustParseJSON(src)
	if s, _ := v.StrValue(); s != "root" {
		t.Fatalf("scalar %q", s)
	}
	if n := len(v.Children("a")); n != 3 {
		t.Fatalf("wanted 3 children, got %d", n)
	}
	if k := v.Children("a")[0].Kind(); k != Int {
		t.Fatalf("wanted int, got %s", k)
	}
	if k := v.Children("a")[1].Kind(); k != Double {
		t.Fatalf("wanted double, got %s", k)
	}

	js, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(MustParseJSON(string(js)), v) {
		t.Fatalf("%s", js)
	}
}

func TestFromYAMLishMaps(t *testing.T) {
	x := map[interface{}]interface{}{
		"orderId": 42,
		"tags":    []interface{}{"a", "b"},
	}
	v, err := FromInterface(x)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := Resolve(v, MustParsePath("/orderId")); !Equal(got, NewInt(42)) {
		t.Fatalf("got %s", v)
	}
	if _, err := FromInterface(struct{}{}); err == nil {
		t.Fatal("expected an error")
	}
}

func ExampleEqual() {
	session := MustParseJSON(`{"orderId":5}`)
	message := MustParseJSON(`{"id":"5"}`)

	s, _ := Resolve(session, MustParsePath("/orderId"))
	m, _ := Resolve(message, MustParsePath("/id"))

	fmt.Println(Equal(s, m))
	fmt.Println(LooseEqual(s, m))
	// Output:
	// false
	// true
}
