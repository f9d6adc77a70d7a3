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

// Package value implements the tree-shaped data that sessions keep as
// state and that messages carry as payloads.
//
// A Value is an optional scalar plus an ordered set of keys, each of
// which maps to a sequence of child Values.  Repeated children stand
// in for arrays.  A Path navigates a Value tree.
//
// Equality comes in two flavors.  Equal is type-sensitive: the int 5
// and the string "5" are different.  LooseEqual compares scalars by
// their textual rendering.  Neither considers an undefined Value equal
// to anything, including another undefined Value.
package value

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// Kind is the type of a Value's scalar.
type Kind int

const (
	Undefined Kind = iota
	String
	Int
	Double
	Bool
	Bytes
)

func (k Kind) String() string {
	switch k {
	case Undefined:
		return "undefined"
	case String:
		return "string"
	case Int:
		return "int"
	case Double:
		return "double"
	case Bool:
		return "bool"
	case Bytes:
		return "bytes"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a node in a value tree.
//
// The zero Value is undefined and has no children.  Values are not
// safe for concurrent use; the owner (usually a Session) provides the
// locking.
type Value struct {
	kind Kind
	str  string
	num  int64
	dbl  float64
	bs   []byte

	// keys preserves the order in which children keys were
	// introduced.
	keys     []string
	children map[string][]*Value
}

// New returns an undefined Value with no children.
func New() *Value {
	return &Value{}
}

func NewString(s string) *Value {
	return &Value{kind: String, str: s}
}

func NewInt(n int64) *Value {
	return &Value{kind: Int, num: n}
}

func NewDouble(f float64) *Value {
	return &Value{kind: Double, dbl: f}
}

func NewBool(b bool) *Value {
	v := &Value{kind: Bool}
	if b {
		v.num = 1
	}
	return v
}

func NewBytes(bs []byte) *Value {
	return &Value{kind: Bytes, bs: append([]byte(nil), bs...)}
}

// Kind returns the kind of the scalar.
func (v *Value) Kind() Kind {
	if v == nil {
		return Undefined
	}
	return v.kind
}

// IsDefined reports whether the value has a scalar or at least one
// child.
func (v *Value) IsDefined() bool {
	if v == nil {
		return false
	}
	return v.kind != Undefined || 0 < len(v.keys)
}

// HasChildren reports whether the value has at least one child key.
func (v *Value) HasChildren() bool {
	return v != nil && 0 < len(v.keys)
}

// Scalar returns the Go representation of the scalar: string, int64,
// float64, bool, []byte, or nil when undefined.
func (v *Value) Scalar() interface{} {
	switch v.Kind() {
	case String:
		return v.str
	case Int:
		return v.num
	case Double:
		return v.dbl
	case Bool:
		return v.num == 1
	case Bytes:
		return v.bs
	default:
		return nil
	}
}

// StrValue returns the scalar when it's a string.
func (v *Value) StrValue() (string, bool) {
	if v.Kind() != String {
		return "", false
	}
	return v.str, true
}

// IntValue returns the scalar when it's an int.
func (v *Value) IntValue() (int64, bool) {
	if v.Kind() != Int {
		return 0, false
	}
	return v.num, true
}

// DoubleValue returns the scalar when it's a double.
func (v *Value) DoubleValue() (float64, bool) {
	if v.Kind() != Double {
		return 0, false
	}
	return v.dbl, true
}

// BoolValue returns the scalar when it's a bool.
func (v *Value) BoolValue() (bool, bool) {
	if v.Kind() != Bool {
		return false, false
	}
	return v.num == 1, true
}

// SetScalar replaces the scalar with the scalar of the given value.
// Children are not touched.
func (v *Value) SetScalar(from *Value) {
	if from == nil {
		v.kind, v.str, v.num, v.dbl, v.bs = Undefined, "", 0, 0, nil
		return
	}
	v.kind, v.str, v.num, v.dbl = from.kind, from.str, from.num, from.dbl
	v.bs = nil
	if from.bs != nil {
		v.bs = append([]byte(nil), from.bs...)
	}
}

// Keys returns the child keys in the order they were introduced.
//
// The returned slice must not be modified.
func (v *Value) Keys() []string {
	if v == nil {
		return nil
	}
	return v.keys
}

// Children returns the sequence of children at the key.
//
// The returned slice must not be modified.
func (v *Value) Children(key string) []*Value {
	if v == nil || v.children == nil {
		return nil
	}
	return v.children[key]
}

// Child returns the child at (key, index) without creating anything.
func (v *Value) Child(key string, index int) (*Value, bool) {
	cs := v.Children(key)
	if index < 0 || len(cs) <= index {
		return nil, false
	}
	return cs[index], true
}

// Ensure returns the child at (key, index), creating it (and any
// undefined predecessors) if needed.
func (v *Value) Ensure(key string, index int) *Value {
	if v.children == nil {
		v.children = make(map[string][]*Value, 4)
	}
	cs, have := v.children[key]
	if !have {
		v.keys = append(v.keys, key)
	}
	for len(cs) <= index {
		cs = append(cs, New())
	}
	v.children[key] = cs
	return cs[index]
}

// Add appends a child at the key.
func (v *Value) Add(key string, child *Value) *Value {
	if v.children == nil {
		v.children = make(map[string][]*Value, 4)
	}
	if _, have := v.children[key]; !have {
		v.keys = append(v.keys, key)
	}
	v.children[key] = append(v.children[key], child)
	return v
}

// Remove deletes all children at the key.
func (v *Value) Remove(key string) {
	if v == nil || v.children == nil {
		return
	}
	if _, have := v.children[key]; !have {
		return
	}
	delete(v.children, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Assign makes v a deep copy of from (scalar and children).
func (v *Value) Assign(from *Value) {
	c := from.Copy()
	*v = *c
}

// Copy makes a deep copy.
func (v *Value) Copy() *Value {
	if v == nil {
		return New()
	}
	acc := &Value{}
	acc.SetScalar(v)
	if 0 < len(v.keys) {
		acc.keys = make([]string, len(v.keys))
		copy(acc.keys, v.keys)
		acc.children = make(map[string][]*Value, len(v.keys))
		for _, k := range v.keys {
			cs := v.children[k]
			ccs := make([]*Value, len(cs))
			for i, c := range cs {
				ccs[i] = c.Copy()
			}
			acc.children[k] = ccs
		}
	}
	return acc
}

// Equal is the type-sensitive correlation equality.
//
// Both values must be defined.  Scalars must have the same kind and
// the same content, and children must agree key by key and position
// by position.  Key order is not significant.
func Equal(a, b *Value) bool {
	if !a.IsDefined() || !b.IsDefined() {
		return false
	}
	return deepEqual(a, b, scalarEqual)
}

// LooseEqual is like Equal except that scalars are compared by their
// textual rendering, so the int 5 equals the string "5".
func LooseEqual(a, b *Value) bool {
	if !a.IsDefined() || !b.IsDefined() {
		return false
	}
	return deepEqual(a, b, looseScalarEqual)
}

func deepEqual(a, b *Value, scalars func(a, b *Value) bool) bool {
	if !scalars(a, b) {
		return false
	}
	if len(a.keys) != len(b.keys) {
		return false
	}
	for _, k := range a.keys {
		as, bs := a.children[k], b.Children(k)
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !deepEqual(as[i], bs[i], scalars) {
				return false
			}
		}
	}
	return true
}

func scalarEqual(a, b *Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case String:
		return a.str == b.str
	case Int, Bool:
		return a.num == b.num
	case Double:
		return a.dbl == b.dbl
	case Bytes:
		return bytes.Equal(a.bs, b.bs)
	}
	return true
}

func looseScalarEqual(a, b *Value) bool {
	if a.kind == Undefined || b.kind == Undefined {
		return a.kind == b.kind
	}
	return a.Text() == b.Text()
}

// Text renders the scalar as a string.  Undefined renders as "".
func (v *Value) Text() string {
	switch v.Kind() {
	case String:
		return v.str
	case Int:
		return strconv.FormatInt(v.num, 10)
	case Double:
		if v.dbl == math.Trunc(v.dbl) && math.Abs(v.dbl) < 1e15 {
			return strconv.FormatInt(int64(v.dbl), 10)
		}
		return strconv.FormatFloat(v.dbl, 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(v.num == 1)
	case Bytes:
		return string(v.bs)
	}
	return ""
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	js, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%s(%s)", v.kind, v.Text())
	}
	return string(js)
}
