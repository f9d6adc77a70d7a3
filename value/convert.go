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
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// ScalarKey is the JSON property that carries the scalar of a
	// Value that also has children.
	ScalarKey = "$"

	// ItemKey holds the elements of an anonymous array, which
	// happens when an array is the root or an element of another
	// array.
	ItemKey = "_"
)

// FromInterface converts decoded JSON or YAML into a Value.
//
// Maps become children, and an array under a key becomes repeated
// children at that key.  A map property named ScalarKey provides the
// scalar.  An integral json.Number becomes an Int; other numbers
// become Doubles except for Go integer types.
func FromInterface(x interface{}) (*Value, error) {
	v := New()
	if err := fill(v, x); err != nil {
		return nil, err
	}
	return v, nil
}

// MustFromInterface is FromInterface that panics on error.
func MustFromInterface(x interface{}) *Value {
	v, err := FromInterface(x)
	if err != nil {
		panic(err)
	}
	return v
}

func fill(v *Value, x interface{}) error {
	switch vv := x.(type) {
	case nil:
	case *Value:
		v.Assign(vv)
	case string:
		v.SetScalar(NewString(vv))
	case []byte:
		v.SetScalar(NewBytes(vv))
	case bool:
		v.SetScalar(NewBool(vv))
	case int:
		v.SetScalar(NewInt(int64(vv)))
	case int32:
		v.SetScalar(NewInt(int64(vv)))
	case int64:
		v.SetScalar(NewInt(vv))
	case uint:
		v.SetScalar(NewInt(int64(vv)))
	case uint32:
		v.SetScalar(NewInt(int64(vv)))
	case uint64:
		if math.MaxInt64 < vv {
			return fmt.Errorf("integer %d overflows", vv)
		}
		v.SetScalar(NewInt(int64(vv)))
	case float32:
		v.SetScalar(NewDouble(float64(vv)))
	case float64:
		v.SetScalar(NewDouble(vv))
	case json.Number:
		if n, err := vv.Int64(); err == nil {
			v.SetScalar(NewInt(n))
		} else if f, err := vv.Float64(); err == nil {
			v.SetScalar(NewDouble(f))
		} else {
			return err
		}
	case map[string]interface{}:
		ks := make([]string, 0, len(vv))
		for k := range vv {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		for _, k := range ks {
			if err := fillProperty(v, k, vv[k]); err != nil {
				return err
			}
		}
	case map[interface{}]interface{}:
		// What the YAML decoders like to make.
		ks := make([]string, 0, len(vv))
		m := make(map[string]interface{}, len(vv))
		for k, x := range vv {
			s, is := k.(string)
			if !is {
				s = fmt.Sprintf("%v", k)
			}
			ks = append(ks, s)
			m[s] = x
		}
		sort.Strings(ks)
		for _, k := range ks {
			if err := fillProperty(v, k, m[k]); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, x := range vv {
			c := New()
			if err := fill(c, x); err != nil {
				return err
			}
			v.Add(ItemKey, c)
		}
	default:
		return fmt.Errorf("can't make a value from %T", x)
	}
	return nil
}

func fillProperty(v *Value, k string, x interface{}) error {
	if k == ScalarKey {
		c := New()
		if err := fill(c, x); err != nil {
			return err
		}
		v.SetScalar(c)
		return nil
	}
	if xs, is := x.([]interface{}); is {
		for _, x := range xs {
			c := New()
			if err := fill(c, x); err != nil {
				return err
			}
			v.Add(k, c)
		}
		return nil
	}
	c := New()
	if err := fill(c, x); err != nil {
		return err
	}
	v.Add(k, c)
	return nil
}

// Interface is the inverse of FromInterface (modulo single-element
// arrays, which come back as their element).
func (v *Value) Interface() interface{} {
	if v == nil {
		return nil
	}
	if len(v.keys) == 0 {
		return v.Scalar()
	}
	if len(v.keys) == 1 && v.keys[0] == ItemKey && v.kind == Undefined {
		cs := v.children[ItemKey]
		acc := make([]interface{}, len(cs))
		for i, c := range cs {
			acc[i] = c.Interface()
		}
		return acc
	}
	m := make(map[string]interface{}, len(v.keys)+1)
	if v.kind != Undefined {
		m[ScalarKey] = v.Scalar()
	}
	for _, k := range v.keys {
		cs := v.children[k]
		if len(cs) == 1 {
			m[k] = cs[0].Interface()
			continue
		}
		acc := make([]interface{}, len(cs))
		for i, c := range cs {
			acc[i] = c.Interface()
		}
		m[k] = acc
	}
	return m
}

// MarshalJSON renders Interface() as JSON.
func (v *Value) MarshalJSON() ([]byte, error) {
	x := v.Interface()
	return json.Marshal(&x)
}

// UnmarshalJSON parses JSON, keeping integers as Ints.
func (v *Value) UnmarshalJSON(bs []byte) error {
	dec := json.NewDecoder(bytes.NewReader(bs))
	dec.UseNumber()
	var x interface{}
	if err := dec.Decode(&x); err != nil {
		return err
	}
	parsed, err := FromInterface(x)
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

// ParseJSON is a convenience that calls UnmarshalJSON.
func ParseJSON(js string) (*Value, error) {
	v := New()
	if err := v.UnmarshalJSON([]byte(js)); err != nil {
		return nil, err
	}
	return v, nil
}

// MustParseJSON is ParseJSON that panics on error.
func MustParseJSON(js string) *Value {
	v, err := ParseJSON(js)
	if err != nil {
		panic(err)
	}
	return v
}

// Key returns a canonical string such that Key(a) == Key(b) exactly
// when the trees agree under Equal's structural rules.  Key order
// doesn't matter.
func (v *Value) Key() string {
	var b strings.Builder
	writeKey(&b, v, false)
	return b.String()
}

// LooseKey is the Key analog for LooseEqual.
func (v *Value) LooseKey() string {
	var b strings.Builder
	writeKey(&b, v, true)
	return b.String()
}

func writeKey(b *strings.Builder, v *Value, loose bool) {
	if v.Kind() == Undefined {
		b.WriteByte('u')
	} else {
		var s string
		if loose {
			b.WriteByte('t')
			s = v.Text()
		} else {
			switch v.kind {
			case String:
				b.WriteByte('s')
				s = v.str
			case Int:
				b.WriteByte('i')
				s = strconv.FormatInt(v.num, 10)
			case Double:
				b.WriteByte('d')
				f := v.dbl
				if f == 0 {
					f = 0 // -0
				}
				s = strconv.FormatUint(math.Float64bits(f), 16)
			case Bool:
				b.WriteByte('b')
				s = strconv.FormatInt(v.num, 10)
			case Bytes:
				b.WriteByte('x')
				s = string(v.bs)
			}
		}
		writeLen(b, s)
	}
	if len(v.Keys()) == 0 {
		return
	}
	ks := make([]string, len(v.keys))
	copy(ks, v.keys)
	sort.Strings(ks)
	b.WriteByte('{')
	for _, k := range ks {
		writeLen(b, k)
		b.WriteByte('[')
		for _, c := range v.children[k] {
			writeKey(b, c, loose)
		}
		b.WriteByte(']')
	}
	b.WriteByte('}')
}

func writeLen(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}
