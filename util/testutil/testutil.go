/* Copyright 2018 Comcast Cable Communications Management, LLC
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

// Package testutil has JSON helpers for tests and tools.
package testutil

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/Comcast/corral/value"
)

// JS renders its argument as JSON or as a string indicating an error.
func JS(x interface{}) string {
	bs, err := json.Marshal(&x)
	if err != nil {
		log.Printf("warning: testutil.JS error %s for %#v", err, x)
		return fmt.Sprintf("%#v", x)
	}
	return string(bs)
}

// Dwimjs, when given a string or bytes, parses that data as JSON
// into a Value.  When given anything else, converts it with
// value.FromInterface.  Panics on failure.
//
// See https://en.wikipedia.org/wiki/DWIM.
func Dwimjs(x interface{}) *value.Value {
	switch vv := x.(type) {
	case []byte:
		return Dwimjs(string(vv))
	case string:
		v, err := value.ParseJSON(vv)
		if err != nil {
			panic(err)
		}
		return v
	default:
		return value.MustFromInterface(x)
	}
}

// Ats resolves each path in v and renders what it finds as JSON.
// Missing values render as "undefined".
func Ats(v *value.Value, paths ...string) []string {
	acc := make([]string, len(paths))
	for i, p := range paths {
		x, have := value.Resolve(v, value.MustParsePath(p))
		if !have {
			acc[i] = "undefined"
			continue
		}
		acc[i] = JS(x)
	}
	return acc
}
