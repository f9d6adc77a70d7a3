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

package core

import (
	"errors"
	"strings"

	"github.com/Comcast/corral/value"
)

// ExecutionMode says how many sessions of a process may run at once.
type ExecutionMode int

const (
	// Single means one session ever.
	Single ExecutionMode = iota

	// Sequential means one session at a time; further sessions
	// wait their turn.
	Sequential

	// Concurrent means many sessions in parallel.
	Concurrent
)

func (m ExecutionMode) String() string {
	switch m {
	case Single:
		return "single"
	case Sequential:
		return "sequential"
	case Concurrent:
		return "concurrent"
	}
	return "unknown"
}

// ParseExecutionMode parses the output of ExecutionMode.String.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "":
		return Single, nil
	case "sequential":
		return Sequential, nil
	case "concurrent":
		return Concurrent, nil
	}
	return Single, errors.New(`unknown execution mode "` + s + `"`)
}

func (m ExecutionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ExecutionMode) UnmarshalText(bs []byte) error {
	parsed, err := ParseExecutionMode(string(bs))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// OperationKind distinguishes notifications from requests that
// expect a response.
type OperationKind int

const (
	OneWay OperationKind = iota
	RequestResponse
)

func (k OperationKind) String() string {
	if k == RequestResponse {
		return "requestResponse"
	}
	return "oneway"
}

// Operation is an input operation that a process declares.
type Operation struct {
	Name string        `json:"name"`
	Kind OperationKind `json:"kind"`
	Doc  string        `json:"doc,omitempty"`
}

// CorrelationPair links a path into session state with a path into
// a message payload.
type CorrelationPair struct {
	Session value.Path `json:"session"`
	Message value.Path `json:"message"`
}

// CorrelationSet maps operation names to the pairs that must all
// match for a message of that operation to belong to a session.
//
// All the pairs of one set identify the same logical session.
type CorrelationSet struct {
	Name       string                       `json:"name"`
	Doc        string                       `json:"doc,omitempty"`
	Operations map[string][]CorrelationPair `json:"operations"`
}

// Pairs returns the pairs for the operation, if any.
func (c *CorrelationSet) Pairs(op string) ([]CorrelationPair, bool) {
	ps, have := c.Operations[op]
	return ps, have
}

// SessionPaths returns the distinct session-side paths of the set in
// string order.
func (c *CorrelationSet) SessionPaths() []value.Path {
	seen := make(map[string]bool, 4)
	acc := make([]value.Path, 0, 4)
	for _, ps := range c.Operations {
		for _, p := range ps {
			k := p.Session.String()
			if seen[k] {
				continue
			}
			seen[k] = true
			acc = append(acc, p.Session)
		}
	}
	sortPaths(acc)
	return acc
}

func sortPaths(ps []value.Path) {
	// Tiny slices; insertion sort.
	for i := 1; i < len(ps); i++ {
		for j := i; 0 < j && ps[j].String() < ps[j-1].String(); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

// Definition is the read-only description of a deployed process
// that the correlation machinery needs.
type Definition struct {
	Name            string                `json:"name"`
	Doc             string                `json:"doc,omitempty"`
	Mode            ExecutionMode         `json:"mode"`
	Operations      map[string]*Operation `json:"operations"`
	CorrelationSets []*CorrelationSet     `json:"correlationSets,omitempty"`

	// Init, if not nil, is copied into every new session's
	// state.
	Init *value.Value `json:"init,omitempty"`
}

// Operation returns the declared operation, if any.
func (d *Definition) Operation(name string) (*Operation, bool) {
	op, have := d.Operations[name]
	return op, have
}

// CorrelationSetFor returns the first set whose index contains the
// operation.
func (d *Definition) CorrelationSetFor(op string) *CorrelationSet {
	for _, c := range d.CorrelationSets {
		if _, have := c.Operations[op]; have {
			return c
		}
	}
	return nil
}

// SetsFor returns all the sets whose index contains the operation.
func (d *Definition) SetsFor(op string) []*CorrelationSet {
	var acc []*CorrelationSet
	for _, c := range d.CorrelationSets {
		if _, have := c.Operations[op]; have {
			acc = append(acc, c)
		}
	}
	return acc
}

// IsRequestResponse reports whether the named operation expects a
// response.
func (d *Definition) IsRequestResponse(op string) bool {
	o, have := d.Operations[op]
	return have && o.Kind == RequestResponse
}
