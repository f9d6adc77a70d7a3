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

// Package deploy loads process definitions.
//
// A definition is a YAML (or JSON) document:
//
//    name: orders
//    mode: concurrent
//    engine: hash
//    operations:
//      - name: place
//        kind: requestResponse
//      - name: confirm
//    correlationSets:
//      - name: order
//        operations: [place, confirm]
//        pairs:
//          - session: /orderId
//            message: /id
//    init:
//      status: new
//
// A pair's "messages" map can give an operation its own message-side
// path.
package deploy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/correlation"
	"github.com/Comcast/corral/value"

	jsyaml "github.com/jsccast/yaml"
	"gopkg.in/yaml.v2"
)

// Document is the declared form of a process.
type Document struct {
	Name     string `json:"name" yaml:"name"`
	Doc      string `json:"doc,omitempty" yaml:"doc,omitempty"`
	Mode     string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Engine   string `json:"engine,omitempty" yaml:"engine,omitempty"`
	Equality string `json:"equality,omitempty" yaml:"equality,omitempty"`

	Operations      []OperationDoc `json:"operations" yaml:"operations"`
	CorrelationSets []SetDoc       `json:"correlationSets,omitempty" yaml:"correlationSets,omitempty"`

	// Init is the initial state of every session.
	Init interface{} `json:"init,omitempty" yaml:"init,omitempty"`

	// Script is an optional JavaScript session body.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`
}

type OperationDoc struct {
	Name string `json:"name" yaml:"name"`

	// Kind is "oneway" (the default) or "requestResponse".
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Doc  string `json:"doc,omitempty" yaml:"doc,omitempty"`
}

type SetDoc struct {
	Name       string    `json:"name" yaml:"name"`
	Doc        string    `json:"doc,omitempty" yaml:"doc,omitempty"`
	Operations []string  `json:"operations,omitempty" yaml:"operations,omitempty"`
	Pairs      []PairDoc `json:"pairs" yaml:"pairs"`
}

// PairDoc links a session path with a message path.
type PairDoc struct {
	Session string `json:"session" yaml:"session"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Messages overrides Message per operation.  An operation
	// named here joins the set even if the set's Operations
	// doesn't list it.
	Messages map[string]string `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// BadDefinition reports a definition that can't be deployed.
type BadDefinition struct {
	Process string
	Reason  string
}

func (e *BadDefinition) Error() string {
	return fmt.Sprintf("bad definition %q: %s", e.Process, e.Reason)
}

// UnknownCorrelationOperation reports a correlation set that indexes
// an operation the process doesn't declare.
type UnknownCorrelationOperation struct {
	Process   string
	Set       string
	Operation string
}

func (e *UnknownCorrelationOperation) Error() string {
	return fmt.Sprintf("process %q correlation set %q names unknown operation %q",
		e.Process, e.Set, e.Operation)
}

// Parse parses a YAML or JSON document.
func Parse(bs []byte) (*Document, error) {
	var d Document
	if err := jsyaml.Unmarshal(bs, &d); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return &d, nil
}

// Load reads and parses the file.  The file can %inline("NAME")
// other files in its directory.
func Load(filename string) (*Document, error) {
	bs, err := ReadFileWithInlines(filename)
	if err != nil {
		return nil, err
	}
	d, err := Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return d, nil
}

// ParseValue parses YAML or JSON into a Value.
func ParseValue(bs []byte) (*value.Value, error) {
	var x interface{}
	if err := jsyaml.Unmarshal(bs, &x); err != nil {
		return nil, err
	}
	return value.FromInterface(x)
}

// Marshal renders the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

func (d *Document) bad(format string, args ...interface{}) error {
	return &BadDefinition{
		Process: d.Name,
		Reason:  fmt.Sprintf(format, args...),
	}
}

// ParseOperationKind parses "oneway" or "requestResponse".  The empty
// string is OneWay.
func ParseOperationKind(s string) (core.OperationKind, error) {
	switch strings.ToLower(s) {
	case "", "oneway", "one-way":
		return core.OneWay, nil
	case "requestresponse", "request-response":
		return core.RequestResponse, nil
	}
	return core.OneWay, fmt.Errorf("unknown operation kind %q", s)
}

// Definition validates the document and builds the definition the
// correlation machinery uses.
func (d *Document) Definition() (*core.Definition, error) {
	if d.Name == "" {
		return nil, d.bad("no name")
	}

	mode, err := core.ParseExecutionMode(d.Mode)
	if err != nil {
		return nil, d.bad("%s", err)
	}

	def := &core.Definition{
		Name:       d.Name,
		Doc:        d.Doc,
		Mode:       mode,
		Operations: make(map[string]*core.Operation, len(d.Operations)),
	}

	if len(d.Operations) == 0 {
		return nil, d.bad("no operations")
	}
	for _, o := range d.Operations {
		if o.Name == "" {
			return nil, d.bad("operation without a name")
		}
		if _, have := def.Operations[o.Name]; have {
			return nil, d.bad("operation %q declared twice", o.Name)
		}
		kind, err := ParseOperationKind(o.Kind)
		if err != nil {
			return nil, d.bad("operation %q: %s", o.Name, err)
		}
		def.Operations[o.Name] = &core.Operation{
			Name: o.Name,
			Kind: kind,
			Doc:  o.Doc,
		}
	}

	names := make(map[string]bool, len(d.CorrelationSets))
	for i := range d.CorrelationSets {
		cset, err := d.correlationSet(def, &d.CorrelationSets[i])
		if err != nil {
			return nil, err
		}
		if names[cset.Name] {
			return nil, d.bad("correlation set %q declared twice", cset.Name)
		}
		names[cset.Name] = true
		def.CorrelationSets = append(def.CorrelationSets, cset)
	}

	if d.Init != nil {
		if def.Init, err = value.FromInterface(d.Init); err != nil {
			return nil, d.bad("init: %s", err)
		}
	}

	return def, nil
}

func (d *Document) correlationSet(def *core.Definition, s *SetDoc) (*core.CorrelationSet, error) {
	if s.Name == "" {
		return nil, d.bad("correlation set without a name")
	}
	if len(s.Pairs) == 0 {
		return nil, d.bad("correlation set %q has no pairs", s.Name)
	}

	ops := make(map[string]bool, len(s.Operations))
	for _, op := range s.Operations {
		ops[op] = true
	}
	for _, p := range s.Pairs {
		for op := range p.Messages {
			ops[op] = true
		}
	}
	if len(ops) == 0 {
		return nil, d.bad("correlation set %q has no operations", s.Name)
	}

	cset := &core.CorrelationSet{
		Name:       s.Name,
		Doc:        s.Doc,
		Operations: make(map[string][]core.CorrelationPair, len(ops)),
	}

	for _, op := range sortedKeys(ops) {
		if _, have := def.Operation(op); !have {
			return nil, &UnknownCorrelationOperation{
				Process:   d.Name,
				Set:       s.Name,
				Operation: op,
			}
		}
		pairs := make([]core.CorrelationPair, 0, len(s.Pairs))
		for _, p := range s.Pairs {
			sp, err := value.ParsePath(p.Session)
			if err != nil {
				return nil, d.bad("correlation set %q: %s", s.Name, err)
			}
			src := p.Message
			if override, have := p.Messages[op]; have {
				src = override
			}
			if src == "" {
				return nil, d.bad("correlation set %q: no message path for %q at %s",
					s.Name, op, p.Session)
			}
			mp, err := value.ParsePath(src)
			if err != nil {
				return nil, d.bad("correlation set %q: %s", s.Name, err)
			}
			pairs = append(pairs, core.CorrelationPair{
				Session: sp,
				Message: mp,
			})
		}
		cset.Operations[op] = pairs
	}

	return cset, nil
}

func sortedKeys(m map[string]bool) []string {
	acc := make([]string, 0, len(m))
	for k := range m {
		acc = append(acc, k)
	}
	sort.Strings(acc)
	return acc
}

// Config returns the engine configuration the document asks for.
func (d *Document) Config() correlation.Config {
	return correlation.Config{
		Strategy: correlation.Strategy(strings.ToLower(d.Engine)),
		Equality: correlation.Equality(strings.ToLower(d.Equality)),
	}
}

// Build builds the definition and its engine.
func (d *Document) Build(cfg correlation.Config) (*core.Definition, correlation.Engine, error) {
	def, err := d.Definition()
	if err != nil {
		return nil, nil, err
	}
	e, err := correlation.New(def, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("process %q: %w", d.Name, err)
	}
	return def, e, nil
}
