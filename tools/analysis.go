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
	"sort"

	"github.com/Comcast/corral/core"
)

// Analysis reports on how a definition's operations correlate.
type Analysis struct {
	def *core.Definition

	Operations       int
	RequestResponses int
	Sets             int

	// Uncorrelated operations are in no set.  In a SINGLE
	// process they go to the one session.  Otherwise they always
	// start a session.
	Uncorrelated []string

	// Partial operations don't give a message path for every
	// session path of their set, so indexed lookup falls back to
	// scanning.
	Partial []string

	// Shadowed operations are in more than one set.  Only the
	// first set decides correlation.
	Shadowed []string

	Warnings []string
}

// Analyze examines the definition.
func Analyze(def *core.Definition) (*Analysis, error) {
	a := Analysis{
		def:        def,
		Operations: len(def.Operations),
		Sets:       len(def.CorrelationSets),
		Warnings:   make([]string, 0, 8),
	}

	uncorrelated, partial, shadowed := make(map[string]bool), make(map[string]bool), make(map[string]bool)

	for name, op := range def.Operations {
		if op.Kind == core.RequestResponse {
			a.RequestResponses++
		}
		sets := def.SetsFor(name)
		switch len(sets) {
		case 0:
			uncorrelated[name] = true
		case 1:
		default:
			shadowed[name] = true
		}
		for _, cset := range sets {
			pairs, _ := cset.Pairs(name)
			if len(pairs) < len(cset.SessionPaths()) {
				partial[name] = true
			}
		}
	}

	a.Uncorrelated = keysToStringSlice(uncorrelated)
	a.Partial = keysToStringSlice(partial)
	a.Shadowed = keysToStringSlice(shadowed)

	for _, op := range a.Shadowed {
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("operation %s is in more than one correlation set", op))
	}
	if def.Mode == core.Single && 0 < len(def.CorrelationSets) && 0 < len(a.Uncorrelated) {
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("single process has correlation sets but %v aren't in any", a.Uncorrelated))
	}
	if def.Mode != core.Single && len(a.Uncorrelated) == len(def.Operations) && 1 < len(def.Operations) {
		a.Warnings = append(a.Warnings,
			"no operation correlates, so every message starts a session")
	}

	return &a, nil
}

// keysToStringSlice returns the keys of the map in order.
func keysToStringSlice(m map[string]bool) []string {
	var list []string
	for key := range m {
		list = append(list, key)
	}
	sort.Strings(list)
	return list
}
