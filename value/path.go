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
	"errors"
	"strconv"
	"strings"
)

// Step is one navigation step: the child at Index under Key.
type Step struct {
	Key   string
	Index int
}

// Path is a sequence of Steps from a root Value.
//
// The empty Path denotes the root itself.
type Path []Step

// BadPath is returned by ParsePath for malformed syntax.
type BadPath struct {
	Path   string
	Reason string
}

func (e *BadPath) Error() string {
	return `bad path "` + e.Path + `": ` + e.Reason
}

// ParsePath parses the syntax "/a/b[1]/c".
//
// The leading slash is optional, and an index defaults to 0.  Both ""
// and "/" denote the root.
func ParsePath(s string) (Path, error) {
	trimmed := strings.TrimPrefix(s, "/")
	if trimmed == "" {
		return Path{}, nil
	}
	parts := strings.Split(trimmed, "/")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		step, err := parseStep(part)
		if err != nil {
			return nil, &BadPath{Path: s, Reason: err.Error()}
		}
		p = append(p, step)
	}
	return p, nil
}

func parseStep(part string) (Step, error) {
	if part == "" {
		return Step{}, errors.New("empty step")
	}
	open := strings.IndexByte(part, '[')
	if open < 0 {
		if strings.IndexByte(part, ']') >= 0 {
			return Step{}, errors.New("unbalanced ']' in " + part)
		}
		return Step{Key: part}, nil
	}
	if open == 0 {
		return Step{}, errors.New("missing key before '[' in " + part)
	}
	if !strings.HasSuffix(part, "]") {
		return Step{}, errors.New("expected ']' at end of " + part)
	}
	n, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil || n < 0 {
		return Step{}, errors.New("bad index in " + part)
	}
	return Step{Key: part[:open], Index: n}, nil
}

// MustParsePath is ParsePath that panics on error.  For literals.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, step := range p {
		b.WriteByte('/')
		b.WriteString(step.Key)
		if step.Index != 0 {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(step.Index))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// MarshalText renders the path with String.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the path with ParsePath.
func (p *Path) UnmarshalText(bs []byte) error {
	parsed, err := ParsePath(string(bs))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Resolve follows the path from root.
//
// Returns false when any step is missing.  Never panics, and never
// creates anything.
func Resolve(root *Value, p Path) (*Value, bool) {
	if root == nil {
		return nil, false
	}
	v := root
	for _, step := range p {
		c, ok := v.Child(step.Key, step.Index)
		if !ok {
			return nil, false
		}
		v = c
	}
	return v, true
}

// Set assigns a deep copy of x at the path, creating intermediate
// nodes as needed.  Setting the empty path replaces the root's
// content.
func Set(root *Value, p Path, x *Value) {
	v := root
	for _, step := range p {
		v = v.Ensure(step.Key, step.Index)
	}
	v.Assign(x)
}
