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

package behave

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// Provider resolves a library name into source.
type Provider func(ctx context.Context, name string) (string, error)

// MakeFileLibraryProvider returns a Provider that reads names of the
// form "file://NAME" relative to dir.
func MakeFileLibraryProvider(dir string) Provider {
	return func(ctx context.Context, name string) (string, error) {
		parts := strings.SplitN(name, "://", 2)
		if 2 != len(parts) {
			return "", fmt.Errorf("bad link '%s'", name)
		}
		if parts[0] != "file" {
			return "", fmt.Errorf("unknown protocol '%s'", parts[0])
		}
		bs, err := ioutil.ReadFile(filepath.Join(dir, parts[1]))
		if err != nil {
			return "", err
		}
		return string(bs), nil
	}
}

func MakeMapLibraryProvider(srcs map[string]string) Provider {
	return func(ctx context.Context, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library '%s'", name)
		}
		return src, nil
	}
}

// InlineRequires replaces top-level require("NAME") statements with
// the source the provider gives for NAME.
//
// Inlining (rather than a runtime require()) lets a script with its
// libraries compile once.
func InlineRequires(ctx context.Context, src string, provider Provider) (string, error) {

	// Scripts can "return", so parse them as Compile sees them.
	wrapped := wrapSrc(src)
	offset := strings.Index(wrapped, src)

	p, err := parser.ParseFile(nil, "", wrapped, 0)
	if err != nil {
		return "", err
	}
	body, err := scriptBody(p)
	if err != nil {
		// Try the source as a plain program.
		if p, err = parser.ParseFile(nil, "", src, 0); err != nil {
			return "", err
		}
		body, offset = p.Body, 0
	}

	type Required struct {
		Idx0 int
		Idx1 int
		Name string
	}

	requires := make([]Required, 0, 8)

	for _, s := range body {
		exps, is := s.(*ast.ExpressionStatement)
		if !is {
			continue
		}

		call, is := exps.Expression.(*ast.CallExpression)
		if !is {
			continue
		}

		id, is := call.Callee.(*ast.Identifier)
		if !is || id.Name != "require" {
			continue
		}
		if len(call.ArgumentList) != 1 {
			return "", fmt.Errorf("bad require args: %#v", call.ArgumentList)
		}

		lit, is := call.ArgumentList[0].(*ast.StringLiteral)
		if !is {
			return "", fmt.Errorf("bad require arg: %#v", call.ArgumentList[0])
		}

		requires = append(requires, Required{
			// ast positions are 1-based.
			Idx0: int(exps.Idx0()) - 1 - offset,
			Idx1: int(exps.Idx1()) - 1 - offset,
			Name: string(lit.Value),
		})
	}

	if len(requires) == 0 {
		return src, nil
	}

	var b strings.Builder
	at := 0
	for _, r := range requires {
		b.WriteString(src[at:r.Idx0])
		lib, err := provider(ctx, r.Name)
		if err != nil {
			return "", err
		}
		b.WriteString(lib)
		b.WriteString("\n")
		at = r.Idx1
		if at < len(src) && src[at] == ';' {
			at++
		}
	}
	b.WriteString(src[at:])

	return b.String(), nil
}

// scriptBody finds the statements inside the wrapper function.
func scriptBody(p *ast.Program) ([]ast.Statement, error) {
	if len(p.Body) != 1 {
		return nil, fmt.Errorf("unexpected program shape")
	}
	exps, is := p.Body[0].(*ast.ExpressionStatement)
	if !is {
		return nil, fmt.Errorf("unexpected program shape")
	}
	call, is := exps.Expression.(*ast.CallExpression)
	if !is {
		return nil, fmt.Errorf("unexpected program shape")
	}
	f, is := call.Callee.(*ast.FunctionLiteral)
	if !is {
		return nil, fmt.Errorf("unexpected program shape")
	}
	return f.Body.List, nil
}

// CompileWithRequires inlines requires and then compiles.
func CompileWithRequires(ctx context.Context, name, src string, provider Provider) (*Script, error) {
	inlined, err := InlineRequires(ctx, src, provider)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return Compile(name, inlined)
}
