// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package admission implements the static gate every artifact passes before
// it is trusted. The gate parses the source and walks its syntax tree; it
// never executes or evaluates the candidate.
//
// Only calls whose callee is a bare identifier are checked. Qualified calls
// such as x.eval() or exec.Command() are not matched by the call rule.
package admission

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jllopis/warden/pkg/errors"
)

// Kind classifies a violation.
type Kind string

const (
	KindForbiddenImport Kind = "ForbiddenImport"
	KindForbiddenCall   Kind = "ForbiddenCall"
	KindParseError      Kind = "ParseError"
)

// Position locates a violation in the artifact.
type Position struct {
	Filename string `json:"filename,omitempty"`
	Offset   int    `json:"offset"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

func (p Position) String() string {
	if p.Line == 0 {
		return p.Filename
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// Violation is a single policy breach.
type Violation struct {
	Kind     Kind     `json:"kind"`
	Detail   string   `json:"detail"`
	Root     string   `json:"root,omitempty"`
	Position Position `json:"position"`
}

// String renders the violation as Kind:Detail.
func (v Violation) String() string {
	return string(v.Kind) + ":" + v.Detail
}

// Verdict is the outcome of an inspection. An artifact is rejected iff
// Violations is non-empty.
type Verdict struct {
	Accepted   bool        `json:"accepted"`
	Violations []Violation `json:"violations,omitempty"`
}

// Summary joins the violations for logs and CLI output.
func (v Verdict) Summary() string {
	if v.Accepted {
		return "accepted"
	}
	parts := make([]string, 0, len(v.Violations))
	for _, violation := range v.Violations {
		parts = append(parts, violation.String())
	}
	return strings.Join(parts, ", ")
}

// Err converts a rejection into a WardenError. It returns nil when accepted.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	code := errors.CodePolicyViolation
	if len(v.Violations) > 0 && v.Violations[0].Kind == KindParseError {
		code = errors.CodeParseError
	}
	return errors.New(code, "artifact rejected: "+v.Summary(), nil).
		WithContext("violations", v.Violations)
}

// Gate inspects artifacts against a policy that may be swapped at runtime.
type Gate struct {
	policy atomic.Pointer[Policy]
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate creates a gate enforcing policy.
func NewGate(policy Policy, opts ...GateOption) *Gate {
	g := &Gate{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.SetPolicy(policy)
	return g
}

// Policy returns the active policy.
func (g *Gate) Policy() Policy {
	return *g.policy.Load()
}

// SetPolicy atomically replaces the active policy. Inspections already in
// flight finish with the policy they started with.
func (g *Gate) SetPolicy(policy Policy) {
	p := policy.normalize()
	g.policy.Store(&p)
	g.logger.Info("admission.policy.set",
		slog.Int("forbidden_imports", len(p.ForbiddenImports)),
		slog.Int("forbidden_calls", len(p.ForbiddenCalls)),
	)
}

// Inspect vets source against the active policy.
func (g *Gate) Inspect(source []byte) Verdict {
	return Inspect(g.Policy(), "artifact.go", source)
}

// InspectNamed vets source and reports positions against filename.
func (g *Gate) InspectNamed(filename string, source []byte) Verdict {
	return Inspect(g.Policy(), filename, source)
}

// InspectFile reads and vets the artifact at path. Read failures are
// reported as a ParseError rejection.
func (g *Gate) InspectFile(path string) Verdict {
	source, err := os.ReadFile(path)
	if err != nil {
		return rejectParse(path, err)
	}
	return Inspect(g.Policy(), path, source)
}

// Inspect vets source against policy. The result is deterministic for a
// given policy and source.
func Inspect(policy Policy, filename string, source []byte) Verdict {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, source, parser.SkipObjectResolution)
	if err != nil {
		return rejectParse(filename, err)
	}

	var violations []Violation
	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.ImportSpec:
			importPath, err := strconv.Unquote(node.Path.Value)
			if err != nil {
				importPath = node.Path.Value
			}
			if root, forbidden := policy.ForbidsImport(importPath); forbidden {
				violations = append(violations, Violation{
					Kind:     KindForbiddenImport,
					Detail:   importPath,
					Root:     root,
					Position: position(fset, node.Pos()),
				})
			}
		case *ast.CallExpr:
			if ident, ok := calleeIdent(node.Fun); ok && policy.ForbidsCall(ident.Name) {
				violations = append(violations, Violation{
					Kind:     KindForbiddenCall,
					Detail:   ident.Name,
					Position: position(fset, ident.Pos()),
				})
			}
		}
		return true
	})

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Position.Offset < violations[j].Position.Offset
	})
	return Verdict{Accepted: len(violations) == 0, Violations: violations}
}

// calleeIdent unwraps parentheses and generic instantiation around a bare
// identifier callee. Selector expressions are not unwrapped.
func calleeIdent(fun ast.Expr) (*ast.Ident, bool) {
	for {
		switch expr := fun.(type) {
		case *ast.Ident:
			return expr, true
		case *ast.ParenExpr:
			fun = expr.X
		case *ast.IndexExpr:
			fun = expr.X
		case *ast.IndexListExpr:
			fun = expr.X
		default:
			return nil, false
		}
	}
}

func position(fset *token.FileSet, pos token.Pos) Position {
	p := fset.Position(pos)
	return Position{Filename: p.Filename, Offset: p.Offset, Line: p.Line, Column: p.Column}
}

func rejectParse(filename string, err error) Verdict {
	return Verdict{
		Accepted: false,
		Violations: []Violation{{
			Kind:     KindParseError,
			Detail:   err.Error(),
			Position: Position{Filename: filename},
		}},
	}
}
