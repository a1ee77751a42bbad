// Package template compiles "{{ path.expression }}" interpolation
// templates into a single rules/ir.Expr at configuration load time, so
// rendering at dispatch time is just an Eval call — no per-render
// parsing.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/acteon-dev/acteon/internal/rules/ir"
)

var interpRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]]+)\s*\}\}`)

// Compile parses a template string into an Expr. A template with no
// interpolations compiles to a pure String literal; one with
// interpolations compiles to a left-associative Binary(Add, ...) chain of
// literal and field-path segments, so rendering is just Eval +
// DisplayString. A malformed interpolation (unbalanced "{{"/"}}") fails
// at compile time rather than at render time.
func Compile(tmpl string) (ir.Expr, error) {
	if err := checkBalanced(tmpl); err != nil {
		return ir.Expr{}, err
	}

	matches := interpRe.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return ir.StringLit(tmpl), nil
	}

	var parts []ir.Expr
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		pathStart, pathEnd := m[2], m[3]
		if start > last {
			parts = append(parts, ir.StringLit(tmpl[last:start]))
		}
		path := tmpl[pathStart:pathEnd]
		parts = append(parts, pathExpr(path))
		last = end
	}
	if last < len(tmpl) {
		parts = append(parts, ir.StringLit(tmpl[last:]))
	}

	result := parts[0]
	for _, p := range parts[1:] {
		result = ir.Binary(ir.OpAdd, result, p)
	}
	return result, nil
}

// pathExpr compiles a dotted field path (e.g. "action.payload.host" or
// "env.region") into chained Field expressions rooted at the matching
// identifier.
func pathExpr(path string) ir.Expr {
	segs := strings.Split(path, ".")
	if len(segs) == 1 && strings.HasPrefix(segs[0], "env") {
		return ir.Ident(path)
	}
	root := ir.Ident(segs[0])
	expr := root
	for _, s := range segs[1:] {
		expr = ir.Field(expr, s)
	}
	return expr
}

func checkBalanced(tmpl string) error {
	open := strings.Count(tmpl, "{{")
	closeCount := strings.Count(tmpl, "}}")
	if open != closeCount {
		return fmt.Errorf("template: unbalanced interpolation braces in %q", tmpl)
	}
	return nil
}
