// Package validator decides whether a breakpoint condition or watch
// expression is side-effect free and therefore safe to evaluate.
//
// Expressions are parsed with github.com/expr-lang/expr, whose grammar
// is expression-only: no assignment, no declarations, no control-flow
// statements, no increment/decrement operators. What's left to police by
// walking the AST is closures/predicates (the substitute for
// arrow/anonymous functions) and calls whose callee isn't in a fixed
// read-only allowlist.
package validator

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// AllowedCall is the set of read-only intrinsics an expression may call
// by name. A call is permitted only if its callee name appears here.
type AllowedCall map[string]bool

// DefaultAllowedCalls are the intrinsics the capture engine registers as
// safe: pure, side-effect-free helpers over already-captured values.
var DefaultAllowedCalls = AllowedCall{
	"len":    true,
	"string": true,
	"int":    true,
	"float":  true,
}

// Result is the outcome of validating one expression.
type Result struct {
	Tree *ast.Node // nil if parsing failed
	Err  error      // parse error or first disallowed-construct error
}

// Validate parses expr and walks the resulting AST rejecting any
// mutation-capable construct. A non-nil Result.Err means the expression
// must not be evaluated; Result.Tree is non-nil only on success.
func Validate(expr string, allowed AllowedCall) Result {
	tree, err := parser.Parse(expr)
	if err != nil {
		return Result{Err: fmt.Errorf("parse error: %w", err)}
	}

	v := &visitor{allowed: allowed}
	ast.Walk(&tree.Node, v)
	if v.err != nil {
		return Result{Err: v.err}
	}

	return Result{Tree: &tree.Node}
}

// IsUnconditional reports whether a condition string should be treated
// as "always true": empty, "null", or a bare ";" are all unconditional,
// never parsed or evaluated.
func IsUnconditional(condition string) bool {
	switch condition {
	case "", "null", ";":
		return true
	default:
		return false
	}
}

type visitor struct {
	allowed AllowedCall
	err     error
}

func (v *visitor) Visit(node *ast.Node) {
	if v.err != nil || node == nil {
		return
	}

	switch n := (*node).(type) {
	case *ast.ClosureNode:
		v.reject("arrow/closure expressions are not allowed")
	case *ast.VariableDeclaratorNode:
		v.reject("variable declarations are not allowed")
	case *ast.BuiltinNode:
		// Calls to expr's builtins (len, string, ...) parse as
		// BuiltinNode, so the allowlist applies here too. Builtins like
		// filter/map/all/any take a closure argument and are never on it.
		if !v.allowed[n.Name] {
			v.reject(fmt.Sprintf("builtin %q is not allowed", n.Name))
		}
	case *ast.CallNode:
		name, ok := calleeName(n.Callee)
		if !ok || !v.allowed[name] {
			v.reject(fmt.Sprintf("call to %q is not allowed", name))
		}
	case *ast.UnaryNode:
		switch n.Operator {
		case "!", "-", "+", "not":
			// read-only
		default:
			v.reject(fmt.Sprintf("operator %q is not allowed", n.Operator))
		}
	}
}

func (v *visitor) reject(msg string) {
	if v.err == nil {
		v.err = fmt.Errorf("expression not allowed: %s", msg)
	}
}

func calleeName(node ast.Node) (string, bool) {
	id, ok := node.(*ast.IdentifierNode)
	if !ok {
		return "", false
	}
	return id.Value, true
}
