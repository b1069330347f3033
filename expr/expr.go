// Package expr implements the sandboxed expression evaluator.
//
// An expression is a tagged JSON value: a literal, a reference into a
// named scope, or an operator node {"op":NAME,"args":[...]}.  Every
// operator is whitelisted by name, and evaluation never executes
// host-language code from the expression tree.  A plain object that
// isn't a recognized expression shape passes through as a literal.
package expr

import "strings"

var (
	// DefaultMaxDepth limits expression tree depth during
	// evaluation.  Evaluation past the limit fails closed with a
	// DepthExceeded error (never silent truncation).
	DefaultMaxDepth = 50

	// DefaultEvaluator is used by the package-level Eval.
	DefaultEvaluator = &Evaluator{}
)

// Standard scope names.
//
// An evaluation scope provides at least the enclosing "context" and,
// inside iteration constructs, the current "item".  Guards and
// actions also see the triggering "event".
const (
	ScopeContext = "context"
	ScopeItem    = "item"
	ScopeEvent   = "event"
)

// Scope maps scope names (see ScopeContext and friends) to their
// documents.
type Scope map[string]interface{}

// NewScope makes a Scope with the given context document.
func NewScope(ctx map[string]interface{}) Scope {
	return Scope{ScopeContext: ctx}
}

// With returns a copy of the Scope with an additional binding.
//
// The receiver is not modified, so nested iteration constructs get
// their own "item" without clobbering the enclosing one.
func (s Scope) With(name string, doc interface{}) Scope {
	acc := make(Scope, len(s)+1)
	for k, v := range s {
		acc[k] = v
	}
	acc[name] = doc
	return acc
}

// Op evaluates an operator node.  An Op receives its arguments
// unevaluated so that control-flow operators can short-circuit.
type Op func(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error)

// Evaluator evaluates expressions.
//
// The zero value uses DefaultMaxDepth and DefaultOps.
type Evaluator struct {
	// MaxDepth overrides DefaultMaxDepth when positive.
	MaxDepth int

	// Ops overrides DefaultOps when not nil.  See RegisterOp for
	// extending DefaultOps instead.
	Ops map[string]Op
}

func (e *Evaluator) maxDepth() int {
	if e != nil && 0 < e.MaxDepth {
		return e.MaxDepth
	}
	return DefaultMaxDepth
}

func (e *Evaluator) ops() map[string]Op {
	if e != nil && e.Ops != nil {
		return e.Ops
	}
	return DefaultOps
}

// Eval evaluates x with the DefaultEvaluator.
func Eval(x interface{}, scope Scope) (interface{}, error) {
	return DefaultEvaluator.Eval(x, scope)
}

// Eval evaluates the expression x against the given scope.
//
// Eval is synchronous and total over valid input: it returns either a
// value or a typed error (UnknownOperator, MissingBinding,
// DepthExceeded, BadArgs, DivisionByZero).  Callers can distinguish
// "evaluated to falsy" from "could not evaluate".
func (e *Evaluator) Eval(x interface{}, scope Scope) (interface{}, error) {
	return e.eval(x, scope, 0)
}

func (e *Evaluator) eval(x interface{}, scope Scope, depth int) (interface{}, error) {
	if e.maxDepth() <= depth {
		return nil, &DepthExceeded{Limit: e.maxDepth()}
	}

	switch vv := x.(type) {
	case string:
		if lit, is := escapedDollar(vv); is {
			return lit, nil
		}
		if sc, path, is := RefShorthand(vv); is {
			return e.lookup(scope, sc, path)
		}
		return vv, nil
	case map[string]interface{}:
		if x, have := vv["op"]; have {
			name, is := x.(string)
			if !is {
				return nil, &BadArgs{Op: "?", Reason: `"op" is not a string`}
			}
			f, have := e.ops()[name]
			if !have {
				return nil, &UnknownOperator{Op: name}
			}
			args, _ := vv["args"].([]interface{})
			return f(e, args, scope, depth+1)
		}
		if x, have := vv["ref"]; have {
			path, is := x.(string)
			if !is {
				return nil, &BadArgs{Op: "ref", Reason: `"ref" is not a string`}
			}
			sc, _ := vv["scope"].(string)
			if sc == "" {
				sc = ScopeContext
			}
			return e.lookup(scope, sc, path)
		}
		// Not a recognized expression shape, so it's a literal.
		return vv, nil
	default:
		return x, nil
	}
}

// evalAll evaluates each of the given arguments.
func (e *Evaluator) evalAll(args []interface{}, scope Scope, depth int) ([]interface{}, error) {
	acc := make([]interface{}, len(args))
	for i, a := range args {
		v, err := e.eval(a, scope, depth)
		if err != nil {
			return nil, err
		}
		acc[i] = v
	}
	return acc, nil
}

func (e *Evaluator) lookup(scope Scope, sc, path string) (interface{}, error) {
	doc, have := scope[sc]
	if !have {
		return nil, &MissingBinding{Scope: sc, Path: path}
	}
	return FollowPath(doc, path, sc)
}

// FollowPath walks a dotted path through nested string-keyed maps.
//
// A dangling reference is a MissingBinding error, not a silent nil; a
// present key with a null value is just null.
func FollowPath(doc interface{}, path, scope string) (interface{}, error) {
	if path == "" {
		return doc, nil
	}
	at := doc
	for _, p := range strings.Split(path, ".") {
		m, is := at.(map[string]interface{})
		if !is {
			return nil, &MissingBinding{Scope: scope, Path: path}
		}
		v, have := m[p]
		if !have {
			return nil, &MissingBinding{Scope: scope, Path: path}
		}
		at = v
	}
	return at, nil
}

// RefShorthand reports whether s is a "$PATH" scope reference and, if
// so, returns the scope name and the path within it.
//
// "$selectedId" references the context; "$item.title" and
// "$event.text" reference the current item and event.  "$$" escapes a
// literal leading dollar sign.
func RefShorthand(s string) (scope, path string, is bool) {
	if !strings.HasPrefix(s, "$") || strings.HasPrefix(s, "$$") {
		return "", "", false
	}
	p := s[1:]
	if p == "" {
		return "", "", false
	}
	for _, sc := range []string{ScopeItem, ScopeEvent} {
		if p == sc {
			return sc, "", true
		}
		if strings.HasPrefix(p, sc+".") {
			return sc, p[len(sc)+1:], true
		}
	}
	return ScopeContext, p, true
}

func escapedDollar(s string) (string, bool) {
	if strings.HasPrefix(s, "$$") {
		return s[1:], true
	}
	return "", false
}

// IsExpression reports whether x contains expression syntax anywhere:
// an operator node, a "ref" node, or a "$" reference shorthand.
//
// The mailbox boundary uses this check to reject payloads that still
// contain unresolved expressions.
func IsExpression(x interface{}) bool {
	switch vv := x.(type) {
	case string:
		_, _, is := RefShorthand(vv)
		return is
	case map[string]interface{}:
		if _, have := vv["op"]; have {
			return true
		}
		if _, have := vv["ref"]; have {
			return true
		}
		for _, v := range vv {
			if IsExpression(v) {
				return true
			}
		}
	case []interface{}:
		for _, v := range vv {
			if IsExpression(v) {
				return true
			}
		}
	}
	return false
}

// Truthy gives the boolean interpretation of a value: null, false,
// zero, and the empty string are falsy; everything else (including
// empty arrays and objects) is truthy.
func Truthy(x interface{}) bool {
	switch vv := x.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != ""
	default:
		if n, is := asNumber(x); is {
			return n != 0
		}
		return true
	}
}
