package expr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultOps is the whitelist of operators.  An "op" name not in this
// table is a hard UnknownOperator error.
var DefaultOps map[string]Op

// DefaultOps is populated in init to avoid an initialization cycle
// (ops like opFind call Evaluator.eval, which falls back to DefaultOps).
func init() {
	DefaultOps = map[string]Op{
		// Data access
		"get": opGet,

		// Comparison
		"eq":  opEq,
		"neq": opNeq,
		"gt":  compareOp("gt", func(c int) bool { return 0 < c }),
		"gte": compareOp("gte", func(c int) bool { return 0 <= c }),
		"lt":  compareOp("lt", func(c int) bool { return c < 0 }),
		"lte": compareOp("lte", func(c int) bool { return c <= 0 }),

		// Logic (short-circuiting)
		"and": opAnd,
		"or":  opOr,
		"not": opNot,

		// Control flow
		"if":     opIf,
		"switch": opSwitch,

		// Strings
		"concat":      opConcat,
		"trim":        stringOp("trim", strings.TrimSpace),
		"toUpperCase": stringOp("toUpperCase", strings.ToUpper),
		"toLowerCase": stringOp("toLowerCase", strings.ToLower),

		// Arrays
		"length":   opLength,
		"includes": opIncludes,
		"map":      opMap,
		"filter":   opFilter,
		"find":     opFind,

		// Arithmetic
		"add":      opAdd,
		"subtract": opSubtract,
		"multiply": opMultiply,
		"divide":   opDivide,
	}
}

func opGet(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	vs, err := argN(e, "get", args, scope, depth, 2)
	if err != nil {
		return nil, err
	}
	path, is := vs[1].(string)
	if !is {
		return nil, &BadArgs{Op: "get", Reason: "path is not a string"}
	}
	return FollowPath(vs[0], path, "value")
}

func opEq(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	vs, err := argN(e, "eq", args, scope, depth, 2)
	if err != nil {
		return nil, err
	}
	return Equal(vs[0], vs[1]), nil
}

func opNeq(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	vs, err := argN(e, "neq", args, scope, depth, 2)
	if err != nil {
		return nil, err
	}
	return !Equal(vs[0], vs[1]), nil
}

func compareOp(name string, pass func(int) bool) Op {
	return func(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
		vs, err := argN(e, name, args, scope, depth, 2)
		if err != nil {
			return nil, err
		}
		c, err := compare(name, vs[0], vs[1])
		if err != nil {
			return nil, err
		}
		return pass(c), nil
	}
}

// compare orders two numbers or two strings.
func compare(op string, a, b interface{}) (int, error) {
	if an, is := asNumber(a); is {
		bn, is := asNumber(b)
		if !is {
			return 0, &BadArgs{Op: op, Reason: "mixed argument types"}
		}
		switch {
		case an < bn:
			return -1, nil
		case bn < an:
			return 1, nil
		}
		return 0, nil
	}
	if as, is := a.(string); is {
		if bs, is := b.(string); is {
			return strings.Compare(as, bs), nil
		}
		return 0, &BadArgs{Op: op, Reason: "mixed argument types"}
	}
	return 0, &BadArgs{Op: op, Reason: "arguments are not comparable"}
}

func opAnd(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	for _, a := range args {
		v, err := e.eval(a, scope, depth)
		if err != nil {
			return nil, err
		}
		if !Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func opOr(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	for _, a := range args {
		v, err := e.eval(a, scope, depth)
		if err != nil {
			return nil, err
		}
		if Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func opNot(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	vs, err := argN(e, "not", args, scope, depth, 1)
	if err != nil {
		return nil, err
	}
	return !Truthy(vs[0]), nil
}

func opIf(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	if len(args) < 2 || 3 < len(args) {
		return nil, &BadArgs{Op: "if", Reason: "want condition, then, and optional else"}
	}
	cond, err := e.eval(args[0], scope, depth)
	if err != nil {
		return nil, err
	}
	if Truthy(cond) {
		return e.eval(args[1], scope, depth)
	}
	if len(args) == 3 {
		return e.eval(args[2], scope, depth)
	}
	return nil, nil
}

// opSwitch takes a discriminant, a literal object mapping discriminant
// strings to (unevaluated) case expressions, and an optional default
// expression.
func opSwitch(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	if len(args) < 2 || 3 < len(args) {
		return nil, &BadArgs{Op: "switch", Reason: "want discriminant, cases, and optional default"}
	}
	disc, err := e.eval(args[0], scope, depth)
	if err != nil {
		return nil, err
	}
	cases, is := args[1].(map[string]interface{})
	if !is {
		return nil, &BadArgs{Op: "switch", Reason: "cases is not an object"}
	}
	if c, have := cases[Stringify(disc)]; have {
		return e.eval(c, scope, depth)
	}
	if len(args) == 3 {
		return e.eval(args[2], scope, depth)
	}
	return nil, nil
}

func opConcat(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	vs, err := e.evalAll(args, scope, depth)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, v := range vs {
		b.WriteString(Stringify(v))
	}
	return b.String(), nil
}

func stringOp(name string, f func(string) string) Op {
	return func(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
		vs, err := argN(e, name, args, scope, depth, 1)
		if err != nil {
			return nil, err
		}
		s, is := vs[0].(string)
		if !is {
			return nil, &BadArgs{Op: name, Reason: "argument is not a string"}
		}
		return f(s), nil
	}
}

func opLength(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	vs, err := argN(e, "length", args, scope, depth, 1)
	if err != nil {
		return nil, err
	}
	switch vv := vs[0].(type) {
	case nil:
		return float64(0), nil
	case string:
		return float64(len(vv)), nil
	case []interface{}:
		return float64(len(vv)), nil
	case map[string]interface{}:
		return float64(len(vv)), nil
	}
	return nil, &BadArgs{Op: "length", Reason: "argument has no length"}
}

func opIncludes(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	vs, err := argN(e, "includes", args, scope, depth, 2)
	if err != nil {
		return nil, err
	}
	switch vv := vs[0].(type) {
	case string:
		s, is := vs[1].(string)
		if !is {
			return nil, &BadArgs{Op: "includes", Reason: "needle is not a string"}
		}
		return strings.Contains(vv, s), nil
	case []interface{}:
		for _, x := range vv {
			if Equal(x, vs[1]) {
				return true, nil
			}
		}
		return false, nil
	case nil:
		return false, nil
	}
	return nil, &BadArgs{Op: "includes", Reason: "argument is not an array or string"}
}

func iterArg(e *Evaluator, name string, args []interface{}, scope Scope, depth int) ([]interface{}, error) {
	if len(args) != 2 {
		return nil, &BadArgs{Op: name, Reason: "want an array and a per-item expression"}
	}
	v, err := e.eval(args[0], scope, depth)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	xs, is := v.([]interface{})
	if !is {
		return nil, &BadArgs{Op: name, Reason: "argument is not an array"}
	}
	return xs, nil
}

func opMap(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	xs, err := iterArg(e, "map", args, scope, depth)
	if err != nil {
		return nil, err
	}
	acc := make([]interface{}, 0, len(xs))
	for _, x := range xs {
		v, err := e.eval(args[1], scope.With(ScopeItem, x), depth)
		if err != nil {
			return nil, err
		}
		acc = append(acc, v)
	}
	return acc, nil
}

func opFilter(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	xs, err := iterArg(e, "filter", args, scope, depth)
	if err != nil {
		return nil, err
	}
	acc := make([]interface{}, 0, len(xs))
	for _, x := range xs {
		v, err := e.eval(args[1], scope.With(ScopeItem, x), depth)
		if err != nil {
			return nil, err
		}
		if Truthy(v) {
			acc = append(acc, x)
		}
	}
	return acc, nil
}

// opFind takes an array and an optional {"where":GUARD,"return":PROJ}
// object.  Without a "where", the first element matches.  Without a
// "return", the matched element itself is the result.
func opFind(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	if len(args) < 1 || 2 < len(args) {
		return nil, &BadArgs{Op: "find", Reason: "want an array and an optional where/return object"}
	}
	v, err := e.eval(args[0], scope, depth)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	xs, is := v.([]interface{})
	if !is {
		return nil, &BadArgs{Op: "find", Reason: "argument is not an array"}
	}

	var where, ret interface{}
	if len(args) == 2 {
		spec, is := args[1].(map[string]interface{})
		if !is {
			return nil, &BadArgs{Op: "find", Reason: "second argument is not an object"}
		}
		where = spec["where"]
		ret = spec["return"]
	}

	for _, x := range xs {
		s := scope.With(ScopeItem, x)
		if where != nil {
			g, err := e.eval(where, s, depth)
			if err != nil {
				return nil, err
			}
			if !Truthy(g) {
				continue
			}
		}
		if ret == nil {
			return x, nil
		}
		return e.eval(ret, s, depth)
	}
	return nil, nil
}

func numbersArg(e *Evaluator, name string, args []interface{}, scope Scope, depth int, exactly int) ([]float64, error) {
	if exactly != 0 && len(args) != exactly {
		return nil, &BadArgs{Op: name, Reason: fmt.Sprintf("want %d arguments", exactly)}
	}
	if exactly == 0 && len(args) == 0 {
		return nil, &BadArgs{Op: name, Reason: "want at least one argument"}
	}
	vs, err := e.evalAll(args, scope, depth)
	if err != nil {
		return nil, err
	}
	ns := make([]float64, len(vs))
	for i, v := range vs {
		n, is := asNumber(v)
		if !is {
			return nil, &BadArgs{Op: name, Reason: "argument is not a number"}
		}
		ns[i] = n
	}
	return ns, nil
}

func opAdd(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	ns, err := numbersArg(e, "add", args, scope, depth, 0)
	if err != nil {
		return nil, err
	}
	acc := 0.0
	for _, n := range ns {
		acc += n
	}
	return acc, nil
}

func opSubtract(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	ns, err := numbersArg(e, "subtract", args, scope, depth, 2)
	if err != nil {
		return nil, err
	}
	return ns[0] - ns[1], nil
}

func opMultiply(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	ns, err := numbersArg(e, "multiply", args, scope, depth, 0)
	if err != nil {
		return nil, err
	}
	acc := 1.0
	for _, n := range ns {
		acc *= n
	}
	return acc, nil
}

func opDivide(e *Evaluator, args []interface{}, scope Scope, depth int) (interface{}, error) {
	ns, err := numbersArg(e, "divide", args, scope, depth, 2)
	if err != nil {
		return nil, err
	}
	if ns[1] == 0 {
		return nil, DivisionByZero
	}
	return ns[0] / ns[1], nil
}

func argN(e *Evaluator, name string, args []interface{}, scope Scope, depth int, n int) ([]interface{}, error) {
	if len(args) != n {
		return nil, &BadArgs{Op: name, Reason: fmt.Sprintf("want %d arguments, got %d", n, len(args))}
	}
	return e.evalAll(args, scope, depth)
}

// asNumber coerces the numeric types that JSON decoding and Go
// callers produce.
func asNumber(x interface{}) (float64, bool) {
	switch vv := x.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case json.Number:
		f, err := vv.Float64()
		return f, err == nil
	}
	return 0, false
}

// Equal is deep equality over JSON-shaped values, with all numeric
// types compared by value.
func Equal(a, b interface{}) bool {
	if an, is := asNumber(a); is {
		bn, is := asNumber(b)
		return is && an == bn
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, is := b.(bool)
		return is && av == bv
	case string:
		bv, is := b.(string)
		return is && av == bv
	case []interface{}:
		bv, is := b.([]interface{})
		if !is || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, is := b.(map[string]interface{})
		if !is || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, have := bv[k]
			if !have || !Equal(x, y) {
				return false
			}
		}
		return true
	}
	return false
}

// Stringify renders a value for concat and switch discriminants.
func Stringify(x interface{}) string {
	switch vv := x.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		if vv {
			return "true"
		}
		return "false"
	}
	if n, is := asNumber(x); is {
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return fmt.Sprintf("%v", x)
	}
	return string(js)
}
