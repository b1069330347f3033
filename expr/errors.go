package expr

// These errors are evaluation errors, not internal errors.  A guard
// that hits one of these downgrades to "guard fails"; an action that
// hits one aborts its action list.

import (
	"errors"
	"strconv"
)

// UnknownOperator occurs when an operator node names an "op" that is
// not in the whitelist.
type UnknownOperator struct {
	Op string
}

func (e *UnknownOperator) Error() string {
	return `unknown operator "` + e.Op + `"`
}

// MissingBinding occurs when a reference points at a scope or path
// that isn't bound.
type MissingBinding struct {
	Scope string
	Path  string
}

func (e *MissingBinding) Error() string {
	return `no binding for "` + e.Path + `" in scope "` + e.Scope + `"`
}

// DepthExceeded occurs when an expression tree is deeper than the
// evaluator's limit.
type DepthExceeded struct {
	Limit int
}

func (e *DepthExceeded) Error() string {
	return "expression depth limit (" + strconv.Itoa(e.Limit) + ") exceeded"
}

// BadArgs occurs when an operator gets arguments of the wrong number
// or type.
type BadArgs struct {
	Op     string
	Reason string
}

func (e *BadArgs) Error() string {
	return `bad arguments for "` + e.Op + `": ` + e.Reason
}

// DivisionByZero occurs when divide gets a zero divisor.
var DivisionByZero = errors.New("division by zero")
