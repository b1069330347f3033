package expr

import (
	"errors"
	"testing"

	. "github.com/loomworks/loom/util/testutil"
)

func testScope() Scope {
	return Scope{
		ScopeContext: Dwimjs(`{"selectedId":"abc","count":2,"empty":"","user":{"name":"Homer"},"none":null}`),
		ScopeEvent:   Dwimjs(`{"text":"tacos"}`),
	}
}

func TestEvalLiterals(t *testing.T) {
	for _, x := range []interface{}{
		nil,
		true,
		float64(42),
		"queso",
		Dwimjs(`{"plain":"object"}`),
		Dwimjs(`[1,2,3]`),
	} {
		v, err := Eval(x, testScope())
		if err != nil {
			t.Fatal(err)
		}
		if !Equal(x, v) {
			t.Fatalf("wanted %s, got %s", JS(x), JS(v))
		}
	}
}

func TestEvalRefs(t *testing.T) {
	s := testScope()

	v, err := Eval("$selectedId", s)
	if err != nil {
		t.Fatal(err)
	}
	if v != "abc" {
		t.Fatalf("got %s", JS(v))
	}

	if v, err = Eval("$user.name", s); err != nil {
		t.Fatal(err)
	}
	if v != "Homer" {
		t.Fatalf("got %s", JS(v))
	}

	if v, err = Eval("$event.text", s); err != nil {
		t.Fatal(err)
	}
	if v != "tacos" {
		t.Fatalf("got %s", JS(v))
	}

	if v, err = Eval(Dwimjs(`{"ref":"user.name"}`), s); err != nil {
		t.Fatal(err)
	}
	if v != "Homer" {
		t.Fatalf("got %s", JS(v))
	}

	// A present key with a null value is null, not an error.
	if v, err = Eval("$none", s); err != nil || v != nil {
		t.Fatalf("got %s, %v", JS(v), err)
	}

	// "$$" escapes a literal dollar sign.
	if v, err = Eval("$$selectedId", s); err != nil || v != "$selectedId" {
		t.Fatalf("got %s, %v", JS(v), err)
	}
}

func TestEvalMissingBinding(t *testing.T) {
	_, err := Eval("$nothing.here", testScope())
	var missing *MissingBinding
	if !errors.As(err, &missing) {
		t.Fatalf("wanted MissingBinding, got %v", err)
	}

	_, err = Eval("$item", testScope())
	if !errors.As(err, &missing) {
		t.Fatalf("wanted MissingBinding, got %v", err)
	}
}

func TestEvalUnknownOperator(t *testing.T) {
	_, err := Eval(Dwimjs(`{"op":"launchMissiles","args":[]}`), testScope())
	var unknown *UnknownOperator
	if !errors.As(err, &unknown) {
		t.Fatalf("wanted UnknownOperator, got %v", err)
	}
	if unknown.Op != "launchMissiles" {
		t.Fatal(unknown.Op)
	}
}

func TestEvalDepthLimit(t *testing.T) {
	x := interface{}("$count")
	for i := 0; i < 100; i++ {
		x = map[string]interface{}{
			"op":   "not",
			"args": []interface{}{x},
		}
	}
	_, err := Eval(x, testScope())
	var deep *DepthExceeded
	if !errors.As(err, &deep) {
		t.Fatalf("wanted DepthExceeded, got %v", err)
	}

	// A roomier evaluator is fine with the same tree.
	e := &Evaluator{MaxDepth: 200}
	if _, err := e.Eval(x, testScope()); err != nil {
		t.Fatal(err)
	}
}

func TestTruthy(t *testing.T) {
	for _, x := range []interface{}{nil, false, float64(0), ""} {
		if Truthy(x) {
			t.Fatalf("%s should be falsy", JS(x))
		}
	}
	for _, x := range []interface{}{true, float64(1), "x", Dwimjs(`[]`), Dwimjs(`{}`)} {
		if !Truthy(x) {
			t.Fatalf("%s should be truthy", JS(x))
		}
	}
}

func TestIsExpression(t *testing.T) {
	for _, x := range []interface{}{
		"$selectedId",
		Dwimjs(`{"op":"add","args":[1,2]}`),
		Dwimjs(`{"ref":"a"}`),
		Dwimjs(`{"nested":{"deep":"$x"}}`),
		Dwimjs(`[1,{"op":"not","args":[true]}]`),
	} {
		if !IsExpression(x) {
			t.Fatalf("%s should look like an expression", JS(x))
		}
	}
	for _, x := range []interface{}{
		nil,
		"plain",
		"$$escaped",
		float64(3),
		Dwimjs(`{"id":"abc","n":1}`),
		Dwimjs(`["a","b"]`),
	} {
		if IsExpression(x) {
			t.Fatalf("%s should not look like an expression", JS(x))
		}
	}
}

func TestReferences(t *testing.T) {
	x := Dwimjs(`{"op":"and","args":[
                   {"op":"eq","args":["$selectedId","abc"]},
                   {"op":"gt","args":["$user.age",21]},
                   {"op":"eq","args":["$item.title","$selectedId"]}]}`)
	refs := References(x)
	want := []string{"selectedId", "user.age"}
	if len(refs) != len(want) {
		t.Fatalf("got %s", JS(refs))
	}
	for i, p := range want {
		if refs[i] != p {
			t.Fatalf("got %s", JS(refs))
		}
	}
}
