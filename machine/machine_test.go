package machine

import (
	"context"
	"errors"
	"testing"

	"github.com/loomworks/loom/expr"
	. "github.com/loomworks/loom/util/testutil"
)

// mapDoc is a trivial ContextDoc for tests.
type mapDoc map[string]interface{}

func (d mapDoc) Snapshot() map[string]interface{} {
	acc := make(map[string]interface{}, len(d))
	for k, v := range d {
		acc[k] = v
	}
	return acc
}

func (d mapDoc) Apply(changes map[string]interface{}) error {
	for k, v := range changes {
		d[k] = v
	}
	return nil
}

type handlerFunc func(ctx context.Context, name string, args map[string]interface{}) error

func (f handlerFunc) Execute(ctx context.Context, name string, args map[string]interface{}) error {
	return f(ctx, name, args)
}

func creatingDef() *Definition {
	return &Definition{
		Name:    "todos",
		Initial: "idle",
		States: map[string]*StateNode{
			"idle": {
				On: map[string]*Transition{
					"CREATE": {
						Target: "creating",
						Guard: Dwimjs(`{"op":"neq","args":["$event.text",""]}`),
						Actions: []*Action{
							{Update: map[string]interface{}{
								"draft": "$event.text",
							}},
						},
					},
				},
			},
			"creating": {
				On: map[string]*Transition{
					"SUCCESS": {Target: "idle"},
				},
			},
		},
	}
}

func TestSendGuardedTransition(t *testing.T) {
	m, err := New(creatingDef())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc := mapDoc{}

	// An empty text fails the guard: still idle, context
	// unchanged.
	step, err := m.Send(ctx, doc, "CREATE", Dwimjs(`{"text":""}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if step.Ignored != IgnoredGuard {
		t.Fatalf("got %s", JS(step))
	}
	if m.Current != "idle" || len(doc) != 0 {
		t.Fatalf("machine moved: %s %s", m.Current, JS(doc))
	}

	// A real text passes.
	if step, err = m.Send(ctx, doc, "CREATE", Dwimjs(`{"text":"tacos"}`), nil); err != nil {
		t.Fatal(err)
	}
	if step.To != "creating" || m.Current != "creating" {
		t.Fatalf("got %s", JS(step))
	}
	if doc["draft"] != "tacos" {
		t.Fatal(JS(doc))
	}

	if _, err = m.Send(ctx, doc, "SUCCESS", nil, nil); err != nil {
		t.Fatal(err)
	}
	if m.Current != "idle" {
		t.Fatal(m.Current)
	}
}

func TestSendUnhandledEvent(t *testing.T) {
	m, err := New(creatingDef())
	if err != nil {
		t.Fatal(err)
	}
	step, err := m.Send(context.Background(), mapDoc{}, "DELETE", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if step.Ignored != IgnoredUnhandled || m.Current != "idle" {
		t.Fatalf("got %s at %s", JS(step), m.Current)
	}
}

func TestSendOrdering(t *testing.T) {
	var order []string
	note := func(what string) *Action {
		return &Action{Name: "note", Args: map[string]interface{}{"what": what}}
	}

	def := &Definition{
		Name:    "order",
		Initial: "a",
		States: map[string]*StateNode{
			"a": {
				Exit: []*Action{note("exit-a")},
				On: map[string]*Transition{
					"GO": {
						Target:  "b",
						Actions: []*Action{note("inline")},
					},
				},
			},
			"b": {
				Entry: []*Action{note("entry-b")},
			},
		},
	}

	m, err := New(def)
	if err != nil {
		t.Fatal(err)
	}

	h := handlerFunc(func(ctx context.Context, name string, args map[string]interface{}) error {
		order = append(order, args["what"].(string))
		return nil
	})

	if _, err := m.Send(context.Background(), mapDoc{}, "GO", nil, h); err != nil {
		t.Fatal(err)
	}

	want := []string{"exit-a", "inline", "entry-b"}
	if len(order) != len(want) {
		t.Fatal(JS(order))
	}
	for i, w := range want {
		if order[i] != w {
			t.Fatal(JS(order))
		}
	}
}

func TestActionFailure(t *testing.T) {
	boom := errors.New("boom")
	fail := &Action{Name: "boom"}

	h := handlerFunc(func(ctx context.Context, name string, args map[string]interface{}) error {
		if name == "boom" {
			return boom
		}
		return nil
	})

	// A failing exit action aborts the move.
	def := &Definition{
		Name:    "failing",
		Initial: "a",
		States: map[string]*StateNode{
			"a": {
				Exit: []*Action{fail},
				On: map[string]*Transition{
					"GO": {Target: "b"},
				},
			},
			"b": {},
		},
	}
	m, err := New(def)
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Send(context.Background(), mapDoc{}, "GO", nil, h)
	var failed *ActionFailed
	if !errors.As(err, &failed) || !errors.Is(err, boom) {
		t.Fatalf("wanted ActionFailed(boom), got %v", err)
	}
	if m.Current != "a" {
		t.Fatal(m.Current)
	}

	// A failing entry action leaves the machine in the target.
	def = &Definition{
		Name:    "failing",
		Initial: "a",
		States: map[string]*StateNode{
			"a": {
				On: map[string]*Transition{
					"GO": {Target: "b"},
				},
			},
			"b": {
				Entry: []*Action{fail},
			},
		},
	}
	if m, err = New(def); err != nil {
		t.Fatal(err)
	}
	if _, err = m.Send(context.Background(), mapDoc{}, "GO", nil, h); !errors.As(err, &failed) {
		t.Fatalf("wanted ActionFailed, got %v", err)
	}
	if m.Current != "b" {
		t.Fatal(m.Current)
	}
}

func TestUpdateContextAtomicity(t *testing.T) {
	// One bad expression in an updateContext means no key is
	// applied.
	def := &Definition{
		Name:    "atomic",
		Initial: "a",
		States: map[string]*StateNode{
			"a": {
				On: map[string]*Transition{
					"GO": {
						Target: "b",
						Actions: []*Action{
							{Update: map[string]interface{}{
								"good": "fine",
								"bad":  "$no.such.binding",
							}},
						},
					},
				},
			},
			"b": {},
		},
	}
	m, err := New(def)
	if err != nil {
		t.Fatal(err)
	}
	doc := mapDoc{}
	if _, err := m.Send(context.Background(), doc, "GO", nil, nil); err == nil {
		t.Fatal("wanted an error")
	}
	if len(doc) != 0 {
		t.Fatal(JS(doc))
	}
}

func TestGuardErrorIsIgnoredEvent(t *testing.T) {
	def := creatingDef()
	def.States["idle"].On["CREATE"].Guard = Dwimjs(`{"op":"nope","args":[]}`)
	m, err := New(def)
	if err != nil {
		t.Fatal(err)
	}
	step, err := m.Send(context.Background(), mapDoc{}, "CREATE", Dwimjs(`{"text":"x"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if step.Ignored != IgnoredGuard || m.Current != "idle" {
		t.Fatalf("got %s", JS(step))
	}
	if len(step.Traces) == 0 {
		t.Fatal("wanted a guard error trace")
	}
}

func TestSequentialSendsSeePriorContext(t *testing.T) {
	// The second event's guard must see the post-transition
	// context of the first.
	def := &Definition{
		Name:    "seq",
		Initial: "a",
		States: map[string]*StateNode{
			"a": {
				On: map[string]*Transition{
					"FIRST": {
						Target: "a",
						Actions: []*Action{
							{Update: map[string]interface{}{"armed": true}},
						},
					},
					"SECOND": {
						Target: "b",
						Guard:  Dwimjs(`{"op":"eq","args":["$armed",true]}`),
					},
				},
			},
			"b": {},
		},
	}
	m, err := New(def)
	if err != nil {
		t.Fatal(err)
	}
	doc := mapDoc{}
	ctx := context.Background()

	if _, err = m.Send(ctx, doc, "FIRST", nil, nil); err != nil {
		t.Fatal(err)
	}
	step, err := m.Send(ctx, doc, "SECOND", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if step.To != "b" {
		t.Fatalf("guard saw stale context: %s", JS(step))
	}
}

func TestEvaluatorOverride(t *testing.T) {
	m, err := New(creatingDef())
	if err != nil {
		t.Fatal(err)
	}
	m.Evaluator = &expr.Evaluator{MaxDepth: 1}

	// The guard is now too deep for the evaluator, so the event
	// is ignored rather than failing.
	step, err := m.Send(context.Background(), mapDoc{}, "CREATE", Dwimjs(`{"text":"x"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if step.Ignored != IgnoredGuard {
		t.Fatal(JS(step))
	}
}

func TestValidate(t *testing.T) {
	var cfg ConfigurationError

	def := creatingDef()
	def.Initial = "nope"
	if err := def.Validate(); !errors.As(err, &cfg) {
		t.Fatalf("wanted ConfigurationError, got %v", err)
	}

	def = creatingDef()
	def.States["idle"].On["CREATE"].Target = "nowhere"
	err := def.Validate()
	var dangling *DanglingTarget
	if !errors.As(err, &dangling) {
		t.Fatalf("wanted DanglingTarget, got %v", err)
	}

	def = creatingDef()
	def.States["idle"].Entry = []*Action{{}}
	var malformed *MalformedAction
	if err := def.Validate(); !errors.As(err, &malformed) {
		t.Fatalf("wanted MalformedAction, got %v", err)
	}
}

func TestParseDefinition(t *testing.T) {
	yamlSrc := `
name: lights
initial: "off"
states:
  "off":
    on:
      TOGGLE:
        target: "on"
  "on":
    on:
      TOGGLE:
        target: "off"
    entry:
      - updateContext:
          lit: true
`
	def, err := ParseDefinition([]byte(yamlSrc))
	if err != nil {
		t.Fatal(err)
	}
	if def.Initial != "off" || len(def.States) != 2 {
		t.Fatal(JS(def))
	}

	jsSrc := `{"name":"lights","initial":"off","states":{"off":{"on":{"TOGGLE":{"target":"on"}}},"on":{}}}`
	if def, err = ParseDefinition([]byte(jsSrc)); err != nil {
		t.Fatal(err)
	}
	if def.States["off"].On["TOGGLE"].Target != "on" {
		t.Fatal(JS(def))
	}
}
