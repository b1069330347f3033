package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomworks/loom/mailbox"
	"github.com/loomworks/loom/storage"
	. "github.com/loomworks/loom/util/testutil"
)

func testRuntime(t *testing.T) (*Runtime, *storage.Mem) {
	t.Helper()
	mem := storage.NewMem()
	rt := NewRuntime(NewRegistry(), mem, mailbox.NewMemLog())
	rt.Diagnostics = make(chan Diagnostic, 32)
	t.Cleanup(rt.Shutdown)
	return rt, mem
}

func mustDef(t *testing.T, rt *Runtime, js string) *ActorDef {
	t.Helper()
	def, err := ParseActorDef([]byte(js))
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Registry.AddDef(def); err != nil {
		t.Fatal(err)
	}
	return def
}

const counterDef = `{
  "name": "counter",
  "kind": "service",
  "machine": {
    "initial": "loop",
    "states": {
      "loop": {
        "on": {
          "PING": {
            "target": "loop",
            "actions": [{"updateContext": {"count": {"op": "add", "args": ["$count", 1]}}}]
          }
        }
      }
    }
  },
  "context": {"count": 0}
}`

func TestSendThroughMailbox(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, counterDef)

	a, err := rt.CreateActor(ctx, "counter", "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := rt.Send(ctx, "", a.Id, "PING", nil); err != nil {
			t.Fatal(err)
		}
	}
	if count := a.Queries.Snapshot()["count"]; count != float64(3) && count != 3 {
		t.Fatal(JS(a.Queries.Snapshot()))
	}
}

func TestSequentialSendsSeeNewContext(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, `{
          "name": "gate",
          "kind": "service",
          "machine": {
            "initial": "a",
            "states": {
              "a": {"on": {"GO": {"target": "b"}}},
              "b": {
                "entry": [{"updateContext": {"ready": true}}],
                "on": {"CHECK": {"target": "c", "guard": "$ready"}}
              },
              "c": {}
            }
          }
        }`)

	a, err := rt.CreateActor(ctx, "gate", "")
	if err != nil {
		t.Fatal(err)
	}
	// The second event's guard must see the context as left by
	// the first event's entry action.
	rt.Send(ctx, "", a.Id, "GO", nil)
	rt.Send(ctx, "", a.Id, "CHECK", nil)
	if a.Machine.Current != "c" {
		t.Fatal(a.Machine.Current)
	}
}

func TestAllowListDrop(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, `{
          "name": "list",
          "kind": "service",
          "accept": ["LOAD_ITEM"],
          "machine": {
            "initial": "idle",
            "states": {
              "idle": {
                "on": {
                  "LOAD_ITEM": {"target": "idle", "actions": [{"updateContext": {"loaded": true}}]},
                  "DELETE_ITEM": {"target": "idle", "actions": [{"updateContext": {"deleted": true}}]}
                }
              }
            }
          }
        }`)

	a, err := rt.CreateActor(ctx, "list", "")
	if err != nil {
		t.Fatal(err)
	}
	rt.Send(ctx, "", a.Id, "LOAD_ITEM", nil)
	rt.Send(ctx, "", a.Id, "DELETE_ITEM", nil)

	snapshot := a.Queries.Snapshot()
	if snapshot["loaded"] != true {
		t.Fatal(JS(snapshot))
	}
	// The disallowed type never reached the machine.
	if _, have := snapshot["deleted"]; have {
		t.Fatal(JS(snapshot))
	}

	select {
	case d := <-rt.Diagnostics:
		var na *mailbox.NotAccepted
		if !errors.As(d.Err, &na) || na.Type != "DELETE_ITEM" {
			t.Fatal(d.Err)
		}
	default:
		t.Fatal("wanted a diagnostic")
	}
}

func TestDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, counterDef)

	a, err := rt.CreateActor(ctx, "counter", "")
	if err != nil {
		t.Fatal(err)
	}
	rt.Send(ctx, "", a.Id, "PING", nil)

	// Redeliver the same log entry, as the log might after a
	// reconnection.
	es, err := rt.Log.After(ctx, a.Id, 0)
	if err != nil || len(es) != 1 {
		t.Fatal(err, JS(es))
	}
	if err := a.Inbox.Handle(ctx, es[0]); err != nil {
		t.Fatal(err)
	}

	if count := a.Queries.Snapshot()["count"]; count != float64(1) && count != 1 {
		t.Fatal(JS(a.Queries.Snapshot()))
	}
}

func TestPayloadMustBeConcrete(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, counterDef)

	a, err := rt.CreateActor(ctx, "counter", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, payload := range []interface{}{
		Dwimjs(`{"op": "add", "args": [1, 2]}`),
		Dwimjs(`{"text": "$selectedId"}`),
		"$count",
	} {
		if _, err := rt.Send(ctx, "", a.Id, "PING", payload); err == nil {
			t.Fatalf("%s should have been rejected", JS(payload))
		}
	}
}

func leafDefs(t *testing.T, rt *Runtime) {
	mustDef(t, rt, `{"name": "item-view", "machine": {"initial": "idle", "states": {"idle": {}}}}`)
	mustDef(t, rt, `{"name": "other-view", "machine": {"initial": "idle", "states": {"idle": {}}}}`)
}

func TestLazyChild(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, `{
          "name": "board",
          "kind": "service",
          "slots": {"detail": "detailRef"},
          "context": {"detailRef": "item-view"},
          "machine": {"initial": "idle", "states": {"idle": {}}}
        }`)
	leafDefs(t, rt)

	p, err := rt.CreateActor(ctx, "board", "")
	if err != nil {
		t.Fatal(err)
	}

	// Nothing materialized yet.
	rt.mu.Lock()
	n := len(rt.actors)
	rt.mu.Unlock()
	if n != 1 {
		t.Fatal(n)
	}

	child, err := rt.ResolveChild(ctx, p.Id, "detail")
	if err != nil {
		t.Fatal(err)
	}
	if child.Def.Name != "item-view" {
		t.Fatal(child.Def.Name)
	}

	// Resolving again returns the same instance.
	again, err := rt.ResolveChild(ctx, p.Id, "detail")
	if err != nil {
		t.Fatal(err)
	}
	if again.Id != child.Id {
		t.Fatalf("%s != %s", again.Id, child.Id)
	}

	if _, err = rt.ResolveChild(ctx, p.Id, "nope"); err == nil {
		t.Fatal("wanted UnknownSlot")
	}
}

func TestUIRepointTearsDownChild(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, `{
          "name": "board",
          "kind": "ui",
          "slots": {"detail": "detailRef"},
          "context": {"detailRef": "item-view"},
          "machine": {
            "initial": "idle",
            "states": {
              "idle": {
                "on": {
                  "SWAP": {"target": "idle", "actions": [{"updateContext": {"detailRef": "$event"}}]}
                }
              }
            }
          }
        }`)
	leafDefs(t, rt)

	p, err := rt.CreateActor(ctx, "board", "")
	if err != nil {
		t.Fatal(err)
	}
	child, err := rt.ResolveChild(ctx, p.Id, "detail")
	if err != nil {
		t.Fatal(err)
	}

	rt.Send(ctx, "", p.Id, "SWAP", "other-view")

	// The repoint tore the old child down synchronously.
	if _, live := rt.Actor(child.Id); live {
		t.Fatal("old child still live")
	}

	next, err := rt.ResolveChild(ctx, p.Id, "detail")
	if err != nil {
		t.Fatal(err)
	}
	if next.Def.Name != "other-view" || next.Id == child.Id {
		t.Fatal(next.Def.Name, next.Id)
	}
}

func TestServiceRepointKeepsChild(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, `{
          "name": "board",
          "kind": "service",
          "slots": {"detail": "detailRef"},
          "context": {"detailRef": "item-view"},
          "machine": {
            "initial": "idle",
            "states": {
              "idle": {
                "on": {
                  "SWAP": {"target": "idle", "actions": [{"updateContext": {"detailRef": "$event"}}]}
                }
              }
            }
          }
        }`)
	leafDefs(t, rt)

	p, err := rt.CreateActor(ctx, "board", "")
	if err != nil {
		t.Fatal(err)
	}
	child, err := rt.ResolveChild(ctx, p.Id, "detail")
	if err != nil {
		t.Fatal(err)
	}

	rt.Send(ctx, "", p.Id, "SWAP", "other-view")

	// A Service actor's children persist across slot changes.
	if _, live := rt.Actor(child.Id); !live {
		t.Fatal("child should have survived the repoint")
	}

	next, err := rt.ResolveChild(ctx, p.Id, "detail")
	if err != nil {
		t.Fatal(err)
	}
	if next.Def.Name != "other-view" {
		t.Fatal(next.Def.Name)
	}
}

func TestBuiltinSendAction(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, `{
          "name": "board",
          "kind": "service",
          "slots": {"detail": "detailRef"},
          "context": {"detailRef": "echo"},
          "machine": {
            "initial": "idle",
            "states": {
              "idle": {
                "on": {
                  "FORWARD": {
                    "target": "idle",
                    "actions": [{"action": "send", "args": {"to": "detail", "type": "NOTE", "payload": "$event"}}]
                  }
                }
              }
            }
          }
        }`)
	mustDef(t, rt, `{
          "name": "echo",
          "machine": {
            "initial": "idle",
            "states": {
              "idle": {
                "on": {
                  "NOTE": {"target": "idle", "actions": [{"updateContext": {"note": "$event"}}]}
                }
              }
            }
          }
        }`)

	p, err := rt.CreateActor(ctx, "board", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Send(ctx, "", p.Id, "FORWARD", "hello"); err != nil {
		t.Fatal(err)
	}

	child, err := rt.ResolveChild(ctx, p.Id, "detail")
	if err != nil {
		t.Fatal(err)
	}
	if child.Queries.Snapshot()["note"] != "hello" {
		t.Fatal(JS(child.Queries.Snapshot()))
	}
}

func TestCustomActionAndErrorEvent(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, `{
          "name": "risky",
          "kind": "service",
          "machine": {
            "initial": "idle",
            "states": {
              "idle": {
                "on": {
                  "BOOM": {"target": "working", "actions": [{"action": "explode"}]},
                  "error": {"target": "failed", "actions": [{"updateContext": {"reason": "$event.message"}}]}
                }
              },
              "working": {},
              "failed": {}
            }
          }
        }`)
	rt.Registry.AddAction("explode", func(ctx context.Context, call *Call) error {
		return errors.New("kaboom")
	})

	a, err := rt.CreateActor(ctx, "risky", "")
	if err != nil {
		t.Fatal(err)
	}
	rt.Send(ctx, "", a.Id, "BOOM", nil)

	// The failing transition action aborted the move, and the
	// synthesized error event took the machine to "failed".
	if a.Machine.Current != "failed" {
		t.Fatal(a.Machine.Current)
	}
	if reason := a.Queries.Snapshot()["reason"]; reason == nil {
		t.Fatal(JS(a.Queries.Snapshot()))
	}
}

func TestDescriptorInContext(t *testing.T) {
	ctx := context.Background()
	rt, mem := testRuntime(t)
	for _, js := range []string{
		`{"id":"a","text":"tacos"}`,
		`{"id":"b","text":"queso"}`,
	} {
		v := Dwimjs(js).(map[string]interface{})
		mem.Put(ctx, "todos", v["id"].(string), v)
	}
	mustDef(t, rt, `{
          "name": "detail",
          "kind": "service",
          "context": {
            "selectedId": "a",
            "selected": {"source": "todos", "filter": {"id": "$selectedId"}}
          },
          "machine": {
            "initial": "idle",
            "states": {
              "idle": {
                "on": {
                  "SELECT": {"target": "idle", "actions": [{"updateContext": {"selectedId": "$event"}}]}
                }
              }
            }
          }
        }`)

	a, err := rt.CreateActor(ctx, "detail", "")
	if err != nil {
		t.Fatal(err)
	}
	if v := a.Queries.Snapshot()["selected"].(map[string]interface{}); v["text"] != "tacos" {
		t.Fatal(JS(a.Queries.Snapshot()))
	}

	rt.Send(ctx, "", a.Id, "SELECT", "b")
	if v := a.Queries.Snapshot()["selected"].(map[string]interface{}); v["text"] != "queso" {
		t.Fatal(JS(a.Queries.Snapshot()))
	}
}

func TestWatchRenderingBoundary(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, counterDef)

	a, err := rt.CreateActor(ctx, "counter", "")
	if err != nil {
		t.Fatal(err)
	}

	var last map[string]interface{}
	unwatch, err := rt.Watch(a.Id, func(snapshot map[string]interface{}) {
		last = snapshot
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unwatch()

	rt.Send(ctx, "", a.Id, "PING", nil)
	if last == nil || (last["count"] != float64(1) && last["count"] != 1) {
		t.Fatal(JS(last))
	}
}

func TestTimers(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, counterDef)

	a, err := rt.CreateActor(ctx, "counter", "")
	if err != nil {
		t.Fatal(err)
	}
	ts := NewTimers(rt)
	defer ts.Shutdown()

	if err := ts.Add(ctx, "tick", a.Id, "PING", nil, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := ts.Add(ctx, "tick", a.Id, "PING", nil, 10*time.Millisecond); err != TimerExists {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if count := a.Queries.Snapshot()["count"]; count == float64(1) || count == 1 {
			break
		}
		if deadline.Before(time.Now()) {
			t.Fatal(JS(a.Queries.Snapshot()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ts.Add(ctx, "later", a.Id, "PING", nil, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := ts.Rem(ctx, "later"); err != nil {
		t.Fatal(err)
	}
	if err := ts.Rem(ctx, "later"); err != TimerNotFound {
		t.Fatal(err)
	}

	if err := ts.AddCron(ctx, "bad", "not a cron expression", a.Id, "PING", nil); err == nil {
		t.Fatal("wanted a parse error")
	}
}

func TestSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	rt, _ := testRuntime(t)
	mustDef(t, rt, counterDef)

	a, err := rt.CreateActor(ctx, "counter", "")
	if err != nil {
		t.Fatal(err)
	}
	rt.Send(ctx, "", a.Id, "PING", nil)
	rt.Send(ctx, "", a.Id, "PING", nil)

	if err := rt.SaveActor(ctx, a.Id); err != nil {
		t.Fatal(err)
	}
	id := a.Id
	rt.DestroyActor(id)
	if _, live := rt.Actor(id); live {
		t.Fatal("still live")
	}

	b, err := rt.RestoreActor(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if count := b.Queries.Snapshot()["count"]; count != float64(2) && count != 2 {
		t.Fatal(JS(b.Queries.Snapshot()))
	}

	// The primed watermark keeps old log entries from replaying;
	// new sends still work.
	rt.Send(ctx, "", id, "PING", nil)
	if count := b.Queries.Snapshot()["count"]; count != float64(3) && count != 3 {
		t.Fatal(JS(b.Queries.Snapshot()))
	}
}
