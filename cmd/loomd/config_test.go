package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loomworks/loom/runtime"
)

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "loomd.yaml")
	body := `store: loom.db
log: mailbox.db
definitions: ./defs
roots:
  - todo-app
timers:
  - id: tick
    target: todo-app
    type: TICK
    cron: "* * * * *"
    payload:
      note: hello
`
	if err := os.WriteFile(filename, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	conf, err := ReadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if conf.StoreFile != "loom.db" || conf.LogFile != "mailbox.db" {
		t.Fatal(conf)
	}
	if len(conf.Roots) != 1 || conf.Roots[0] != "todo-app" {
		t.Fatal(conf.Roots)
	}
	if len(conf.Timers) != 1 || conf.Timers[0].Cron != "* * * * *" {
		t.Fatal(conf.Timers)
	}

	payload := stringKeys(conf.Timers[0].Payload)
	m, is := payload.(map[string]interface{})
	if !is || m["note"] != "hello" {
		t.Fatal(payload)
	}
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	js := `{
          "name": "todo-app",
          "kind": "service",
          "machine": {"initial": "idle", "states": {"idle": {}}}
        }`
	if err := os.WriteFile(filepath.Join(dir, "todo-app.json"), []byte(js), 0644); err != nil {
		t.Fatal(err)
	}
	y := `name: other
machine:
  initial: idle
  states:
    idle: {}
`
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(y), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0644); err != nil {
		t.Fatal(err)
	}

	reg := runtime.NewRegistry()
	n, err := LoadDefinitions(reg, dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatal(n)
	}
	if _, have := reg.Def("todo-app"); !have {
		t.Fatal("no todo-app")
	}
	if _, have := reg.Def("other"); !have {
		t.Fatal("no other")
	}
}
