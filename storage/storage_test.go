package storage

import (
	"context"
	"errors"
	"testing"

	. "github.com/loomworks/loom/util/testutil"
)

func TestMemGetPutQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMem()

	if err := s.Put(ctx, "todos", "a", Dwimjs(`{"id":"a","text":"tacos","done":false}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "todos", "b", Dwimjs(`{"id":"b","text":"queso","done":true}`)); err != nil {
		t.Fatal(err)
	}

	v, have, err := s.Get(ctx, "todos", "a")
	if err != nil || !have {
		t.Fatal(err)
	}
	if m := v.(map[string]interface{}); m["text"] != "tacos" {
		t.Fatal(JS(v))
	}

	if _, have, _ = s.Get(ctx, "todos", "zzz"); have {
		t.Fatal("phantom record")
	}

	vs, err := s.Query(ctx, "todos", Filter{"done": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 1 {
		t.Fatal(JS(vs))
	}

	if vs, err = s.Query(ctx, "todos", nil); err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 {
		t.Fatal(JS(vs))
	}
}

func TestMemSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMem()

	var got []string
	unsub, err := s.Subscribe("todos", func(key string, value interface{}) {
		got = append(got, key)
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Put(ctx, "todos", "a", Dwimjs(`{"id":"a"}`))
	s.Put(ctx, "other", "x", Dwimjs(`{"id":"x"}`))
	if len(got) != 1 || got[0] != "a" {
		t.Fatal(JS(got))
	}

	unsub()
	s.Put(ctx, "todos", "b", Dwimjs(`{"id":"b"}`))
	if len(got) != 1 {
		t.Fatal(JS(got))
	}
}

func TestMatches(t *testing.T) {
	v := Dwimjs(`{"id":"a","n":1,"user":{"name":"Homer"}}`)
	if !Matches(v, Filter{"id": "a", "n": float64(1)}) {
		t.Fatal("should match")
	}
	if !Matches(v, Filter{"user.name": "Homer"}) {
		t.Fatal("dotted fields should match")
	}
	if Matches(v, Filter{"id": "b"}) {
		t.Fatal("should not match")
	}
	if Matches(v, Filter{"missing": "x"}) {
		t.Fatal("missing fields should not match")
	}
}

func TestPointLookup(t *testing.T) {
	if key, is := PointLookup(Filter{"id": "abc"}); !is || key != "abc" {
		t.Fatal(key, is)
	}
	if _, is := PointLookup(Filter{"id": "abc", "done": true}); is {
		t.Fatal("two conditions are not a point lookup")
	}
	if _, is := PointLookup(Filter{"text": "tacos"}); is {
		t.Fatal("non-key fields are not a point lookup")
	}
}

type flaky struct {
	*Mem
	failures int
}

func (s *flaky) Get(ctx context.Context, collection, key string) (interface{}, bool, error) {
	if 0 < s.failures {
		s.failures--
		return nil, false, errors.New("transient")
	}
	return s.Mem.Get(ctx, collection, key)
}

func TestRetrier(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Mem: NewMem(), failures: 2}
	inner.Put(ctx, "todos", "a", Dwimjs(`{"id":"a"}`))

	r := &Retrier{Store: inner, Attempts: 3, Delay: 0}
	_, have, err := r.Get(ctx, "todos", "a")
	if err != nil || !have {
		t.Fatal(err)
	}

	inner.failures = 10
	_, _, err = r.Get(ctx, "todos", "a")
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("wanted StoreError, got %v", err)
	}
}
