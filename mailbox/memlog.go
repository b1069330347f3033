package mailbox

import (
	"context"
	"sync"
)

// MemLog is an in-memory Log for tests and ephemeral sessions.
type MemLog struct {
	mu      sync.Mutex
	entries map[string][]*Entry
	subId   int
	subs    map[string]map[int]func(*Entry)
}

// NewMemLog makes an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{
		entries: make(map[string][]*Entry, 8),
		subs:    make(map[string]map[int]func(*Entry), 8),
	}
}

func (l *MemLog) Append(ctx context.Context, e *Entry) (uint64, error) {
	l.mu.Lock()
	es := l.entries[e.Target]
	stored := e.Copy()
	stored.Seq = uint64(len(es)) + 1
	stored.Processed = false
	l.entries[e.Target] = append(es, stored)
	e.Seq = stored.Seq

	fs := make([]func(*Entry), 0, len(l.subs[e.Target]))
	for _, f := range l.subs[e.Target] {
		fs = append(fs, f)
	}
	l.mu.Unlock()

	for _, f := range fs {
		f(stored.Copy())
	}
	return stored.Seq, nil
}

func (l *MemLog) After(ctx context.Context, target string, seq uint64) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := make([]*Entry, 0, 8)
	for _, e := range l.entries[target] {
		if seq < e.Seq {
			acc = append(acc, e.Copy())
		}
	}
	return acc, nil
}

func (l *MemLog) MarkProcessed(ctx context.Context, target string, seq uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries[target] {
		if e.Seq == seq {
			if e.Processed {
				return false, nil
			}
			e.Processed = true
			return true, nil
		}
	}
	return false, nil
}

func (l *MemLog) Subscribe(target string, f func(*Entry)) (func(), error) {
	l.mu.Lock()
	l.subId++
	id := l.subId
	m, have := l.subs[target]
	if !have {
		m = make(map[int]func(*Entry), 4)
		l.subs[target] = m
	}
	m[id] = f
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs[target], id)
		l.mu.Unlock()
	}, nil
}
