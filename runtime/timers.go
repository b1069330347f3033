/* Copyright 2024 Loomworks
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

var (
	TimerExists   = errors.New("timer id exists")
	TimerNotFound = errors.New("timer not found")
)

// TimerEntry is one pending (or recurring) message.
type TimerEntry struct {
	Id      string      `json:"id"`
	Target  string      `json:"target"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`

	// At is the next firing time.  For a cron timer it advances
	// after each firing.
	At time.Time `json:"at"`

	// Cron, when set, re-arms the timer after each firing.
	Cron string `json:"cron,omitempty"`

	ctl chan bool
}

// Timers delivers messages to actor mailboxes at scheduled times.
// A timer firing is an ordinary Send: it lands in the target's log
// and flows through the same validation as any other message.
type Timers struct {
	sync.Mutex

	rt     *Runtime
	timers map[string]*TimerEntry
	ctl    chan bool
}

func NewTimers(rt *Runtime) *Timers {
	return &Timers{
		rt:     rt,
		timers: make(map[string]*TimerEntry, 32),
		ctl:    make(chan bool),
	}
}

// Add schedules a one-shot message after the given duration.
func (ts *Timers) Add(ctx context.Context, id, target, typ string, payload interface{}, in time.Duration) error {
	return ts.add(ctx, &TimerEntry{
		Id:      id,
		Target:  target,
		Type:    typ,
		Payload: payload,
		At:      time.Now().UTC().Add(in),
	})
}

// AddCron schedules a recurring message on a cron expression.
func (ts *Timers) AddCron(ctx context.Context, id, cron, target, typ string, payload interface{}) error {
	e, err := cronexpr.Parse(cron)
	if err != nil {
		return err
	}
	return ts.add(ctx, &TimerEntry{
		Id:      id,
		Target:  target,
		Type:    typ,
		Payload: payload,
		At:      e.Next(time.Now().UTC()),
		Cron:    cron,
	})
}

func (ts *Timers) add(ctx context.Context, te *TimerEntry) error {
	ts.Lock()
	defer ts.Unlock()

	if _, have := ts.timers[te.Id]; have {
		return TimerExists
	}
	te.ctl = make(chan bool)
	ts.timers[te.Id] = te

	go ts.run(ctx, te)
	return nil
}

func (ts *Timers) run(ctx context.Context, te *TimerEntry) {
	for {
		timer := time.NewTimer(te.At.Sub(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			ts.Rem(ctx, te.Id)
			return
		case <-te.ctl:
			// Removed via Rem.
			timer.Stop()
			return
		case <-ts.ctl:
			timer.Stop()
			ts.Rem(ctx, te.Id)
			return
		case <-timer.C:
			if _, err := ts.rt.Send(ctx, "timers", te.Target, te.Type, te.Payload); err != nil {
				ts.rt.diagnose(te.Target, nil, err)
			}
		}

		if te.Cron == "" {
			ts.Lock()
			delete(ts.timers, te.Id)
			ts.Unlock()
			return
		}
		// Re-arm.  The expression parsed at Add time.
		te.At = cronexpr.MustParse(te.Cron).Next(time.Now().UTC())
	}
}

// Rem cancels a timer.
func (ts *Timers) Rem(ctx context.Context, id string) error {
	ts.Lock()
	defer ts.Unlock()

	te, have := ts.timers[id]
	if !have {
		return TimerNotFound
	}
	delete(ts.timers, id)
	close(te.ctl)
	return nil
}

// Shutdown cancels every timer.
func (ts *Timers) Shutdown() error {
	close(ts.ctl)
	return nil
}
