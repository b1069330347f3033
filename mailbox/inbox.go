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

package mailbox

import (
	"context"

	"github.com/loomworks/loom/schema"
)

// Inbox drains one actor's slice of a Log in sequence order.
//
// A message passes the type allow-list and then its payload schema
// before it is delivered.  A failure at either gate consumes the
// entry (it is marked processed and never redelivered) and goes to
// the Drop hook instead of Deliver.
//
// Handle is not safe for concurrent use; the runtime calls it from
// the actor's single event loop, which is what makes the
// check-and-set on the processed flag atomic in practice.
type Inbox struct {
	// Target is the owning actor's id.
	Target string

	// Accept lists the message types this inbox lets through.  A
	// nil Accept lets everything through; an empty non-nil
	// Accept lets nothing through.
	Accept []string

	// Schemas validates payloads of accepted types.  Nil means
	// no payload validation.
	Schemas schema.Validator

	// Log is the backing message log.
	Log Log

	// Deliver hands an accepted, validated entry to the actor.
	Deliver func(ctx context.Context, e *Entry) error

	// Drop, if not nil, hears about consumed-but-not-delivered
	// entries.
	Drop func(e *Entry, reason error)

	watermark uint64
}

// Watermark is the highest sequence this inbox has consumed.
func (in *Inbox) Watermark() uint64 {
	return in.watermark
}

// SetWatermark primes the watermark, typically from a persisted
// snapshot before CatchUp.
func (in *Inbox) SetWatermark(seq uint64) {
	in.watermark = seq
}

// CatchUp processes every entry past the watermark.  Call it at
// actor start and after any gap in subscription delivery.
func (in *Inbox) CatchUp(ctx context.Context) error {
	es, err := in.Log.After(ctx, in.Target, in.watermark)
	if err != nil {
		return err
	}
	for _, e := range es {
		if err := in.consume(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Handle consumes one entry: deduplicate, gate, deliver.
//
// Log subscribers are notified outside the log lock, so two racing
// senders can land their callbacks here out of sequence order.  A
// sequence past the next expected one is therefore a gap, and Handle
// falls back to a scan from the watermark, which picks up the
// overtaken entry (and this one) in order.
func (in *Inbox) Handle(ctx context.Context, e *Entry) error {
	if e.Target != in.Target {
		return nil
	}
	if in.watermark+1 < e.Seq {
		return in.CatchUp(ctx)
	}
	return in.consume(ctx, e)
}

// consume processes one in-order entry.  The entry is marked
// processed before Deliver runs, so processing is at most once.  A
// redelivered entry (same sequence) is a no-op.
func (in *Inbox) consume(ctx context.Context, e *Entry) error {
	if e.Seq <= in.watermark || e.Processed {
		return nil
	}

	fresh, err := in.Log.MarkProcessed(ctx, in.Target, e.Seq)
	if err != nil {
		return err
	}
	in.watermark = e.Seq
	if !fresh {
		return nil
	}

	if !in.accepts(e.Type) {
		in.drop(e, &NotAccepted{Target: in.Target, Type: e.Type})
		return nil
	}
	if in.Schemas != nil {
		if errs := in.Schemas.Validate(e.Type, e.Payload); 0 < len(errs) {
			in.drop(e, &InvalidPayload{Type: e.Type, Errs: errs})
			return nil
		}
	}

	return in.Deliver(ctx, e)
}

func (in *Inbox) accepts(typeName string) bool {
	if in.Accept == nil {
		return true
	}
	for _, t := range in.Accept {
		if t == typeName {
			return true
		}
	}
	return false
}

func (in *Inbox) drop(e *Entry, reason error) {
	if in.Drop != nil {
		in.Drop(e, reason)
	}
}
