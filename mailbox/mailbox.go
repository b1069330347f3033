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

// Package mailbox implements the per-actor message log and the
// validation protocol in front of it.
//
// Entries are immutable once appended; sequences increase
// monotonically per actor; and the processed flag transitions
// false→true exactly once.  The log may deliver the same entry more
// than once after reconnection or replication, so deduplication is by
// sequence, not by content.
package mailbox

import "context"

// Entry is one message in an actor's log.
type Entry struct {
	// Type names the event; the target actor's allow-list gates
	// it.
	Type string `json:"type"`

	// Payload is a concrete (expression-free) JSON value.
	Payload interface{} `json:"payload,omitempty"`

	// Source identifies the sender ("" for external input).
	Source string `json:"source,omitempty"`

	// Target is the receiving actor's id.
	Target string `json:"target"`

	// Seq is assigned by Append: monotonically increasing per
	// target.
	Seq uint64 `json:"seq"`

	// Processed flips false→true exactly once, never reverts.
	Processed bool `json:"processed"`
}

// Copy makes a shallow copy of the entry.  Payloads are treated as
// immutable by convention.
func (e *Entry) Copy() *Entry {
	c := *e
	return &c
}

// Log is an ordered, append-only, per-actor message log.
type Log interface {
	// Append assigns the entry's sequence, persists it, and then
	// notifies the target's subscribers.  Append returns only
	// after the write is durable, so senders observe
	// backpressure when the log is unavailable.
	Append(ctx context.Context, e *Entry) (uint64, error)

	// After returns the target's entries with sequence greater
	// than seq, in sequence order.
	After(ctx context.Context, target string, seq uint64) ([]*Entry, error)

	// MarkProcessed flips the processed flag.  It reports false
	// if the entry was already processed (the check-and-set that
	// makes duplicate delivery a no-op).
	MarkProcessed(ctx context.Context, target string, seq uint64) (bool, error)

	// Subscribe registers a callback for the target's new
	// entries and returns an unsubscribe function.  Callbacks
	// may arrive on any goroutine.
	Subscribe(target string, f func(*Entry)) (func(), error)
}
