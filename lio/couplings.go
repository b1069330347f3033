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

// Package lio couples a runtime to the outside world: inbound
// messages in, context updates and diagnostics out.
package lio

import "context"

// Message is one inbound send: a target actor, an event type, and a
// concrete payload.  Payloads with unresolved expressions are
// rejected at the runtime boundary, not here.
type Message struct {
	To      string      `json:"to"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Update is one outbound notification: a context snapshot after a
// change, or a diagnostic for a dropped message or failed action.
type Update struct {
	Actor   string                 `json:"actor"`
	Context map[string]interface{} `json:"context,omitempty"`
	Diag    string                 `json:"diag,omitempty"`
}

// Couplings provide channels for message input and update output.
//
// For example, an implementation could couple a runtime to a
// WebSocket client or an MQTT broker.
type Couplings interface {
	// Start initializes the Couplings.
	Start(context.Context) error

	// IO returns the input and output channels plus a channel
	// that closes when input is exhausted.
	IO(context.Context) (chan *Message, chan *Update, chan bool, error)

	// Stop shuts down the Couplings.
	Stop(context.Context) error
}
