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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/url"

	"github.com/loomworks/loom/lio"

	"github.com/gorilla/websocket"
)

// WebSocketCouplings is a lio.Couplings over a WebSocket client
// connection.
type WebSocketCouplings struct {
	URL string

	in   chan *lio.Message
	out  chan *lio.Update
	done chan bool
	conn *websocket.Conn
}

func NewWebSocketCouplings(args []string) (*WebSocketCouplings, *flag.FlagSet) {
	c := &WebSocketCouplings{}
	fs := flag.NewFlagSet("ws", flag.ExitOnError)
	fs.StringVar(&c.URL, "url", "ws://localhost:8080", "Target URL for WebSocket server")
	if args == nil {
		return nil, fs
	}
	fs.Parse(args)
	return c, fs
}

// Start creates the WebSocket session and starts processing it.
func (c *WebSocketCouplings) Start(ctx context.Context) error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return err
	}

	c.in = make(chan *lio.Message)
	c.out = make(chan *lio.Update)
	c.done = make(chan bool)

	log.Println("wsconnect", u.String())
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	c.conn = conn

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, bs, err := conn.ReadMessage()
			if err != nil {
				log.Printf("ws read error %s", err)
				close(c.done)
				return
			}
			if len(bs) == 0 {
				continue
			}

			var msg lio.Message
			if err = json.Unmarshal(bs, &msg); err != nil {
				log.Printf("ws bad input %s: %s", err, bs)
				continue
			}

			select {
			case <-ctx.Done():
				return
			case c.in <- &msg:
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-c.out:
				if u == nil {
					return
				}
				js, err := json.Marshal(u)
				if err != nil {
					log.Printf("ws marshal error %s", err)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, js); err != nil {
					log.Printf("ws write error %s", err)
					return
				}
			}
		}
	}()

	return nil
}

func (c *WebSocketCouplings) IO(ctx context.Context) (chan *lio.Message, chan *lio.Update, chan bool, error) {
	return c.in, c.out, c.done, nil
}

func (c *WebSocketCouplings) Stop(ctx context.Context) error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
