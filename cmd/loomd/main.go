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

// loomd runs a set of actors behind a choice of IO couplings: stdin
// and stdout, a WebSocket client, or an MQTT client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/loomworks/loom/lio"
	"github.com/loomworks/loom/mailbox"
	"github.com/loomworks/loom/runtime"
	"github.com/loomworks/loom/storage"
	"github.com/loomworks/loom/storage/bolt"
)

func main() {
	var (
		coupling   = flag.String("io", "std", `IO protocol: "std", "mq", or "ws"`)
		configFile = flag.String("c", "loomd.yaml", "Config filename")
		wait       = flag.Duration("wait", time.Second, "Wait this long before shutting down couplings")
		verbose    = flag.Bool("v", false, "Verbose")
		help       = flag.Bool("h", false, "Get usage")
	)

	flag.Parse()

	if *help {
		flag.PrintDefaults()

		{
			fmt.Fprintf(os.Stderr, "\n-io mq:\n\n")
			_, fs := NewMQTTCouplings(nil)
			fs.PrintDefaults()
		}

		{
			fmt.Fprintf(os.Stderr, "\n-io ws:\n\n")
			_, fs := NewWebSocketCouplings(nil)
			fs.PrintDefaults()
		}

		os.Exit(0)
	}

	if err := run(*configFile, *coupling, flag.Args(), *wait, *verbose); err != nil {
		log.Fatal(err)
	}
}

func run(configFile, coupling string, args []string, wait time.Duration, verbose bool) error {
	conf, err := ReadConfig(configFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store storage.Store
	if conf.StoreFile == "" {
		store = storage.NewMem()
	} else {
		bs := bolt.NewStore(conf.StoreFile)
		if err := bs.Open(ctx); err != nil {
			return err
		}
		defer bs.Close(ctx)
		store = bs
	}

	var mlog mailbox.Log
	if conf.LogFile == "" {
		mlog = mailbox.NewMemLog()
	} else {
		bl := mailbox.NewBoltLog(conf.LogFile)
		if err := bl.Open(ctx); err != nil {
			return err
		}
		defer bl.Close(ctx)
		mlog = bl
	}

	reg := runtime.NewRegistry()
	if conf.Definitions != "" {
		n, err := LoadDefinitions(reg, conf.Definitions)
		if err != nil {
			return err
		}
		log.Printf("loaded %d definitions from %s", n, conf.Definitions)
	}

	rt := runtime.NewRuntime(reg, store, mlog)
	rt.Debug = verbose
	rt.Diagnostics = make(chan runtime.Diagnostic, 128)
	defer rt.Shutdown()

	var cio lio.Couplings
	switch coupling {
	case "std":
		s := lio.NewStdio()
		s.Tags = true
		cio = s
	case "mq", "mqtt":
		c, _ := NewMQTTCouplings(args)
		cio = c
	case "ws":
		c, _ := NewWebSocketCouplings(args)
		cio = c
	default:
		return fmt.Errorf("unknown io: %q", coupling)
	}

	if err := cio.Start(ctx); err != nil {
		return err
	}
	in, out, done, err := cio.IO(ctx)
	if err != nil {
		return err
	}

	// Root actors answer to their definition names on the wire.
	roots := make(map[string]string, len(conf.Roots))
	for _, defName := range conf.Roots {
		a, err := rt.CreateActor(ctx, defName, "")
		if err != nil {
			return err
		}
		roots[defName] = a.Id
		log.Printf("root %s is %s", defName, a.Id)

		id := a.Id
		unwatch, err := rt.Watch(id, func(snapshot map[string]interface{}) {
			select {
			case <-ctx.Done():
			case out <- &lio.Update{Actor: id, Context: snapshot}:
			}
		})
		if err != nil {
			return err
		}
		defer unwatch()
	}

	ts := runtime.NewTimers(rt)
	defer ts.Shutdown()
	for _, tc := range conf.Timers {
		target := tc.Target
		if id, have := roots[target]; have {
			target = id
		}
		payload := stringKeys(tc.Payload)
		if tc.Cron != "" {
			err = ts.AddCron(ctx, tc.Id, tc.Cron, target, tc.Type, payload)
		} else {
			var after time.Duration
			if after, err = time.ParseDuration(tc.In); err == nil {
				err = ts.Add(ctx, tc.Id, target, tc.Type, payload, after)
			}
		}
		if err != nil {
			return err
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-rt.Diagnostics:
				select {
				case <-ctx.Done():
				case out <- &lio.Update{Actor: d.Actor, Diag: d.Err.Error()}:
				}
			}
		}
	}()

LOOP:
	for {
		select {
		case <-done:
			break LOOP
		case msg := <-in:
			if msg == nil {
				break LOOP
			}
			target := msg.To
			if id, have := roots[target]; have {
				target = id
			}
			if _, err := rt.Send(ctx, "", target, msg.Type, msg.Payload); err != nil {
				select {
				case <-ctx.Done():
				case out <- &lio.Update{Actor: msg.To, Diag: err.Error()}:
				}
			}
		}
	}

	if err := rt.SaveAll(ctx); err != nil {
		log.Printf("state save error %s", err)
	}

	time.Sleep(wait)
	cancel()
	return cio.Stop(context.Background())
}
