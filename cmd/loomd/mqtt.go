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
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/loomworks/loom/lio"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTCouplings is a lio.Couplings for an MQTT client.  Inbound
// messages arrive on the subscription topics; updates go out on
// OutTopic.
type MQTTCouplings struct {
	Client    mqtt.Client
	Quiesce   uint
	SubTopics string
	OutTopic  string
	InTimeout time.Duration

	opts *mqtt.ClientOptions

	in   chan *lio.Message
	out  chan *lio.Update
	done chan bool
}

func NewMQTTCouplings(args []string) (*MQTTCouplings, *flag.FlagSet) {
	var (
		// Follow mosquitto_sub command line args.
		fs = flag.NewFlagSet("mq", flag.ExitOnError)

		broker    = fs.String("h", "tcp://localhost", "Broker hostname")
		clientId  = fs.String("i", "", "Client id")
		port      = fs.Int("p", 1883, "Broker port")
		keepAlive = fs.Int("k", 10, "Keep-alive in seconds")
		userName  = fs.String("u", "", "Username")
		password  = fs.String("P", "", "Password")
		reconnect = fs.Bool("reconnect", false, "Automatically attempt to reconnect")
		clean     = fs.Bool("c", true, "Clean session")
		quiesce   = fs.Int("quiesce", 100, "Disconnection quiescence (in milliseconds)")

		subTopics = fs.String("t", "loom/in", "Subscription topic(s), comma-separated")
		outTopic  = fs.String("out-topic", "loom/out", "Out-bound update topic")
		inTimeout = fs.Duration("in-timeout", time.Second, "Timeout for in-bound queuing")
	)

	if args == nil {
		return nil, fs
	}
	fs.Parse(args)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s:%d", *broker, *port))
	opts.SetKeepAlive(time.Duration(*keepAlive) * time.Second)
	opts.SetAutoReconnect(*reconnect)
	opts.SetCleanSession(*clean)
	if *clientId != "" {
		opts.SetClientID(*clientId)
	}
	if *userName != "" {
		opts.SetUsername(*userName)
	}
	if *password != "" {
		opts.SetPassword(*password)
	}

	c := &MQTTCouplings{
		Quiesce:   uint(*quiesce),
		SubTopics: *subTopics,
		OutTopic:  *outTopic,
		InTimeout: *inTimeout,
		opts:      opts,
	}
	return c, fs
}

// Start connects to the broker and subscribes.
func (c *MQTTCouplings) Start(ctx context.Context) error {
	c.in = make(chan *lio.Message)
	c.out = make(chan *lio.Update)
	c.done = make(chan bool)

	c.Client = mqtt.NewClient(c.opts)
	if t := c.Client.Connect(); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	handler := func(client mqtt.Client, m mqtt.Message) {
		var msg lio.Message
		if err := json.Unmarshal(m.Payload(), &msg); err != nil {
			log.Printf("mqtt bad input %s: %s", err, m.Payload())
			return
		}
		select {
		case <-ctx.Done():
		case c.in <- &msg:
		case <-time.After(c.InTimeout):
			log.Printf("mqtt in-bound timeout on %s", m.Topic())
		}
	}

	for _, topic := range strings.Split(c.SubTopics, ",") {
		if topic = strings.TrimSpace(topic); topic == "" {
			continue
		}
		if t := c.Client.Subscribe(topic, 0, handler); t.Wait() && t.Error() != nil {
			return t.Error()
		}
	}

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
					log.Printf("mqtt marshal error %s", err)
					continue
				}
				if t := c.Client.Publish(c.OutTopic, 0, false, js); t.Wait() && t.Error() != nil {
					log.Printf("mqtt publish error %s", t.Error())
				}
			}
		}
	}()

	return nil
}

func (c *MQTTCouplings) IO(ctx context.Context) (chan *lio.Message, chan *lio.Update, chan bool, error) {
	return c.in, c.out, c.done, nil
}

func (c *MQTTCouplings) Stop(ctx context.Context) error {
	c.Client.Disconnect(c.Quiesce)
	return nil
}
