/* Copyright 2019 Comcast Cable Communications Management, LLC
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

package sio

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Comcast/corral/core"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT takes envelopes published to a topic.  Replies are published
// to ReplyTopic.
type MQTT struct {
	Inbound

	Client mqtt.Client

	// Topic is the subscription, optionally with a ":QOS" suffix.
	Topic string

	// ReplyTopic defaults to Topic + "/reply".
	ReplyTopic string

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint

	// PublishTimeout bounds waiting on a reply publication.
	PublishTimeout time.Duration
}

// NewMQTTOptions makes client options for the broker (for example
// "tcp://localhost:1883").
func NewMQTTOptions(broker, clientId string) *mqtt.ClientOptions {
	mqtt.ERROR = log.New(os.Stderr, "mqtt.error ", 0)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientId)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Printf("ERROR mqtt connection lost: %s", err)
	}
	return opts
}

// NewMQTT makes an MQTT adapter with a client for the options.
func NewMQTT(d Dispatcher, opts *mqtt.ClientOptions, topic string) *MQTT {
	t, _ := parseTopic(topic)
	return &MQTT{
		Inbound: Inbound{
			Name:       "mqtt",
			Dispatcher: d,
		},
		Client:         mqtt.NewClient(opts),
		Topic:          topic,
		ReplyTopic:     t + "/reply",
		Quiesce:        100,
		PublishTimeout: 5 * time.Second,
	}
}

// Start connects and subscribes.
func (c *MQTT) Start(ctx context.Context) error {
	c.Logf("connecting")
	if token := c.Client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	topic, qos := parseTopic(c.Topic)
	c.Logf("subscribing to %s (%d)", topic, qos)
	handler := func(client mqtt.Client, msg mqtt.Message) {
		c.Logf("incoming %s %s", msg.Topic(), msg.Payload())
		c.Handle(ctx, msg.Payload(), c)
	}
	if t := c.Client.Subscribe(topic, qos, handler); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

// Reply publishes the message to the reply topic.
func (c *MQTT) Reply(ctx context.Context, m *core.Message) error {
	js, err := Encode(m)
	if err != nil {
		return err
	}
	topic, qos := parseTopic(c.ReplyTopic)
	token := c.Client.Publish(topic, qos, false, js)
	if !token.WaitTimeout(c.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Stop unsubscribes and disconnects.
func (c *MQTT) Stop(ctx context.Context) error {
	topic, _ := parseTopic(c.Topic)
	if t := c.Client.Unsubscribe(topic); t.Wait() && t.Error() != nil {
		c.Errorf("unsubscribe: %s", t.Error())
	}
	c.Client.Disconnect(c.Quiesce)
	return nil
}

// parseTopic extracts the QoS from a topic of the form TOPIC:QOS.
func parseTopic(s string) (string, byte) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, 0
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 || 2 < n {
		return s, 0
	}
	return s[:i], byte(n)
}
