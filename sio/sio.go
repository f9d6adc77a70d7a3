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

// Package sio connects transports to a process.
//
// Messages travel as JSON envelopes:
//
//    {"id":1,"op":"confirm","resource":"/","value":{"orderId":42}}
//
// A response carries "responseTo" (and maybe "fault").  An adapter
// decodes each inbound envelope, hands it to a Dispatcher along with
// a reply handle for the sender, and encodes whatever comes back.
package sio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/value"
)

// Dispatcher accepts inbound messages.  A *process.Dispatcher is
// one.
type Dispatcher interface {
	Deliver(ctx context.Context, m *core.Message, r core.Reply) error
}

// BadEnvelopeFault is the fault name in the reply to an envelope
// that can't be decoded.
const BadEnvelopeFault = "BadEnvelope"

// ErrNoOperation occurs when an envelope that isn't a response has no
// "op".
var ErrNoOperation = errors.New(`envelope has no "op"`)

// Decode parses an envelope.
func Decode(bs []byte) (*core.Message, error) {
	var m core.Message
	if err := json.Unmarshal(bs, &m); err != nil {
		return nil, err
	}
	if m.Operation == "" && !m.IsResponse() {
		return nil, ErrNoOperation
	}
	if m.Value == nil {
		m.Value = value.New()
	}
	if m.Resource == "" {
		m.Resource = "/"
	}
	return &m, nil
}

// Encode renders the message as an envelope.
func Encode(m *core.Message) ([]byte, error) {
	return json.Marshal(m)
}

// Inbound is what adapters share: decoding, id translation, and
// logging.
type Inbound struct {
	// Name identifies the adapter in logs.
	Name string

	Dispatcher Dispatcher

	// Verbose turns on logging.
	Verbose bool
}

// Logf logs only if Verbose.
func (in *Inbound) Logf(format string, args ...interface{}) {
	if !in.Verbose {
		return
	}
	log.Printf(in.Name+" "+format, args...)
}

// Errorf writes a log line with "ERROR" prepended.
func (in *Inbound) Errorf(format string, args ...interface{}) {
	log.Println("ERROR " + in.Name + " " + fmt.Sprintf(format, args...))
}

// Handle decodes an envelope and delivers it.  Replies go to r.
//
// The sender's id is swapped for a fresh one so that senders can't
// collide with each other.  Replies get the sender's id back.
func (in *Inbound) Handle(ctx context.Context, bs []byte, r core.Reply) error {
	m, err := Decode(bs)
	if err != nil {
		in.Errorf("bad envelope %s: %s", bs, err)
		bad := &core.Message{
			Fault: &core.Fault{
				Name:  BadEnvelopeFault,
				Value: value.NewString(err.Error()),
			},
		}
		if rerr := r.Reply(ctx, bad); rerr != nil {
			in.Errorf("reply: %s", rerr)
		}
		return err
	}

	if !m.IsResponse() {
		external := m.Id
		m.Id = core.NextId()
		if external != 0 {
			r = translate(r, m.Id, external)
		}
	}

	in.Logf("delivering %s (%d)", m.Operation, m.Id)
	if err = in.Dispatcher.Deliver(ctx, m, r); err != nil {
		// Already reported to the sender.
		in.Logf("delivery of %d: %s", m.Id, err)
	}
	return err
}

// translate gives replies the sender's id.
func translate(r core.Reply, internal, external uint64) core.Reply {
	return core.ReplyFunc(func(ctx context.Context, m *core.Message) error {
		if m.ResponseTo != internal {
			return r.Reply(ctx, m)
		}
		acc := *m
		acc.Id = external
		acc.ResponseTo = external
		return r.Reply(ctx, &acc)
	})
}
