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

package core

import (
	"context"
	"sync/atomic"

	"github.com/Comcast/corral/value"
)

// lastId is the source of message ids.
var lastId uint64

// NextId returns a fresh message id.
func NextId() uint64 {
	return atomic.AddUint64(&lastId, 1)
}

// Fault is a named error value carried by a Message.
type Fault struct {
	Name  string       `json:"name"`
	Value *value.Value `json:"value,omitempty"`
}

// Message is an immutable unit of communication.
//
// A response reuses the id of its request in ResponseTo.  Id-based
// correlation of responses is independent of correlation sets.
type Message struct {
	Id         uint64       `json:"id"`
	Operation  string       `json:"op"`
	Resource   string       `json:"resource,omitempty"`
	Value      *value.Value `json:"value,omitempty"`
	Fault      *Fault       `json:"fault,omitempty"`
	ResponseTo uint64       `json:"responseTo,omitempty"`
}

// NewMessage makes a request or notification with a fresh id.
func NewMessage(op string, v *value.Value) *Message {
	if v == nil {
		v = value.New()
	}
	return &Message{
		Id:        NextId(),
		Operation: op,
		Resource:  "/",
		Value:     v,
	}
}

// NewResponse makes the response to the given request.
func NewResponse(req *Message, v *value.Value) *Message {
	if v == nil {
		v = value.New()
	}
	return &Message{
		Id:         req.Id,
		Operation:  req.Operation,
		Resource:   req.Resource,
		Value:      v,
		ResponseTo: req.Id,
	}
}

// NewFaultResponse makes a response that carries a fault.
func NewFaultResponse(req *Message, name string, v *value.Value) *Message {
	r := NewResponse(req, value.New())
	r.Fault = &Fault{
		Name:  name,
		Value: v,
	}
	return r
}

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.ResponseTo != 0
}

// IsFault reports whether the message carries a fault.
func (m *Message) IsFault() bool {
	return m.Fault != nil
}

// Reply is the opaque sink for responses to a message.
//
// Transports provide Replies.  The core only passes them along.
type Reply interface {
	Reply(ctx context.Context, m *Message) error
}

// ReplyFunc adapts a function to a Reply.
type ReplyFunc func(ctx context.Context, m *Message) error

func (f ReplyFunc) Reply(ctx context.Context, m *Message) error {
	return f(ctx, m)
}

// Discard is a Reply that drops everything.
var Discard Reply = ReplyFunc(func(context.Context, *Message) error {
	return nil
})

// Envelope is a Message together with the Reply for it.
type Envelope struct {
	Msg   *Message
	Reply Reply
}
