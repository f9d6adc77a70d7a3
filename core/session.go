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
	"sync"

	"github.com/Comcast/corral/value"

	"github.com/google/uuid"
)

// Watcher is told when a session's state may have changed in a way
// that affects correlation.
//
// A correlation engine attaches itself as a session's Watcher.  The
// session holds only this non-owning reference; the engine's
// registry owns the session.
type Watcher interface {
	CorrelationChanged(s *Session)
}

// Session is one running instance of a process.
//
// The session body (running in its own goroutine) owns the state and
// mutates it via Set and Update.  Routers only read it, via View and
// Resolve.  All access to the state goes through the session's lock.
type Session struct {
	// Id is a unique identifier for the session.
	Id string

	// Def is the process definition the session instantiates.
	Def *Definition

	// Initiator is the message that caused the session to start.
	// Nil for sessions that weren't started by a message.
	Initiator *Message

	mu           sync.Mutex
	state        *value.Value
	initialising bool
	watcher      Watcher

	// awaiting holds request-response envelopes that the body
	// has received but not yet answered.
	awaiting map[uint64]Envelope

	mailbox *Mailbox
}

// NewSession makes a session for the definition.  The state starts as
// a copy of the definition's Init (if any).
func NewSession(def *Definition, initiator *Message) *Session {
	state := value.New()
	if def != nil && def.Init != nil {
		state = def.Init.Copy()
	}
	return &Session{
		Id:        uuid.NewString(),
		Def:       def,
		Initiator: initiator,
		state:     state,
		awaiting:  make(map[uint64]Envelope, 2),
		mailbox:   NewMailbox(),
	}
}

// Mode returns the execution mode of the session's process.
func (s *Session) Mode() ExecutionMode {
	if s.Def == nil {
		return Single
	}
	return s.Def.Mode
}

// SetInitialising marks (or unmarks) the session as a process's
// initialising thread, which correlates with every message.
func (s *Session) SetInitialising(b bool) {
	s.mu.Lock()
	s.initialising = b
	s.mu.Unlock()
}

// IsInitialising reports whether the session is an initialising
// thread.
func (s *Session) IsInitialising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialising
}

// StartedBy reports whether the given message started this session.
func (s *Session) StartedBy(m *Message) bool {
	return s.Initiator != nil && m != nil && s.Initiator.Id == m.Id && !m.IsResponse()
}

// Attach sets the session's Watcher.
func (s *Session) Attach(w Watcher) {
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
}

// View calls the function with the live state under the session's
// lock.  The function must not retain or modify the state.
func (s *Session) View(f func(state *value.Value) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.state)
}

// Resolve returns a copy of the value at the path.
func (s *Session) Resolve(p value.Path) (*value.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := value.Resolve(s.state, p)
	if !ok {
		return nil, false
	}
	return v.Copy(), true
}

// Get is Resolve for a path in string syntax.
func (s *Session) Get(path string) (*value.Value, bool) {
	p, err := value.ParsePath(path)
	if err != nil {
		return nil, false
	}
	return s.Resolve(p)
}

// State returns a deep copy of the whole state.
func (s *Session) State() *value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Copy()
}

// Seed modifies the state without telling the Watcher.  For use
// before the session is registered.
func (s *Session) Seed(f func(state *value.Value)) {
	s.mu.Lock()
	f(s.state)
	s.mu.Unlock()
}

// Update modifies the state and then tells the Watcher (if any).
func (s *Session) Update(f func(state *value.Value)) {
	s.mu.Lock()
	f(s.state)
	w := s.watcher
	s.mu.Unlock()

	if w != nil {
		w.CorrelationChanged(s)
	}
}

// Set assigns a copy of v at the path (in string syntax).
func (s *Session) Set(path string, v *value.Value) error {
	p, err := value.ParsePath(path)
	if err != nil {
		return err
	}
	s.Update(func(state *value.Value) {
		value.Set(state, p, v)
	})
	return nil
}

// CorrelationChanged tells the Watcher (if any) to look at the state
// again.
func (s *Session) CorrelationChanged() {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w != nil {
		w.CorrelationChanged(s)
	}
}

// Deliver queues the message for the session body.
func (s *Session) Deliver(m *Message, r Reply) error {
	if r == nil {
		r = Discard
	}
	return s.mailbox.Put(Envelope{Msg: m, Reply: r})
}

// Pending returns the number of queued messages.
func (s *Session) Pending() int {
	return s.mailbox.Len()
}

// Receive blocks until the next message arrives.  When operations are
// given, only messages for those operations are taken; others stay
// queued in order.
func (s *Session) Receive(ctx context.Context, ops ...string) (*Message, error) {
	var accept func(*Message) bool
	if 0 < len(ops) {
		accept = func(m *Message) bool {
			for _, op := range ops {
				if m.Operation == op {
					return true
				}
			}
			return false
		}
	}
	e, err := s.mailbox.Take(ctx, accept)
	if err != nil {
		return nil, err
	}
	if s.Def != nil && s.Def.IsRequestResponse(e.Msg.Operation) {
		s.mu.Lock()
		s.awaiting[e.Msg.Id] = e
		s.mu.Unlock()
	}
	return e.Msg, nil
}

func (s *Session) answer(ctx context.Context, req *Message, resp *Message) error {
	s.mu.Lock()
	e, have := s.awaiting[req.Id]
	delete(s.awaiting, req.Id)
	s.mu.Unlock()
	if !have {
		return &NotAwaitingReply{Session: s.Id, Id: req.Id}
	}
	return e.Reply.Reply(ctx, resp)
}

// Reply answers a received request-response message.
func (s *Session) Reply(ctx context.Context, req *Message, v *value.Value) error {
	return s.answer(ctx, req, NewResponse(req, v))
}

// Fault answers a received request-response message with a fault.
func (s *Session) Fault(ctx context.Context, req *Message, name string, v *value.Value) error {
	return s.answer(ctx, req, NewFaultResponse(req, name, v))
}

// Close closes the mailbox.  Returns the envelopes that still need an
// answer: request-responses that were received but not answered,
// followed by everything that was still queued.
func (s *Session) Close() []Envelope {
	queued := s.mailbox.Close()

	s.mu.Lock()
	acc := make([]Envelope, 0, len(s.awaiting)+len(queued))
	for id, e := range s.awaiting {
		acc = append(acc, e)
		delete(s.awaiting, id)
	}
	s.watcher = nil
	s.mu.Unlock()

	return append(acc, queued...)
}
