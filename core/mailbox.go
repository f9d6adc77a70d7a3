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

	"github.com/eapache/queue"
)

// Mailbox is an unbounded FIFO of Envelopes for one session.
//
// Put never blocks, so a router can deliver while holding its own
// lock.  Take blocks until a suitable envelope arrives.
type Mailbox struct {
	sync.Mutex

	q      *queue.Queue
	closed bool

	// wake is closed (and replaced) whenever an envelope arrives or
	// the mailbox closes.
	wake chan struct{}
}

// NewMailbox makes an empty, open Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		q:    queue.New(),
		wake: make(chan struct{}),
	}
}

// Put appends the envelope.  Returns ErrMailboxClosed if the mailbox
// has been closed.
func (mb *Mailbox) Put(e Envelope) error {
	mb.Lock()
	defer mb.Unlock()
	if mb.closed {
		return ErrMailboxClosed
	}
	mb.q.Add(e)
	close(mb.wake)
	mb.wake = make(chan struct{})
	return nil
}

// Len returns the number of queued envelopes.
func (mb *Mailbox) Len() int {
	mb.Lock()
	n := mb.q.Length()
	mb.Unlock()
	return n
}

// Take removes and returns the first envelope accepted by the
// predicate (or the first envelope at all if the predicate is nil).
// Envelopes that aren't accepted keep their order.
func (mb *Mailbox) Take(ctx context.Context, accept func(*Message) bool) (Envelope, error) {
	for {
		mb.Lock()
		if e, found := mb.take(accept); found {
			mb.Unlock()
			return e, nil
		}
		if mb.closed {
			mb.Unlock()
			return Envelope{}, ErrMailboxClosed
		}
		wake := mb.wake
		mb.Unlock()

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-wake:
		}
	}
}

// take must be called with the lock held.
func (mb *Mailbox) take(accept func(*Message) bool) (Envelope, bool) {
	n := mb.q.Length()
	if n == 0 {
		return Envelope{}, false
	}
	if accept == nil || accept(mb.q.Peek().(Envelope).Msg) {
		return mb.q.Remove().(Envelope), true
	}
	at := -1
	for i := 1; i < n; i++ {
		if accept(mb.q.Get(i).(Envelope).Msg) {
			at = i
			break
		}
	}
	if at < 0 {
		return Envelope{}, false
	}
	// The queue only removes from the front, so rotate.
	var found Envelope
	for i := 0; i < n; i++ {
		e := mb.q.Remove().(Envelope)
		if i == at {
			found = e
			continue
		}
		mb.q.Add(e)
	}
	return found, true
}

// Close closes the mailbox and returns whatever was still queued.
func (mb *Mailbox) Close() []Envelope {
	mb.Lock()
	defer mb.Unlock()
	if mb.closed {
		return nil
	}
	mb.closed = true
	acc := make([]Envelope, 0, mb.q.Length())
	for 0 < mb.q.Length() {
		acc = append(acc, mb.q.Remove().(Envelope))
	}
	close(mb.wake)
	return acc
}
