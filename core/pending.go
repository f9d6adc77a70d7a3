package core

import (
	"context"
	"sync"
)

// Pending correlates responses to outstanding requests by message id.
//
// This fast path is separate from correlation sets: a response names
// its request explicitly.
type Pending struct {
	sync.Mutex
	waiting map[uint64]chan *Message
}

func NewPending() *Pending {
	return &Pending{
		waiting: make(map[uint64]chan *Message, 8),
	}
}

// Expect registers interest in the response to the request with the
// given id.
func (p *Pending) Expect(id uint64) <-chan *Message {
	c := make(chan *Message, 1)
	p.Lock()
	p.waiting[id] = c
	p.Unlock()
	return c
}

// Cancel forgets about the id.
func (p *Pending) Cancel(id uint64) {
	p.Lock()
	delete(p.waiting, id)
	p.Unlock()
}

// Resolve hands the response to whoever is waiting for it.  Returns
// false if nobody is.
func (p *Pending) Resolve(m *Message) bool {
	p.Lock()
	c, have := p.waiting[m.ResponseTo]
	delete(p.waiting, m.ResponseTo)
	p.Unlock()
	if !have {
		return false
	}
	c <- m
	return true
}

// Len returns the number of outstanding requests.
func (p *Pending) Len() int {
	p.Lock()
	defer p.Unlock()
	return len(p.waiting)
}

// Await waits for the response to the request with the given id,
// which must have been registered with Expect.
func (p *Pending) Await(ctx context.Context, id uint64, c <-chan *Message) (*Message, error) {
	select {
	case <-ctx.Done():
		p.Cancel(id)
		return nil, ctx.Err()
	case m := <-c:
		return m, nil
	}
}
