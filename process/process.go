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

// Package process supervises the sessions of one deployed process.
//
// A CorrelatedProcess decides when sessions start and tracks them
// until they end.  A Dispatcher is the entry point for transports: it
// routes each inbound message to a live session via a
// correlation.Engine or asks the CorrelatedProcess to start a new
// session for it.
package process

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/correlation"
	"github.com/Comcast/corral/value"
)

// Behaviour is a session body.  It runs in the session's own
// goroutine.  A non-nil error is an uncaught fault.
type Behaviour func(ctx context.Context, s *core.Session) error

// ErrNotRunning occurs when input arrives for a process that has been
// closed.
var ErrNotRunning = errors.New("process not running")

// CorrelatedProcess governs how many sessions of a process are in
// flight.
//
// In Concurrent mode, every uncorrelated input starts a session right
// away.  In Sequential mode, such inputs queue up and Run starts them
// one at a time.  In Single mode, Run starts the one and only session
// itself.
type CorrelatedProcess struct {
	Def       *core.Definition
	Engine    correlation.Engine
	Behaviour Behaviour

	// Init (optional) runs as the process's initialising thread
	// before any other session.  Every message correlates with it
	// while it runs.
	Init Behaviour

	// Verbose turns on logging.
	Verbose bool

	// Gate (optional) is held while a queued Sequential session
	// starts, so that routing can't slip a newer message into the
	// session ahead of the older ones still queued.  A Dispatcher
	// sets it to its own lock.
	Gate sync.Locker

	mu   sync.Mutex
	cond *sync.Cond

	// running counts sessions in flight.
	running int

	// rerun is set when another session should start once the
	// current one finishes.
	rerun   bool
	backlog []core.Envelope

	// spent means a Single process's session has already run.
	spent  bool
	closed bool

	// ctx is the context sessions run in.  Set by Run.
	ctx   context.Context
	ready chan struct{}
}

type noGate struct{}

func (noGate) Lock()   {}
func (noGate) Unlock() {}

// NewCorrelatedProcess makes an idle CorrelatedProcess.
func NewCorrelatedProcess(def *core.Definition, engine correlation.Engine, b Behaviour) *CorrelatedProcess {
	p := &CorrelatedProcess{
		Def:       def,
		Engine:    engine,
		Behaviour: b,
		backlog:   make([]core.Envelope, 0, 8),
		ready:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *CorrelatedProcess) logf(format string, args ...interface{}) {
	if !p.Verbose {
		return
	}
	log.Printf("process %s "+format, append([]interface{}{p.Def.Name}, args...)...)
}

// Ready is closed once Run has registered whatever sessions it starts
// on its own, so input can be routed to them.
func (p *CorrelatedProcess) Ready() <-chan struct{} {
	return p.ready
}

// Running returns the number of sessions in flight.
func (p *CorrelatedProcess) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Run drives the process until it is closed (or ctx is done).
//
// In Single mode, Run starts the one session and returns when it
// ends.  In Sequential mode, Run starts queued sessions one after
// another, blocking on each.  In Concurrent mode, Run just waits until
// the process is closed and every session has ended.
func (p *CorrelatedProcess) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return errors.New("process already run")
	}
	p.ctx = ctx
	p.mu.Unlock()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
		}
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	if p.Init != nil {
		s := core.NewSession(p.Def, nil)
		s.SetInitialising(true)
		p.mu.Lock()
		p.running++
		p.mu.Unlock()
		p.Engine.OnSingleExecutionSessionStart(s)
		close(p.ready)
		p.execute(ctx, s, p.Init)
	}

	switch p.Def.Mode {
	case core.Single:
		return p.runSingle(ctx)
	case core.Sequential:
		p.markReady()
		return p.runSequential(ctx)
	default:
		p.markReady()
		return p.runConcurrent(ctx)
	}
}

func (p *CorrelatedProcess) markReady() {
	select {
	case <-p.ready:
	default:
		close(p.ready)
	}
}

func (p *CorrelatedProcess) runSingle(ctx context.Context) error {
	s := core.NewSession(p.Def, nil)

	p.mu.Lock()
	if p.closed || p.spent {
		p.mu.Unlock()
		p.markReady()
		return nil
	}
	p.spent = true
	p.running++
	p.mu.Unlock()

	if len(p.Def.CorrelationSets) == 0 {
		p.Engine.OnSingleExecutionSessionStart(s)
	} else {
		p.Engine.OnSessionStart(s, nil)
	}
	p.markReady()

	p.execute(ctx, s, p.Behaviour)
	return p.Wait(ctx)
}

func (p *CorrelatedProcess) runSequential(ctx context.Context) error {
	gate := p.Gate
	if gate == nil {
		gate = noGate{}
	}
	for {
		p.mu.Lock()
		for !p.rerun && !p.closed && ctx.Err() == nil {
			p.cond.Wait()
		}
		p.mu.Unlock()

		// The gate comes before p.mu.
		gate.Lock()
		p.mu.Lock()
		if ctx.Err() != nil {
			p.mu.Unlock()
			gate.Unlock()
			return ctx.Err()
		}
		if !p.rerun {
			closed := p.closed
			p.mu.Unlock()
			gate.Unlock()
			if closed {
				return nil
			}
			continue
		}
		e := p.backlog[0]
		p.backlog[0] = core.Envelope{}
		p.backlog = p.backlog[1:]
		s := p.begin(e)
		p.reroute()
		p.rerun = 0 < len(p.backlog)
		p.mu.Unlock()
		gate.Unlock()

		p.execute(ctx, s, p.Behaviour)
	}
}

// reroute offers every queued input, in order, to the live sessions
// and keeps only the ones that still don't correlate.  Must be called
// with the lock held.
func (p *CorrelatedProcess) reroute() {
	kept := p.backlog[:0]
	for _, e := range p.backlog {
		if p.Engine.Route(e.Msg, e.Reply) {
			p.logf("routed queued %s (%d)", e.Msg.Operation, e.Msg.Id)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.backlog); i++ {
		p.backlog[i] = core.Envelope{}
	}
	p.backlog = kept
}

func (p *CorrelatedProcess) runConcurrent(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !(p.closed && p.running == 0) && ctx.Err() == nil {
		p.cond.Wait()
	}
	return ctx.Err()
}

// begin makes and registers a session for the envelope and queues the
// starting message in its mailbox.  Must be called with the lock held.
func (p *CorrelatedProcess) begin(e core.Envelope) *core.Session {
	s := core.NewSession(p.Def, e.Msg)
	if err := s.Deliver(e.Msg, e.Reply); err != nil {
		// Can't happen: the mailbox is brand new.
		panic(err)
	}
	p.running++
	p.Engine.OnSessionStart(s, e.Msg)
	p.logf("started session %s for %s (%d running)", s.Id, e.Msg.Operation, p.running)
	return s
}

// InputReceived is told about an input that didn't correlate with any
// live session.
//
// A Concurrent process refuses input with ErrNotRunning until Run
// has been called.
//
// In Concurrent mode, a new session starts immediately and runs in
// parallel.  In Sequential mode, the input waits for Run to start its
// session after the current one.  A Single process can't start
// another session, so the input is refused with *core.NotCorrelated.
func (p *CorrelatedProcess) InputReceived(ctx context.Context, e core.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrNotRunning
	}

	switch p.Def.Mode {
	case core.Concurrent:
		// Sessions outlive the caller's ctx, so they need Run's.
		if p.ctx == nil {
			return ErrNotRunning
		}
		s := p.begin(e)
		go p.execute(p.ctx, s, p.Behaviour)
		return nil
	case core.Sequential:
		p.backlog = append(p.backlog, e)
		p.rerun = true
		p.cond.Broadcast()
		return nil
	default:
		return &core.NotCorrelated{
			Process:   p.Def.Name,
			Operation: e.Msg.Operation,
		}
	}
}

// execute runs the body and then does the bookkeeping for its end.
//
// The mailbox closes before the engine forgets the session, so a
// message routed in between fails over to another session instead of
// landing in a mailbox nobody reads.
func (p *CorrelatedProcess) execute(ctx context.Context, s *core.Session, b Behaviour) {
	err := p.call(ctx, s, b)
	left := s.Close()
	if err != nil {
		p.Engine.OnSessionError(s, err)
	} else {
		p.Engine.OnSessionExecuted(s)
	}

	p.answer(ctx, s, left, err)

	if err != nil {
		p.SignalFault(err)
	} else {
		p.SessionTerminated()
	}
}

// call runs the body, turning a panic into a fault.
func (p *CorrelatedProcess) call(ctx context.Context, s *core.Session, b Behaviour) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.SessionFault{
				Name:  "Panic",
				Value: value.NewString(fmt.Sprintf("%v", r)),
			}
		}
	}()
	if b == nil {
		return nil
	}
	return b(ctx, s)
}

// answer sends a fault to every requester that's still waiting.
func (p *CorrelatedProcess) answer(ctx context.Context, s *core.Session, left []core.Envelope, err error) {
	name, v := core.NoReplyFault, value.New()
	var sf *core.SessionFault
	if errors.As(err, &sf) {
		name, v = sf.Name, sf.Value
	} else if err != nil {
		v = value.NewString(err.Error())
	}

	for _, e := range left {
		if !p.Def.IsRequestResponse(e.Msg.Operation) {
			log.Printf("ERROR process %s session %s ended with %s (%d) unread", p.Def.Name, s.Id, e.Msg.Operation, e.Msg.Id)
			continue
		}
		if rerr := e.Reply.Reply(ctx, core.NewFaultResponse(e.Msg, name, v)); rerr != nil {
			log.Printf("ERROR process %s reply to %d: %s", p.Def.Name, e.Msg.Id, rerr)
		}
	}
}

// SessionTerminated records that a session ended normally.
func (p *CorrelatedProcess) SessionTerminated() {
	p.mu.Lock()
	p.running--
	p.logf("session terminated (%d running)", p.running)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// SignalFault records that a session ended with an uncaught fault.
func (p *CorrelatedProcess) SignalFault(err error) {
	p.mu.Lock()
	p.running--
	p.logf("session faulted: %v (%d running)", err, p.running)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Wait blocks until no session is in flight and none is queued.
func (p *CorrelatedProcess) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		p.mu.Lock()
		for (0 < p.running || p.rerun) && ctx.Err() == nil {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(idle)
	}()
	select {
	case <-ctx.Done():
		// Release the waiter.
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// Close stops the process from accepting input.  Sessions in flight
// (and, for a Sequential process, queued) keep going.
func (p *CorrelatedProcess) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}
