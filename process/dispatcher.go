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

package process

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/correlation"
	"github.com/Comcast/corral/value"
)

// Dispatcher is where transports hand over inbound messages.
//
// For each message, the Dispatcher either resolves it as a response
// to an outstanding request, routes it to a live session, starts a new
// session for it, or refuses it.
type Dispatcher struct {
	Def     *core.Definition
	Engine  correlation.Engine
	Process *CorrelatedProcess
	Pending *core.Pending

	// Verbose turns on logging.
	Verbose bool

	// mu makes route-or-start atomic, so two messages of the same
	// conversation can't both start a session.
	mu     sync.Mutex
	closed bool

	done chan error
}

// NewDispatcher makes a Dispatcher with its own CorrelatedProcess.
func NewDispatcher(def *core.Definition, engine correlation.Engine, b Behaviour) *Dispatcher {
	d := &Dispatcher{
		Def:     def,
		Engine:  engine,
		Process: NewCorrelatedProcess(def, engine, b),
		Pending: core.NewPending(),
	}
	d.Process.Gate = &d.mu
	return d
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if !d.Verbose {
		return
	}
	log.Printf("dispatcher %s "+format, append([]interface{}{d.Def.Name}, args...)...)
}

// Start runs the process in the background.  Returns once the
// process is ready for input.
func (d *Dispatcher) Start(ctx context.Context) {
	d.done = make(chan error, 1)
	go func() {
		d.done <- d.Process.Run(ctx)
	}()
	select {
	case <-ctx.Done():
	case <-d.Process.Ready():
	}
}

// Deliver handles one inbound message.
//
// A returned error has already been reported to the reply handle as a
// fault.  The errors are *core.UnknownOperation, *core.NotCorrelated,
// and ErrNotRunning.
func (d *Dispatcher) Deliver(ctx context.Context, m *core.Message, r core.Reply) error {
	if r == nil {
		r = core.Discard
	}

	if m.IsResponse() {
		if !d.Pending.Resolve(m) {
			d.logf("dropping response to %d: nobody's waiting", m.ResponseTo)
		}
		return nil
	}

	if _, have := d.Def.Operation(m.Operation); !have {
		err := &core.UnknownOperation{
			Process:   d.Def.Name,
			Operation: m.Operation,
		}
		d.refuse(ctx, m, r, core.UnknownOperationFault, err)
		return err
	}

	err := d.deliver(ctx, m, r)
	if err != nil {
		d.refuse(ctx, m, r, core.NotCorrelatedFault, err)
	}
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, m *core.Message, r core.Reply) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrNotRunning
	}
	if d.Engine.Route(m, r) {
		return nil
	}
	d.logf("no session for %s (%d)", m.Operation, m.Id)
	return d.Process.InputReceived(ctx, core.Envelope{Msg: m, Reply: r})
}

func (d *Dispatcher) refuse(ctx context.Context, m *core.Message, r core.Reply, name string, err error) {
	log.Printf("ERROR dispatcher %s refused %s (%d): %s", d.Def.Name, m.Operation, m.Id, err)
	if rerr := r.Reply(ctx, core.NewFaultResponse(m, name, value.NewString(err.Error()))); rerr != nil {
		log.Printf("ERROR dispatcher %s reply to %d: %s", d.Def.Name, m.Id, rerr)
	}
}

// Call sends a request through the given sink and waits for the
// response, which must come back through Deliver.
func (d *Dispatcher) Call(ctx context.Context, send core.Reply, req *core.Message) (*core.Message, error) {
	c := d.Pending.Expect(req.Id)
	if err := send.Reply(ctx, req); err != nil {
		d.Pending.Cancel(req.Id)
		return nil, err
	}
	resp, err := d.Pending.Await(ctx, req.Id, c)
	if err != nil {
		return nil, err
	}
	if resp.IsFault() {
		return resp, &core.SessionFault{Name: resp.Fault.Name, Value: resp.Fault.Value}
	}
	return resp, nil
}

// Close stops accepting input and waits (subject to ctx) for the
// sessions in flight to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.Process.Close()

	if err := d.Process.Wait(ctx); err != nil {
		return err
	}
	if d.done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-d.done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
