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
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/correlation"
	"github.com/Comcast/corral/value"
)

func ordersDef(mode core.ExecutionMode) *core.Definition {
	return &core.Definition{
		Name: "orders",
		Mode: mode,
		Operations: map[string]*core.Operation{
			"place":   {Name: "place", Kind: core.RequestResponse},
			"confirm": {Name: "confirm"},
			"status":  {Name: "status", Kind: core.RequestResponse},
		},
		CorrelationSets: []*core.CorrelationSet{{
			Name: "order",
			Operations: map[string][]core.CorrelationPair{
				"place": {{
					Session: value.MustParsePath("/orderId"),
					Message: value.MustParsePath("/id"),
				}},
				"confirm": {{
					Session: value.MustParsePath("/orderId"),
					Message: value.MustParsePath("/id"),
				}},
				"status": {{
					Session: value.MustParsePath("/orderId"),
					Message: value.MustParsePath("/id"),
				}},
			},
		}},
	}
}

// replies collects responses.
type replies chan *core.Message

func (r replies) Reply(ctx context.Context, m *core.Message) error {
	r <- m
	return nil
}

func (r replies) next(t *testing.T) *core.Message {
	t.Helper()
	select {
	case m := <-r:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for a reply")
		return nil
	}
}

func msg(op, js string) *core.Message {
	return core.NewMessage(op, value.MustParseJSON(js))
}

// orderBody answers "place", waits for "confirm", then answers
// "status" with the confirmation.
func orderBody(ctx context.Context, s *core.Session) error {
	m, err := s.Receive(ctx, "place")
	if err != nil {
		return err
	}
	if err := s.Reply(ctx, m, value.NewString("placed")); err != nil {
		return err
	}
	c, err := s.Receive(ctx, "confirm")
	if err != nil {
		return err
	}
	by, _ := value.Resolve(c.Value, value.MustParsePath("/by"))
	if err := s.Set("/confirmedBy", by); err != nil {
		return err
	}
	q, err := s.Receive(ctx, "status")
	if err != nil {
		return err
	}
	who, _ := s.Get("/confirmedBy")
	return s.Reply(ctx, q, who)
}

func newDispatcher(t *testing.T, mode core.ExecutionMode, strategy correlation.Strategy, b Behaviour) (*Dispatcher, context.Context, func()) {
	def := ordersDef(mode)
	e, err := correlation.New(def, correlation.Config{Strategy: strategy})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(def, e, b)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	d.Start(ctx)
	return d, ctx, cancel
}

func TestConcurrentConversations(t *testing.T) {
	for _, strategy := range []correlation.Strategy{correlation.Scan, correlation.Hash} {
		t.Run(string(strategy), func(t *testing.T) {
			d, ctx, cancel := newDispatcher(t, core.Concurrent, strategy, orderBody)
			defer cancel()

			rs := make(replies, 8)
			for _, id := range []int{1, 2} {
				if err := d.Deliver(ctx, msg("place", fmt.Sprintf(`{"id":%d}`, id)), rs); err != nil {
					t.Fatal(err)
				}
				if got := rs.next(t); got.IsFault() {
					t.Fatalf("fault %s", got.Fault.Name)
				}
			}
			if n := d.Engine.Len(); n != 2 {
				t.Fatalf("wanted 2 sessions, got %d", n)
			}

			if err := d.Deliver(ctx, msg("confirm", `{"id":2,"by":"bob"}`), nil); err != nil {
				t.Fatal(err)
			}
			if err := d.Deliver(ctx, msg("confirm", `{"id":1,"by":"alice"}`), nil); err != nil {
				t.Fatal(err)
			}

			for id, who := range map[int]string{1: "alice", 2: "bob"} {
				if err := d.Deliver(ctx, msg("status", fmt.Sprintf(`{"id":%d}`, id)), rs); err != nil {
					t.Fatal(err)
				}
				got := rs.next(t)
				if s, _ := got.Value.StrValue(); s != who {
					t.Fatalf("order %d confirmed by %q", id, s)
				}
			}

			if err := d.Close(ctx); err != nil {
				t.Fatal(err)
			}
			if n := d.Engine.Len(); n != 0 {
				t.Fatalf("%d sessions left", n)
			}
		})
	}
}

func TestSequentialOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		release = make(chan struct{})
	)
	body := func(ctx context.Context, s *core.Session) error {
		mu.Lock()
		active++
		if maxSeen < active {
			maxSeen = active
		}
		mu.Unlock()

		m, err := s.Receive(ctx)
		if err != nil {
			return err
		}
		<-release
		err = s.Reply(ctx, m, nil)

		mu.Lock()
		active--
		mu.Unlock()
		return err
	}

	d, ctx, cancel := newDispatcher(t, core.Sequential, correlation.Scan, body)
	defer cancel()

	rs := make(replies, 8)
	for id := 0; id < 3; id++ {
		if err := d.Deliver(ctx, msg("place", fmt.Sprintf(`{"id":%d}`, id)), rs); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		release <- struct{}{}
		if got := rs.next(t); got.IsFault() {
			t.Fatalf("fault %s", got.Fault.Name)
		}
	}

	if err := d.Close(ctx); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("%d sessions ran at once", maxSeen)
	}
}

func TestSingleWithoutSets(t *testing.T) {
	def := ordersDef(core.Single)
	def.CorrelationSets = nil
	e, _ := correlation.New(def, correlation.Config{})

	got := make(chan string, 8)
	body := func(ctx context.Context, s *core.Session) error {
		for i := 0; i < 3; i++ {
			m, err := s.Receive(ctx)
			if err != nil {
				return err
			}
			got <- m.Operation
		}
		return nil
	}

	d := NewDispatcher(def, e, body)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Start(ctx)

	for _, op := range []string{"confirm", "place", "status"} {
		if err := d.Deliver(ctx, msg(op, `{}`), nil); err != nil {
			t.Fatal(err)
		}
		if x := <-got; x != op {
			t.Fatalf("got %s, wanted %s", x, op)
		}
	}
	if err := d.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// The one session is gone, and there won't be another.
	err := d.Deliver(ctx, msg("confirm", `{}`), nil)
	if err != ErrNotRunning {
		t.Fatalf("got %v", err)
	}
}

func TestSingleRefusesUncorrelated(t *testing.T) {
	def := ordersDef(core.Single)
	e, _ := correlation.New(def, correlation.Config{})
	body := func(ctx context.Context, s *core.Session) error {
		s.Set("/orderId", value.NewInt(1))
		_, err := s.Receive(ctx)
		return err
	}
	d := NewDispatcher(def, e, body)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Start(ctx)

	rs := make(replies, 2)
	err := d.Deliver(ctx, msg("confirm", `{"id":2}`), rs)
	var nc *core.NotCorrelated
	if !errors.As(err, &nc) {
		t.Fatalf("got %v", err)
	}
	if got := rs.next(t); !got.IsFault() || got.Fault.Name != core.NotCorrelatedFault {
		t.Fatalf("got %#v", got)
	}
	cancel()
}

func TestFaultEndsOnlyThatSession(t *testing.T) {
	d, ctx, cancel := newDispatcher(t, core.Concurrent, correlation.Hash, faultyBody)
	defer cancel()

	rs := make(replies, 8)
	d.Deliver(ctx, msg("place", `{"id":12}`), rs)
	if got := rs.next(t); got.IsFault() {
		t.Fatalf("fault %s", got.Fault.Name)
	}
	d.Deliver(ctx, msg("place", `{"id":13}`), rs)
	got := rs.next(t)
	if !got.IsFault() || got.Fault.Name != "Unlucky" {
		t.Fatalf("got %#v", got)
	}

	waitFor(t, func() bool { return d.Engine.Len() == 1 })

	d.Deliver(ctx, msg("confirm", `{"id":12,"by":"carol"}`), nil)
	d.Deliver(ctx, msg("status", `{"id":12}`), rs)
	if s, _ := rs.next(t).Value.StrValue(); s != "carol" {
		t.Fatalf("got %q", s)
	}
}

// faultyBody faults on order 13 and otherwise acts like orderBody.
func faultyBody(ctx context.Context, s *core.Session) error {
	if id, ok := s.Get("/orderId"); ok && value.Equal(id, value.NewInt(13)) {
		m, err := s.Receive(ctx, "place")
		if err != nil {
			return err
		}
		return &core.SessionFault{Name: "Unlucky", Value: m.Value}
	}
	return orderBody(ctx, s)
}

func waitFor(t *testing.T, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatal("timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNoReply(t *testing.T) {
	body := func(ctx context.Context, s *core.Session) error {
		_, err := s.Receive(ctx)
		return err
	}
	d, ctx, cancel := newDispatcher(t, core.Concurrent, correlation.Scan, body)
	defer cancel()

	rs := make(replies, 2)
	d.Deliver(ctx, msg("place", `{"id":1}`), rs)
	got := rs.next(t)
	if !got.IsFault() || got.Fault.Name != core.NoReplyFault {
		t.Fatalf("got %#v", got)
	}
}

func TestPanicIsAFault(t *testing.T) {
	body := func(ctx context.Context, s *core.Session) error {
		panic("oops")
	}
	d, ctx, cancel := newDispatcher(t, core.Concurrent, correlation.Scan, body)
	defer cancel()

	rs := make(replies, 2)
	d.Deliver(ctx, msg("place", `{"id":1}`), rs)
	got := rs.next(t)
	if !got.IsFault() || got.Fault.Name != "Panic" {
		t.Fatalf("got %#v", got)
	}
	waitFor(t, func() bool { return d.Process.Running() == 0 })
}

func TestUnknownOperation(t *testing.T) {
	d, ctx, cancel := newDispatcher(t, core.Concurrent, correlation.Scan, orderBody)
	defer cancel()

	rs := make(replies, 2)
	err := d.Deliver(ctx, msg("refund", `{"id":1}`), rs)
	var uo *core.UnknownOperation
	if !errors.As(err, &uo) {
		t.Fatalf("got %v", err)
	}
	if got := rs.next(t); got.Fault.Name != core.UnknownOperationFault {
		t.Fatalf("got %#v", got)
	}
	if d.Engine.Len() != 0 {
		t.Fatal("started a session for an unknown operation")
	}
}

func TestCallResolvesById(t *testing.T) {
	d, ctx, cancel := newDispatcher(t, core.Concurrent, correlation.Scan, orderBody)
	defer cancel()

	req := core.NewMessage("quote", value.MustParseJSON(`{"sku":"x"}`))

	// The "remote" answers asynchronously via Deliver.
	send := core.ReplyFunc(func(ctx context.Context, m *core.Message) error {
		go d.Deliver(ctx, core.NewResponse(m, value.NewInt(99)), nil)
		return nil
	})

	resp, err := d.Call(ctx, send, req)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := resp.Value.IntValue(); n != 99 {
		t.Fatalf("got %s", resp.Value)
	}
	if d.Engine.Len() != 0 {
		t.Fatal("a response started a session")
	}
}

func TestInitialisingThread(t *testing.T) {
	def := ordersDef(core.Concurrent)
	e, _ := correlation.New(def, correlation.Config{Strategy: correlation.Hash})

	seen := make(chan string, 1)
	d := NewDispatcher(def, e, orderBody)
	d.Process.Init = func(ctx context.Context, s *core.Session) error {
		m, err := s.Receive(ctx)
		if err != nil {
			return err
		}
		seen <- m.Operation
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Start(ctx)

	// Correlates with the initialising thread despite the set.
	if err := d.Deliver(ctx, msg("confirm", `{"id":404}`), nil); err != nil {
		t.Fatal(err)
	}
	select {
	case op := <-seen:
		if op != "confirm" {
			t.Fatalf("got %s", op)
		}
	case <-ctx.Done():
		t.Fatal("timeout")
	}

	waitFor(t, func() bool { return d.Engine.Len() == 0 })

	rs := make(replies, 1)
	if err := d.Deliver(ctx, msg("place", `{"id":1}`), rs); err != nil {
		t.Fatal(err)
	}
	if got := rs.next(t); got.IsFault() {
		t.Fatalf("fault %s", got.Fault.Name)
	}
}

func TestSequentialQueuedFollowUps(t *testing.T) {
	for _, strategy := range []correlation.Strategy{correlation.Scan, correlation.Hash} {
		t.Run(string(strategy), func(t *testing.T) {
			d, ctx, cancel := newDispatcher(t, core.Sequential, strategy, orderBody)
			defer cancel()

			// Order 2's confirm arrives while order 1's session
			// still runs, so it waits in the queue behind place 2.
			var (
				rs    = make(replies, 8)
				place = map[uint64]int{}
				stat  = map[uint64]int{}
			)
			send := func(op, js string) *core.Message {
				m := msg(op, js)
				if err := d.Deliver(ctx, m, rs); err != nil {
					t.Fatal(err)
				}
				return m
			}
			place[send("place", `{"id":1}`).Id] = 1
			place[send("place", `{"id":2}`).Id] = 2
			send("confirm", `{"id":2,"by":"bob"}`)
			send("confirm", `{"id":1,"by":"alice"}`)
			stat[send("status", `{"id":1}`).Id] = 1
			stat[send("status", `{"id":2}`).Id] = 2

			want := map[int]string{1: "alice", 2: "bob"}
			for i := 0; i < 4; i++ {
				got := rs.next(t)
				if got.IsFault() {
					t.Fatalf("fault %s for %d", got.Fault.Name, got.ResponseTo)
				}
				s, _ := got.Value.StrValue()
				if _, have := place[got.ResponseTo]; have {
					if s != "placed" {
						t.Fatalf("place got %q", s)
					}
					continue
				}
				order, have := stat[got.ResponseTo]
				if !have {
					t.Fatalf("unexpected reply to %d", got.ResponseTo)
				}
				if s != want[order] {
					t.Fatalf("order %d status got %q, wanted %q", order, s, want[order])
				}
			}

			if err := d.Close(ctx); err != nil {
				t.Fatal(err)
			}
		})
	}
}

// lateRouter routes a message to a session that has just finished,
// before the engine forgets it.
type lateRouter struct {
	correlation.Engine
	m      *core.Message
	routed chan bool
}

func (e *lateRouter) OnSessionExecuted(s *core.Session) {
	e.routed <- e.Engine.Route(e.m, nil)
	e.Engine.OnSessionExecuted(s)
}

func TestNoDeliveryToFinishedSession(t *testing.T) {
	def := ordersDef(core.Concurrent)
	inner, err := correlation.New(def, correlation.Config{})
	if err != nil {
		t.Fatal(err)
	}
	e := &lateRouter{
		Engine: inner,
		m:      msg("confirm", `{"id":5}`),
		routed: make(chan bool, 1),
	}
	body := func(ctx context.Context, s *core.Session) error {
		m, err := s.Receive(ctx, "place")
		if err != nil {
			return err
		}
		return s.Reply(ctx, m, nil)
	}

	d := NewDispatcher(def, e, body)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Start(ctx)

	rs := make(replies, 1)
	if err := d.Deliver(ctx, msg("place", `{"id":5}`), rs); err != nil {
		t.Fatal(err)
	}
	rs.next(t)

	select {
	case routed := <-e.routed:
		if routed {
			t.Fatal("message went to a session that had finished")
		}
	case <-ctx.Done():
		t.Fatal("timeout")
	}
}

func TestConcurrentNeedsRun(t *testing.T) {
	def := ordersDef(core.Concurrent)
	e, _ := correlation.New(def, correlation.Config{})
	p := NewCorrelatedProcess(def, e, orderBody)

	err := p.InputReceived(context.Background(), core.Envelope{
		Msg:   msg("place", `{"id":1}`),
		Reply: core.Discard,
	})
	if err != ErrNotRunning {
		t.Fatalf("got %v", err)
	}
	if n := p.Running(); n != 0 {
		t.Fatalf("%d running", n)
	}
}

func TestRunLeavesNoGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	def := ordersDef(core.Concurrent)
	e, _ := correlation.New(def, correlation.Config{})
	p := NewCorrelatedProcess(def, e, orderBody)

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background())
	}()
	<-p.Ready()
	p.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run didn't return")
	}

	waitFor(t, func() bool { return runtime.NumGoroutine() <= before })
}
