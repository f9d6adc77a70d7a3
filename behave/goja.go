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

// Package behave provides session bodies written in JavaScript.
//
// A script runs once per session.  The runtime provides an object at
// "_" with these properties:
//
//    session: the session id.
//    receive(op...): wait for the next message (optionally of the
//      given operations).  Returns {id, op, resource, value}.
//    reply(msg, x): answer a request-response message.
//    replyFault(msg, name, x): answer with a fault.
//    fault(name, x): end the session with an uncaught fault.
//    get(path): read session state.
//    set(path, x): write session state.
//    log(x): log x as JSON.
//    gensym(): a fresh unique string.
//    cronNext(expr): the next time for the cron expression.
//
// See https://github.com/dop251/goja.
package behave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/process"
	"github.com/Comcast/corral/value"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned when a script is interrupted
	// because its context is done.
	Interrupted = errors.New(InterruptedMessage)
)

// ScriptErrorFault is the fault name for an uncaught JavaScript
// exception.
const ScriptErrorFault = "ScriptError"

// Script is a compiled session body.
type Script struct {
	Name string

	// Testing exposes sleep(ms).
	Testing bool

	// Verbose logs receives and replies.
	Verbose bool

	program *goja.Program
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

// Compile compiles the source, which can use "return".
func Compile(name, src string) (*Script, error) {
	p, err := goja.Compile(name, wrapSrc(src), true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Script{
		Name:    name,
		program: p,
	}, nil
}

// Behaviour returns the script as a session body.
func (s *Script) Behaviour() process.Behaviour {
	return s.Exec
}

func (s *Script) logf(format string, args ...interface{}) {
	if !s.Verbose {
		return
	}
	log.Printf("script %s "+format, append([]interface{}{s.Name}, args...)...)
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func export(x goja.Value) interface{} {
	if x == nil || goja.IsUndefined(x) || goja.IsNull(x) {
		return nil
	}
	return x.Export()
}

func toValue(o *goja.Runtime, x goja.Value) *value.Value {
	v, err := value.FromInterface(export(x))
	if err != nil {
		protest(o, err.Error())
	}
	return v
}

func messageObject(m *core.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":       int64(m.Id),
		"op":       m.Operation,
		"resource": m.Resource,
		"value":    m.Value.Interface(),
	}
}

// Exec runs the script as the body of the session.
//
// An uncaught exception is returned as a *core.SessionFault.
func (s *Script) Exec(ctx context.Context, sess *core.Session) error {
	var (
		o        = goja.New()
		received = make(map[int64]*core.Message, 4)
		fault    *core.SessionFault
	)

	// lookup finds a received message from its JavaScript
	// representation.
	lookup := func(x goja.Value) *core.Message {
		if x == nil || goja.IsUndefined(x) || goja.IsNull(x) {
			protest(o, "no message")
		}
		id := x.ToObject(o).Get("id")
		if id == nil {
			protest(o, "message has no id")
		}
		m, have := received[id.ToInteger()]
		if !have {
			protest(o, fmt.Sprintf("no received message %d", id.ToInteger()))
		}
		return m
	}

	env := map[string]interface{}{
		"session": sess.Id,
	}

	env["receive"] = func(call goja.FunctionCall) goja.Value {
		ops := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			ops = append(ops, a.String())
		}
		m, err := sess.Receive(ctx, ops...)
		if err != nil {
			protest(o, err.Error())
		}
		s.logf("session %s received %s (%d)", sess.Id, m.Operation, m.Id)
		received[int64(m.Id)] = m
		return o.ToValue(messageObject(m))
	}

	env["reply"] = func(m goja.Value, x goja.Value) {
		req := lookup(m)
		if err := sess.Reply(ctx, req, toValue(o, x)); err != nil {
			protest(o, err.Error())
		}
		s.logf("session %s replied to %d", sess.Id, req.Id)
	}

	env["replyFault"] = func(m goja.Value, name string, x goja.Value) {
		req := lookup(m)
		if err := sess.Fault(ctx, req, name, toValue(o, x)); err != nil {
			protest(o, err.Error())
		}
	}

	env["fault"] = func(name string, x goja.Value) {
		fault = &core.SessionFault{
			Name:  name,
			Value: toValue(o, x),
		}
		protest(o, fault.Error())
	}

	env["get"] = func(path string) interface{} {
		v, have := sess.Get(path)
		if !have {
			return nil
		}
		return v.Interface()
	}

	env["set"] = func(path string, x goja.Value) {
		if err := sess.Set(path, toValue(o, x)); err != nil {
			protest(o, err.Error())
		}
	}

	env["log"] = func(x interface{}) interface{} {
		switch vv := x.(type) {
		case goja.Value:
			x = vv.Export()
		}
		js, err := json.Marshal(&x)
		if err != nil {
			log.Println("behave.log (can't marshal: " + err.Error() + ")")
		} else {
			log.Println(string(js))
		}
		return x
	}

	env["gensym"] = func() interface{} {
		return uuid.NewString()
	}

	env["cronNext"] = func(expr string) interface{} {
		c, err := cronexpr.Parse(expr)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	}

	if s.Testing {
		env["sleep"] = func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	}

	o.Set("_", env)

	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		o.Interrupt(InterruptedMessage)
	}()

	_, err := o.RunProgram(s.program)
	cancel()

	if fault != nil {
		return fault
	}
	if err == nil {
		return nil
	}
	if _, is := err.(*goja.InterruptedError); is {
		return Interrupted
	}
	return &core.SessionFault{
		Name:  ScriptErrorFault,
		Value: value.NewString(err.Error()),
	}
}
