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

// Package correlation decides which live session, if any, an inbound
// message belongs to.
//
// An Engine keeps the registry of live sessions of one deployed
// process.  Route scans (or looks up) the registry and delivers the
// message to the first session that correlates.  When nothing
// correlates, Route returns false and the caller decides whether to
// start a new session.
//
// Two strategies share the same observable behavior: ScanEngine
// evaluates every session, and HashEngine keeps an index from
// correlation values to sessions.
package correlation

import (
	"errors"
	"log"
	"sync"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/value"
)

// Engine is the router for one deployed process.
type Engine interface {
	// Route delivers the message to the first session that
	// correlates with it and returns true, or returns false if no
	// session does.
	Route(m *core.Message, r core.Reply) bool

	// Correlate reports whether the message belongs to the
	// session.  Never fails: missing or mismatched values are just
	// non-matches.
	Correlate(s *core.Session, m *core.Message) bool

	// OnSessionStart registers the session and seeds its state
	// with the correlation values found in the starting message.
	OnSessionStart(s *core.Session, m *core.Message)

	// OnSingleExecutionSessionStart registers a session that
	// doesn't depend on correlation sets.
	OnSingleExecutionSessionStart(s *core.Session)

	// OnSessionExecuted unregisters a session that finished.
	OnSessionExecuted(s *core.Session)

	// OnSessionError unregisters a session that faulted.
	OnSessionError(s *core.Session, fault error)

	// Sessions returns the live sessions in start order.
	Sessions() []*core.Session

	// Len returns the number of live sessions.
	Len() int
}

// Observer hears about session lifecycle events.  Calls happen
// outside the registry lock.
type Observer interface {
	SessionStarted(s *core.Session, m *core.Message)
	SessionExecuted(s *core.Session)
	SessionFaulted(s *core.Session, fault error)
}

// Strategy selects an Engine implementation.
type Strategy string

const (
	Scan Strategy = "scan"
	Hash Strategy = "hash"
)

// Equality selects how correlation values are compared.
type Equality string

const (
	// Strict is type-sensitive: 5 and "5" differ.
	Strict Equality = "strict"

	// Loose compares textual renderings: 5 and "5" match.
	Loose Equality = "loose"
)

// Config selects and configures an Engine.
type Config struct {
	Strategy Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Equality Equality `json:"equality,omitempty" yaml:"equality,omitempty"`

	// Verbose turns on logging.
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Observer (optional) hears about lifecycle events.
	Observer Observer `json:"-" yaml:"-"`
}

// UnknownStrategy is returned by New for a Strategy it doesn't know.
var UnknownStrategy = errors.New("unknown correlation strategy")

// UnknownEquality is returned by New for an Equality it doesn't know.
var UnknownEquality = errors.New("unknown correlation equality")

// New makes an Engine for the definition.
func New(def *core.Definition, cfg Config) (Engine, error) {
	b, err := newBase(def, cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case Scan, "":
		return &ScanEngine{base: b}, nil
	case Hash:
		return newHashEngine(b), nil
	}
	return nil, UnknownStrategy
}

// base holds what the strategies share.
type base struct {
	sync.Mutex

	def      *core.Definition
	equal    func(a, b *value.Value) bool
	key      func(v *value.Value) string
	observer Observer
	verbose  bool

	// sessions are the live sessions in start order.
	sessions []*core.Session
}

func newBase(def *core.Definition, cfg Config) (*base, error) {
	b := &base{
		def:      def,
		observer: cfg.Observer,
		verbose:  cfg.Verbose,
		sessions: make([]*core.Session, 0, 32),
	}
	switch cfg.Equality {
	case Strict, "":
		b.equal = value.Equal
		b.key = (*value.Value).Key
	case Loose:
		b.equal = value.LooseEqual
		b.key = (*value.Value).LooseKey
	default:
		return nil, UnknownEquality
	}
	return b, nil
}

// logf logs if verbose.
func (b *base) logf(format string, args ...interface{}) {
	if !b.verbose {
		return
	}
	log.Printf("correlation "+format, args...)
}

// correlate is the matching algorithm.  Must not be called with the
// session's lock held.
func (b *base) correlate(s *core.Session, m *core.Message) bool {
	if s.StartedBy(m) || s.IsInitialising() {
		return true
	}

	cset := b.def.CorrelationSetFor(m.Operation)
	if cset == nil {
		// Without a set for the operation, only a SINGLE
		// process's sole session can take the message.
		return b.def.Mode == core.Single
	}

	pairs, _ := cset.Pairs(m.Operation)
	return s.View(func(state *value.Value) bool {
		for _, p := range pairs {
			sv, ok := value.Resolve(state, p.Session)
			if !ok {
				return false
			}
			mv, ok := value.Resolve(m.Value, p.Message)
			if !ok {
				return false
			}
			if !b.equal(sv, mv) {
				return false
			}
		}
		return true
	})
}

// seed copies message-side values into session-side paths for every
// set that indexes the starting message's operation.
func (b *base) seed(s *core.Session, m *core.Message) {
	if m == nil {
		return
	}
	sets := b.def.SetsFor(m.Operation)
	if len(sets) == 0 {
		return
	}
	s.Seed(func(state *value.Value) {
		for _, cset := range sets {
			pairs, _ := cset.Pairs(m.Operation)
			for _, p := range pairs {
				mv, ok := value.Resolve(m.Value, p.Message)
				if !ok || !mv.IsDefined() {
					continue
				}
				value.Set(state, p.Session, mv)
			}
		}
	})
}

// add appends the session.  Must be called with the lock held.
func (b *base) add(s *core.Session) {
	b.sessions = append(b.sessions, s)
}

// remove removes the session.  Must be called with the lock held.
// Returns false if the session wasn't registered.
func (b *base) remove(s *core.Session) bool {
	for i, x := range b.sessions {
		if x == s {
			copy(b.sessions[i:], b.sessions[i+1:])
			b.sessions[len(b.sessions)-1] = nil
			b.sessions = b.sessions[:len(b.sessions)-1]
			return true
		}
	}
	return false
}

func (b *base) Correlate(s *core.Session, m *core.Message) bool {
	return b.correlate(s, m)
}

func (b *base) Sessions() []*core.Session {
	b.Lock()
	acc := make([]*core.Session, len(b.sessions))
	copy(acc, b.sessions)
	b.Unlock()
	return acc
}

func (b *base) Len() int {
	b.Lock()
	defer b.Unlock()
	return len(b.sessions)
}

func (b *base) started(s *core.Session, m *core.Message) {
	if b.observer != nil {
		b.observer.SessionStarted(s, m)
	}
}

func (b *base) executed(s *core.Session) {
	if b.observer != nil {
		b.observer.SessionExecuted(s)
	}
}

func (b *base) faulted(s *core.Session, fault error) {
	opName := "?"
	if s.Initiator != nil {
		opName = s.Initiator.Operation
	}
	payload := "null"
	if f, is := fault.(*core.SessionFault); is && f.Value != nil {
		payload = f.Value.String()
	}
	log.Printf("ERROR session %s of %s faulted on %s: %v (payload %s)",
		s.Id, b.def.Name, opName, fault, payload)
	if b.observer != nil {
		b.observer.SessionFaulted(s, fault)
	}
}
