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

package correlation

import (
	"strconv"
	"strings"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/value"
)

// HashEngine indexes sessions by their correlation values.
//
// For each correlation set, the engine computes a key from the
// session-side values and files the session under that key.  A
// message's key comes from its message-side values, so routing is a
// lookup rather than a scan.  A hit is always confirmed with
// Correlate before delivery.
//
// Sessions tell the engine about state changes via
// core.Session.Update, which calls CorrelationChanged.  A session
// whose correlation values are still undefined isn't filed, so it
// can't match until they're assigned.
//
// When a message's operation doesn't cover every session-side path
// of its set, the engine falls back to scanning.
type HashEngine struct {
	*base

	paths       map[*core.CorrelationSet][]value.Path
	index       map[*core.CorrelationSet]map[string][]*core.Session
	keys        map[*core.Session]map[*core.CorrelationSet]string
	byInitiator map[uint64]*core.Session

	// unindexed are sessions that don't depend on correlation
	// sets.
	unindexed []*core.Session
}

func newHashEngine(b *base) *HashEngine {
	e := &HashEngine{
		base:        b,
		paths:       make(map[*core.CorrelationSet][]value.Path, len(b.def.CorrelationSets)),
		index:       make(map[*core.CorrelationSet]map[string][]*core.Session, len(b.def.CorrelationSets)),
		keys:        make(map[*core.Session]map[*core.CorrelationSet]string, 32),
		byInitiator: make(map[uint64]*core.Session, 32),
	}
	for _, cset := range b.def.CorrelationSets {
		e.paths[cset] = cset.SessionPaths()
		e.index[cset] = make(map[string][]*core.Session, 32)
	}
	return e
}

// NewHashEngine makes a HashEngine with strict equality.
func NewHashEngine(def *core.Definition) *HashEngine {
	b, _ := newBase(def, Config{})
	return newHashEngine(b)
}

func writeKeyPart(acc *strings.Builder, p value.Path, k string) {
	ps := p.String()
	acc.WriteString(strconv.Itoa(len(ps)))
	acc.WriteByte(':')
	acc.WriteString(ps)
	acc.WriteString(strconv.Itoa(len(k)))
	acc.WriteByte(':')
	acc.WriteString(k)
}

// sessionKey computes the session's key for the set.  Returns false
// if any value is undefined.
func (e *HashEngine) sessionKey(s *core.Session, cset *core.CorrelationSet) (string, bool) {
	var acc strings.Builder
	ok := s.View(func(state *value.Value) bool {
		for _, p := range e.paths[cset] {
			v, ok := value.Resolve(state, p)
			if !ok || !v.IsDefined() {
				return false
			}
			writeKeyPart(&acc, p, e.key(v))
		}
		return true
	})
	return acc.String(), ok
}

type lookup int

const (
	found lookup = iota
	missing
	fallback
)

// messageKey computes the message's key for the set.
func (e *HashEngine) messageKey(m *core.Message, cset *core.CorrelationSet) (string, lookup) {
	pairs, _ := cset.Pairs(m.Operation)
	byPath := make(map[string]*value.Value, len(pairs))
	for _, p := range pairs {
		v, ok := value.Resolve(m.Value, p.Message)
		if !ok || !v.IsDefined() {
			return "", missing
		}
		byPath[p.Session.String()] = v
	}
	var acc strings.Builder
	for _, p := range e.paths[cset] {
		v, have := byPath[p.String()]
		if !have {
			return "", fallback
		}
		writeKeyPart(&acc, p, e.key(v))
	}
	return acc.String(), found
}

// reindex refiles the session.  Must be called with the lock held.
func (e *HashEngine) reindex(s *core.Session) {
	ks, registered := e.keys[s]
	if !registered {
		return
	}
	for _, cset := range e.def.CorrelationSets {
		old, had := ks[cset]
		k, ok := e.sessionKey(s, cset)
		if had == ok && old == k {
			continue
		}
		if had {
			e.unfile(cset, old, s)
			delete(ks, cset)
		}
		if ok {
			e.index[cset][k] = append(e.index[cset][k], s)
			ks[cset] = k
		}
	}
}

func (e *HashEngine) unfile(cset *core.CorrelationSet, k string, s *core.Session) {
	bucket := e.index[cset][k]
	for i, x := range bucket {
		if x == s {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(e.index[cset], k)
	} else {
		e.index[cset][k] = bucket
	}
}

// CorrelationChanged implements core.Watcher.
func (e *HashEngine) CorrelationChanged(s *core.Session) {
	e.Lock()
	e.reindex(s)
	e.Unlock()
}

func (e *HashEngine) deliver(s *core.Session, m *core.Message, r core.Reply) bool {
	if err := s.Deliver(m, r); err != nil {
		e.logf("Route %s to %s: %s", m.Operation, s.Id, err)
		return false
	}
	e.logf("Route %s (%d) to %s", m.Operation, m.Id, s.Id)
	return true
}

func (e *HashEngine) Route(m *core.Message, r core.Reply) bool {
	e.Lock()
	defer e.Unlock()

	if s, have := e.byInitiator[m.Id]; have && s.StartedBy(m) {
		if e.deliver(s, m, r) {
			return true
		}
	}

	for _, s := range e.unindexed {
		if e.correlate(s, m) && e.deliver(s, m, r) {
			return true
		}
	}

	cset := e.def.CorrelationSetFor(m.Operation)
	if cset == nil {
		if e.def.Mode == core.Single {
			for _, s := range e.sessions {
				if e.deliver(s, m, r) {
					return true
				}
			}
		}
		return false
	}

	k, outcome := e.messageKey(m, cset)
	switch outcome {
	case missing:
		return false
	case fallback:
		for _, s := range e.sessions {
			if e.correlate(s, m) && e.deliver(s, m, r) {
				return true
			}
		}
		return false
	}

	for _, s := range e.index[cset][k] {
		if e.correlate(s, m) && e.deliver(s, m, r) {
			return true
		}
	}

	e.logf("Route %s (%d) matched no session", m.Operation, m.Id)
	return false
}

func (e *HashEngine) OnSessionStart(s *core.Session, m *core.Message) {
	e.seed(s, m)
	e.Lock()
	e.add(s)
	e.keys[s] = make(map[*core.CorrelationSet]string, len(e.def.CorrelationSets))
	if s.Initiator != nil {
		e.byInitiator[s.Initiator.Id] = s
	}
	e.reindex(s)
	e.Unlock()
	s.Attach(e)
	e.logf("OnSessionStart %s", s.Id)
	e.started(s, m)
}

func (e *HashEngine) OnSingleExecutionSessionStart(s *core.Session) {
	e.Lock()
	e.add(s)
	e.unindexed = append(e.unindexed, s)
	e.Unlock()
	e.logf("OnSingleExecutionSessionStart %s", s.Id)
	e.started(s, nil)
}

// drop removes every trace of the session.  Must be called with the
// lock held.
func (e *HashEngine) drop(s *core.Session) bool {
	if !e.remove(s) {
		return false
	}
	for cset, k := range e.keys[s] {
		e.unfile(cset, k, s)
	}
	delete(e.keys, s)
	if s.Initiator != nil && e.byInitiator[s.Initiator.Id] == s {
		delete(e.byInitiator, s.Initiator.Id)
	}
	for i, x := range e.unindexed {
		if x == s {
			e.unindexed = append(e.unindexed[:i], e.unindexed[i+1:]...)
			break
		}
	}
	return true
}

func (e *HashEngine) OnSessionExecuted(s *core.Session) {
	e.Lock()
	dropped := e.drop(s)
	e.Unlock()
	if !dropped {
		e.logf("OnSessionExecuted %s: not registered", s.Id)
		return
	}
	s.Attach(nil)
	e.logf("OnSessionExecuted %s", s.Id)
	e.executed(s)
}

func (e *HashEngine) OnSessionError(s *core.Session, fault error) {
	e.Lock()
	dropped := e.drop(s)
	e.Unlock()
	if !dropped {
		e.logf("OnSessionError %s: not registered", s.Id)
		return
	}
	s.Attach(nil)
	e.faulted(s, fault)
}
