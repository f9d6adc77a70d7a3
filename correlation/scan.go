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
	"github.com/Comcast/corral/core"
)

// ScanEngine evaluates Correlate against every live session in start
// order.  First match wins.
//
// One lock guards the registry for routing and membership changes.
// Matching is cheap compared to message I/O, so nothing finer is
// needed.
type ScanEngine struct {
	*base
}

// NewScanEngine makes a ScanEngine with strict equality.
func NewScanEngine(def *core.Definition) *ScanEngine {
	b, _ := newBase(def, Config{})
	return &ScanEngine{base: b}
}

func (e *ScanEngine) Route(m *core.Message, r core.Reply) bool {
	e.Lock()
	defer e.Unlock()

	for _, s := range e.sessions {
		if !e.correlate(s, m) {
			continue
		}
		if err := s.Deliver(m, r); err != nil {
			// The session is on its way out.
			e.logf("Route %s to %s: %s", m.Operation, s.Id, err)
			continue
		}
		e.logf("Route %s (%d) to %s", m.Operation, m.Id, s.Id)
		return true
	}

	e.logf("Route %s (%d) matched no session", m.Operation, m.Id)
	return false
}

func (e *ScanEngine) OnSessionStart(s *core.Session, m *core.Message) {
	e.seed(s, m)
	e.Lock()
	e.add(s)
	e.Unlock()
	e.logf("OnSessionStart %s", s.Id)
	e.started(s, m)
}

func (e *ScanEngine) OnSingleExecutionSessionStart(s *core.Session) {
	e.Lock()
	e.add(s)
	e.Unlock()
	e.logf("OnSingleExecutionSessionStart %s", s.Id)
	e.started(s, nil)
}

func (e *ScanEngine) OnSessionExecuted(s *core.Session) {
	e.Lock()
	removed := e.remove(s)
	e.Unlock()
	if !removed {
		e.logf("OnSessionExecuted %s: not registered", s.Id)
		return
	}
	e.logf("OnSessionExecuted %s", s.Id)
	e.executed(s)
}

func (e *ScanEngine) OnSessionError(s *core.Session, fault error) {
	e.Lock()
	removed := e.remove(s)
	e.Unlock()
	if !removed {
		e.logf("OnSessionError %s: not registered", s.Id)
		return
	}
	e.faulted(s, fault)
}
