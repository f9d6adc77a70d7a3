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

// Package store keeps a journal of session lifecycles.
package store

import (
	"context"
	"log"
	"time"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/value"
)

type Status string

const (
	Started  Status = "started"
	Executed Status = "executed"
	Faulted  Status = "faulted"
)

// Entry records one lifecycle event of a session.
type Entry struct {
	Session   string       `json:"session"`
	Status    Status       `json:"status"`
	Operation string       `json:"op,omitempty"`
	State     *value.Value `json:"state,omitempty"`
	Fault     string       `json:"fault,omitempty"`
	At        time.Time    `json:"at"`
}

// Storage is a persistence interface for journals.
type Storage interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// Append adds the entry to the process's journal.
	Append(ctx context.Context, process string, e *Entry) error

	// Entries returns the process's journal in order.
	Entries(ctx context.Context, process string) ([]*Entry, error)

	// Remove deletes the process's journal.
	Remove(ctx context.Context, process string) error
}

// Journal records lifecycle events in a Storage.  A Journal is a
// correlation.Observer.
type Journal struct {
	Process string
	Storage Storage

	// Now defaults to time.Now.
	Now func() time.Time
}

func NewJournal(process string, s Storage) *Journal {
	return &Journal{
		Process: process,
		Storage: s,
		Now:     time.Now,
	}
}

func (j *Journal) record(s *core.Session, status Status, op string, fault error) {
	e := &Entry{
		Session:   s.Id,
		Status:    status,
		Operation: op,
		State:     s.State(),
		At:        j.Now().UTC(),
	}
	if fault != nil {
		e.Fault = fault.Error()
	}
	if err := j.Storage.Append(context.Background(), j.Process, e); err != nil {
		log.Printf("ERROR journal %s session %s: %s", j.Process, s.Id, err)
	}
}

func initiator(s *core.Session) string {
	if s.Initiator == nil {
		return ""
	}
	return s.Initiator.Operation
}

func (j *Journal) SessionStarted(s *core.Session, m *core.Message) {
	op := ""
	if m != nil {
		op = m.Operation
	}
	j.record(s, Started, op, nil)
}

func (j *Journal) SessionExecuted(s *core.Session) {
	j.record(s, Executed, initiator(s), nil)
}

func (j *Journal) SessionFaulted(s *core.Session, fault error) {
	j.record(s, Faulted, initiator(s), fault)
}

// Live returns the sessions that started but haven't ended, in the
// order they started.
func Live(es []*Entry) []string {
	var (
		order  = make([]string, 0, len(es))
		status = make(map[string]Status, len(es))
	)
	for _, e := range es {
		if _, have := status[e.Session]; !have {
			order = append(order, e.Session)
		}
		status[e.Session] = e.Status
	}
	acc := make([]string, 0, len(order))
	for _, id := range order {
		if status[id] == Started {
			acc = append(acc, id)
		}
	}
	return acc
}

// NoopStorage stores nothing.
type NoopStorage struct {
}

func (s *NoopStorage) Open(ctx context.Context) error {
	return nil
}

func (s *NoopStorage) Close(ctx context.Context) error {
	return nil
}

func (s *NoopStorage) Append(ctx context.Context, process string, e *Entry) error {
	return nil
}

func (s *NoopStorage) Entries(ctx context.Context, process string) ([]*Entry, error) {
	return nil, nil
}

func (s *NoopStorage) Remove(ctx context.Context, process string) error {
	return nil
}
