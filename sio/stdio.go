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

package sio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Comcast/corral/core"
)

// Stdio reads envelopes, one per line, from In and writes replies to
// Out.
//
// Blank lines and lines that start with "#" are ignored.  A line
// containing just "quit" ends input.
type Stdio struct {
	Inbound

	In  io.Reader
	Out io.Writer

	// Timestamps prepends a timestamp to each output line.
	Timestamps bool

	// EchoInput writes input lines (prepended with "input") to
	// the output.
	EchoInput bool

	// InputEOF will be closed at the end of input.
	InputEOF chan bool

	mu sync.Mutex
}

// NewStdio creates a new Stdio using os.Stdin and os.Stdout.
func NewStdio(d Dispatcher) *Stdio {
	return &Stdio{
		Inbound: Inbound{
			Name:       "stdio",
			Dispatcher: d,
		},
		In:       os.Stdin,
		Out:      os.Stdout,
		InputEOF: make(chan bool),
	}
}

func (s *Stdio) printf(format string, args ...interface{}) {
	if s.Timestamps {
		ts := fmt.Sprintf("%-31s", time.Now().UTC().Format(time.RFC3339Nano))
		format = ts + " " + format
	}
	s.mu.Lock()
	fmt.Fprintf(s.Out, format, args...)
	s.mu.Unlock()
}

// Reply writes the message as a line of output.
func (s *Stdio) Reply(ctx context.Context, m *core.Message) error {
	js, err := Encode(m)
	if err != nil {
		return err
	}
	s.printf("%s\n", js)
	return nil
}

// Run reads input until EOF, "quit", or ctx is done.
func (s *Stdio) Run(ctx context.Context) error {
	defer close(s.InputEOF)

	in := bufio.NewReader(s.In)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			s.Errorf("input: %s", err)
			return err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "quit" {
			return nil
		}
		if s.EchoInput && trimmed != "" {
			s.printf("input %s\n", trimmed)
		}
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			// Errors have been reported already.
			s.Handle(ctx, []byte(trimmed), s)
		}
		if err == io.EOF {
			s.Logf("input done")
			return nil
		}
	}
}
