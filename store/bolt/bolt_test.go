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

package bolt

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Comcast/corral/store"
	"github.com/Comcast/corral/value"
)

func TestImpl(t *testing.T) {
	// Just confirm that this code compiles.
	var _ store.Storage = &Storage{}
}

func TestBasics(t *testing.T) {
	var (
		filename = "journal.db"
		pid      = "orders"
	)

	s, err := NewStorage(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			return
		}
		if err := os.Remove(filename); err != nil {
			t.Fatal(err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if err := s.Close(ctx); err != nil {
			t.Fatal(err)
		}
	}()

	es, err := s.Entries(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 0 {
		t.Fatalf("got %d entries from nothing", len(es))
	}

	at := time.Date(2019, 4, 1, 12, 0, 0, 0, time.UTC)
	// More than 255 entries to check the key order.
	for i := 0; i < 300; i++ {
		e := &store.Entry{
			Session: "a",
			Status:  store.Started,
			State:   value.NewInt(int64(i)),
			At:      at,
		}
		if err := s.Append(ctx, pid, e); err != nil {
			t.Fatal(err)
		}
	}

	if es, err = s.Entries(ctx, pid); err != nil {
		t.Fatal(err)
	}
	if len(es) != 300 {
		t.Fatalf("got %d entries", len(es))
	}
	for i, e := range es {
		if n, _ := e.State.IntValue(); n != int64(i) {
			t.Fatalf("entry %d has state %s", i, e.State)
		}
	}
	if !es[0].At.Equal(at) {
		t.Fatalf("at %s", es[0].At)
	}

	if err := s.Remove(ctx, pid); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, pid); err != nil {
		t.Fatal(err)
	}
	if es, err = s.Entries(ctx, pid); err != nil || len(es) != 0 {
		t.Fatal(len(es), err)
	}
}
