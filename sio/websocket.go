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
	"context"
	"net/http"
	"sync"

	"github.com/Comcast/corral/core"

	"github.com/gorilla/websocket"
)

// WebSocket is an http.Handler that takes envelopes as text frames.
// Replies go back on the same connection.
type WebSocket struct {
	Inbound

	Upgrader websocket.Upgrader
}

func NewWebSocket(d Dispatcher) *WebSocket {
	return &WebSocket{
		Inbound: Inbound{
			Name:       "websocket",
			Dispatcher: d,
		},
	}
}

// wsConn serializes writes to a connection.
type wsConn struct {
	sync.Mutex
	c *websocket.Conn
}

func (c *wsConn) Reply(ctx context.Context, m *core.Message) error {
	js, err := Encode(m)
	if err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	return c.c.WriteMessage(websocket.TextMessage, js)
}

func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	c, err := w.Upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.Errorf("upgrade: %s", err)
		return
	}
	defer c.Close()

	w.Logf("connection from %s", r.RemoteAddr)
	conn := &wsConn{c: c}

	// Sessions outlive the request, so don't hand them its
	// context.
	ctx := context.Background()

	for {
		mt, bs, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.Errorf("read: %s", err)
			}
			return
		}
		if mt != websocket.TextMessage || len(bs) == 0 {
			continue
		}
		w.Handle(ctx, bs, conn)
	}
}

// Serve listens at addr until ctx is done.  The handler is at path.
func (w *WebSocket) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, w)
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	w.Logf("listening at %s%s", addr, path)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
