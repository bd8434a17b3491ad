/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package reconcile

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// DebugServer streams a Tracefile's events live to connected
// clients over a websocket, generalizing scm/network.go's "websocket"
// upgrade builtin from an SCM callback endpoint to a fixed broadcast of
// whatever this package's Trace emits. It exists purely for watching the
// Shuffler/OSRExitEmitter work in real time during development — nothing
// in the reconciliation path itself depends on it.
type DebugServer struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewDebugServer builds a DebugServer. Call Attach to wire it to a
// Tracefile so every emitted event is broadcast as it happens.
func NewDebugServer() *DebugServer {
	d := &DebugServer{clients: make(map[*websocket.Conn]struct{})}
	d.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	// CheckOrigin is permissive here the same way scm/network.go's
	// websocket builtin is — this is a development-time tool, not a
	// public endpoint.
	d.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	return d
}

// ServeHTTP upgrades the connection and registers it as a broadcast
// target. It reads from the client only to notice a disconnect and
// discards whatever the client sends; this is a one-way event feed.
func (d *DebugServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.clients[conn] = struct{}{}
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.clients, conn)
			d.mu.Unlock()
			conn.Close()
		}()
		for {
			// Drain and discard; a client disconnect surfaces here as a
			// read error, which is the only thing this loop cares about.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends one JSON-encoded trace event to every connected client,
// dropping any connection that errors on write.
func (d *DebugServer) Broadcast(line []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.clients {
		if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
			conn.Close()
			delete(d.clients, conn)
		}
	}
}

// Attach wires this server as tf's live sink — every subsequent Event/Span
// call on tf is broadcast here in addition to being written to tf's
// underlying writer.
func (d *DebugServer) Attach(tf *Tracefile) {
	tf.sink = d.Broadcast
}

// Addr formats a ready-to-log listen address, the same terse style
// memcp's HTTPServe uses when it logs the bound port.
func (d *DebugServer) Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
