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
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
)

// Tracefile writes Chrome's Trace Event JSON format — the same diagnostic
// format memcp's tracing uses, so exits, chains and
// cycles show up as spans on the same timeline a developer already knows
// how to load into chrome://tracing or Perfetto.
type Tracefile struct {
	isFirst bool
	file    io.WriteCloser
	m       sync.Mutex
	start   time.Time

	// sink, when non-nil, receives a copy of every encoded event line —
	// DebugServer.Attach wires this to broadcast the trace live over a
	// websocket in addition to the on-disk write.
	sink func([]byte)
}

// NewTracefile wraps file in a Tracefile, writing the opening '[' of the
// JSON array immediately.
func NewTracefile(file io.WriteCloser) *Tracefile {
	file.Write([]byte("["))
	return &Tracefile{file: file, isFirst: true, start: time.Now()}
}

// NewCompressedTracefile wraps file with an lz4 frame writer before
// handing it to NewTracefile — for long-running fixture/fuzz sessions
// where the raw JSON trace would otherwise dwarf the binary it came from.
func NewCompressedTracefile(file io.WriteCloser) *Tracefile {
	zw := lz4.NewWriter(file)
	return NewTracefile(&compressedWriteCloser{zw: zw, underlying: file})
}

type compressedWriteCloser struct {
	zw         *lz4.Writer
	underlying io.WriteCloser
}

func (c *compressedWriteCloser) Write(p []byte) (int, error) { return c.zw.Write(p) }

func (c *compressedWriteCloser) Close() error {
	if err := c.zw.Close(); err != nil {
		return err
	}
	return c.underlying.Close()
}

// Close writes the closing ']' and closes the underlying writer.
func (t *Tracefile) Close() {
	t.file.Write([]byte("]"))
	t.file.Close()
}

// Span emits a Begin/End pair bracketing f — used to time one exit's
// reconciliation (ExitDriver names it "<task id>/exit#<logical id>").
func (t *Tracefile) Span(name, category string, f func()) {
	t.eventHalf(name, category, "B")
	defer t.eventHalf(name, category, "E")
	f()
}

// Event emits a single instantaneous marker — used for per-cycle and
// per-chain accounting within one exit's span.
func (t *Tracefile) Event(name, category string) {
	t.eventHalf(name, category, "i")
}

func (t *Tracefile) eventHalf(name, category, phase string) {
	t.emit(name, category, phase, time.Since(t.start).Microseconds())
}

func (t *Tracefile) emit(name, category, phase string, tsMicros int64) {
	t.m.Lock()
	defer t.m.Unlock()
	if t.isFirst {
		t.isFirst = false
	} else {
		t.file.Write([]byte(",\n"))
	}
	ev := traceEvent{
		Name:  name,
		Cat:   category,
		Phase: phase,
		TS:    tsMicros,
		PID:   0,
		TID:   0,
		Scope: "g",
	}
	enc := json.NewEncoder(traceLineWriter{t.file})
	_ = enc.Encode(ev)
	if t.sink != nil {
		if line, err := json.Marshal(ev); err == nil {
			t.sink(line)
		}
	}
}

// traceLineWriter strips the trailing newline json.Encoder.Encode always
// appends, so the ",\n" separator emit writes is the only line break
// between events and each event sits on a line of its own.
type traceLineWriter struct{ w io.Writer }

func (l traceLineWriter) Write(p []byte) (int, error) {
	if n := len(p); n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	return l.w.Write(p)
}

type traceEvent struct {
	Name  string `json:"name"`
	Cat   string `json:"cat"`
	Phase string `json:"ph"`
	TS    int64  `json:"ts"`
	PID   int    `json:"pid"`
	TID   int    `json:"tid"`
	Scope string `json:"s"`
}
