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
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	units "github.com/docker/go-units"
)

// Metrics is the set of atomic counters ExitDriver, Shuffler and
// OSRExitEmitter bump as they run. Every counter field is a plain int64
// updated with atomic.AddInt64/LoadInt64, mirroring the counter style
// memcp uses for HTTP connection/request accounting. The one exception is
// the per-exit-site map, which exitSiteMu guards.
type Metrics struct {
	BridgeExits          int64
	OSRExits             int64
	ChainsResolved       int64
	CyclesResolvedLen1   int64
	CyclesResolvedLen2   int64
	CyclesResolvedLenMgr int64 // length >= 3, or a length-2 FPR cycle
	ScratchTagMaskUsed   int64 // times the guaranteed fallback register was actually needed
	ReoptimizationResets int64

	// ScratchBufferBytes accumulates the size of every scratch buffer
	// OSRExitEmitter.resolveDisplaced stages a displacement cycle through,
	// reported back via ScratchBufferSize for human-readable CLI output
	// (SPEC_FULL.md §B, mirroring memcp's storage-engine size reporting).
	ScratchBufferBytes int64

	exitSiteMu sync.Mutex
	exitSite   map[exitSiteKey]int64 // per logical-id/bytecode-offset OSR count
}

// exitSiteKey names one speculation exit the way the original DFG JIT's
// per-call-site profiling counter does: which logical value, at which
// bytecode offset (SPEC_FULL.md §C).
type exitSiteKey struct {
	id             LogicalID
	bytecodeOffset uint32
}

// BumpExitSiteCounter increments the profiling counter for one exit site.
// A speculation that keeps failing at the same logical-id/bytecode-offset
// pair is what the surrounding runtime would use to decide on a permanent
// de-optimization — that decision is out of scope here (SPEC_FULL.md §C),
// this only exposes the count.
func (m *Metrics) BumpExitSiteCounter(id LogicalID, bytecodeOffset uint32) {
	m.exitSiteMu.Lock()
	defer m.exitSiteMu.Unlock()
	if m.exitSite == nil {
		m.exitSite = make(map[exitSiteKey]int64)
	}
	key := exitSiteKey{id: id, bytecodeOffset: bytecodeOffset}
	m.exitSite[key]++
}

// ExitSiteCounter reads back the profiling counter for one exit site.
func (m *Metrics) ExitSiteCounter(id LogicalID, bytecodeOffset uint32) int64 {
	m.exitSiteMu.Lock()
	defer m.exitSiteMu.Unlock()
	return m.exitSite[exitSiteKey{id: id, bytecodeOffset: bytecodeOffset}]
}

// AddScratchBufferBytes records that resolveDisplaced staged n more bytes
// through the displacement scratch buffer for this compilation.
func (m *Metrics) AddScratchBufferBytes(n int64) {
	atomic.AddInt64(&m.ScratchBufferBytes, n)
}

// ScratchBufferSize renders the accumulated scratch-buffer usage the way
// memcp renders storage-engine sizes in its CLI/status output — human
// readable ("1.2 kB") rather than a raw byte count.
func (m *Metrics) ScratchBufferSize() string {
	return units.BytesSize(float64(atomic.LoadInt64(&m.ScratchBufferBytes)))
}

// String renders every counter plus the humanized scratch-buffer size, for
// CLI status lines.
func (m *Metrics) String() string {
	return fmt.Sprintf(
		"bridge=%d osr=%d chains=%d cyc1=%d cyc2=%d cycN=%d scratchTagMask=%d reopt=%d scratch=%s",
		atomic.LoadInt64(&m.BridgeExits),
		atomic.LoadInt64(&m.OSRExits),
		atomic.LoadInt64(&m.ChainsResolved),
		atomic.LoadInt64(&m.CyclesResolvedLen1),
		atomic.LoadInt64(&m.CyclesResolvedLen2),
		atomic.LoadInt64(&m.CyclesResolvedLenMgr),
		atomic.LoadInt64(&m.ScratchTagMaskUsed),
		atomic.LoadInt64(&m.ReoptimizationResets),
		m.ScratchBufferSize(),
	)
}

// metricsSnapshot is what the background sampler publishes: a point-in-time
// rate derived from the raw counters, not the counters themselves (callers
// needing exact totals should read the atomic fields directly).
type metricsSnapshot struct {
	exitsPerSecond float64
}

// Sampler periodically computes exits/sec from a Metrics and publishes a
// snapshot readers can load without contending with the counter increments
// themselves — the same lock-free publish pattern used for the dashboard
// CPU/RPS gauges in memcp, here watching OSR+bridge exit
// throughput instead of HTTP request throughput.
type Sampler struct {
	m       *Metrics
	current unsafe.Pointer // *metricsSnapshot
	stop    chan struct{}
}

// NewSampler starts a background goroutine sampling m every interval.
// Callers must call Stop when done to release the goroutine.
func NewSampler(m *Metrics, interval time.Duration) *Sampler {
	s := &Sampler{m: m, stop: make(chan struct{})}
	atomic.StorePointer(&s.current, unsafe.Pointer(&metricsSnapshot{}))
	go s.run(interval)
	return s
}

func (s *Sampler) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var prevTotal int64
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cur := atomic.LoadInt64(&s.m.BridgeExits) + atomic.LoadInt64(&s.m.OSRExits)
			delta := cur - prevTotal
			prevTotal = cur
			snap := &metricsSnapshot{exitsPerSecond: float64(delta) / interval.Seconds()}
			atomic.StorePointer(&s.current, unsafe.Pointer(snap))
		}
	}
}

// ExitsPerSecond reports the most recently sampled exit rate.
func (s *Sampler) ExitsPerSecond() float64 {
	p := (*metricsSnapshot)(atomic.LoadPointer(&s.current))
	return p.exitsPerSecond
}

// Stop ends the background sampling goroutine.
func (s *Sampler) Stop() { close(s.stop) }
