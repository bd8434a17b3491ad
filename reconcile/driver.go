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
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// ExitRecord is everything about one speculation exit that the IR already
// knows and the driver does not need to re-derive: its site identity (the
// overloaded LogicalID use documented on that type), the register/spill
// snapshot at the moment the guard failed, any recovery actions needed
// before reconciliation proper starts, and the bytecode offset execution
// must resume at if this exit turns out to need a full OSR.
type ExitRecord struct {
	ID             LogicalID
	Site           ExitSite
	Recovery       []RecoveryAction
	BytecodeOffset uint32
}

// IR is the read-only view into the compiler's intermediate representation
// this package consumes — never implements (spec §6: "out of scope: the
// graph IR itself"). ExitDriver drives every exit the IR reports through
// exactly one of the two reconciliation paths based on whether a bridging
// entry exists for it.
type IR interface {
	// Exits returns every speculation exit that needs reconciling, in any
	// order — ExitDriver processes them independently.
	Exits() []ExitRecord

	// BridgeEntry returns the destination tier's own register allocation
	// for exit id, if one exists. When it does, the exit takes the
	// register-to-register Shuffler path. When ok is false, the exit
	// takes the OSR path instead.
	BridgeEntry(id LogicalID) (entry EntrySite, ok bool)

	// Sources supplies, for exit id, the full ValueDescriptor of every
	// logical value the matching entry needs that is not register-
	// resident at the exit (Spilled, Displaced, Constant) — required by
	// Shuffler.Run on the bridging path.
	Sources(id LogicalID) map[LogicalID]ValueDescriptor

	// Lives supplies, for exit id, every logical value OSRExitEmitter
	// must materialize into its baseline call-frame home slot — required
	// on the OSR path.
	Lives(id LogicalID) []Live

	// EntrySpills supplies, for exit id, every logical value whose entry
	// destination on the bridging path is a spill slot rather than a
	// register — consumed by Shuffler.Run's pre-spill pass (spec §4.3
	// Step A) before the register chain/cycle graph is even built.
	EntrySpills(id LogicalID) []EntrySpill

	// ReoptimizationCounterSlot returns the stack slot OSRExitEmitter
	// should zero as part of step 9 for exit id.
	ReoptimizationCounterSlot(id LogicalID) int32
}

// ExitDriver owns the per-exit setup (converter reset, scratch discovery)
// and dispatches each exit the IR reports to the Shuffler or the
// OSRExitEmitter (spec §4.5). It is the only component in this package
// that sees every exit in one compilation; everything else is scoped to a
// single exit at a time.
type ExitDriver struct {
	RF      RegisterFile
	E       Emitter
	BCMap   *BytecodeMap
	Metrics *Metrics
	Trace   *Tracefile // may be nil
}

// NewExitDriver builds an ExitDriver. bcMap may be nil only if the IR is
// known to contain no OSR-path exits (a bridge-only compilation unit);
// Run returns ErrUnresolvedOSRTarget the first time a nil map is needed.
func NewExitDriver(rf RegisterFile, e Emitter, bcMap *BytecodeMap, m *Metrics) *ExitDriver {
	return &ExitDriver{RF: rf, E: e, BCMap: bcMap, Metrics: m}
}

// Run reconciles every exit ir reports. It stops at the first error (spec
// §7: every detectable error is fatal to the whole compilation, not just
// the one exit that triggered it). Each call is tagged with a fresh
// compile-task id so concurrent compilation tasks sharing one Trace/Metrics
// pair (spec §5: "reentrant across compilation tasks") can be told apart.
func (d *ExitDriver) Run(ir IR) error {
	taskID := uuid.New().String()
	for _, rec := range ir.Exits() {
		if err := d.runOne(ir, rec, taskID); err != nil {
			return err
		}
	}
	return nil
}

// runOne recovers from a panic in the same spirit as the teacher's
// jitCompileExprBody recovers around code emission: a programmer-bug panic
// in one exit's reconciliation becomes a returned error instead of
// unwinding the whole compilation unit.
func (d *ExitDriver) runOne(ir IR, rec ExitRecord, taskID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ReconcileError{Kind: ErrInconsistentDescriptor,
				Message: fmt.Sprintf("exit %d: recovered panic: %v", rec.ID, r)}
		}
	}()

	if err := rec.Site.Validate(); err != nil {
		return err
	}

	conv := NewConverter(d.E, d.RF)

	run := func() error {
		if entry, ok := ir.BridgeEntry(rec.ID); ok {
			return d.runBridge(conv, rec, entry, ir.Sources(rec.ID), ir.EntrySpills(rec.ID))
		}
		return d.runOSR(conv, rec, ir.Lives(rec.ID), ir.ReoptimizationCounterSlot(rec.ID))
	}

	if d.Trace != nil {
		var runErr error
		d.Trace.Span(taskID+"/"+traceExitName(rec), "reconcile", func() { runErr = run() })
		return runErr
	}
	return run()
}

func (d *ExitDriver) runBridge(conv *Converter, rec ExitRecord, entry EntrySite, sources map[LogicalID]ValueDescriptor, entrySpills []EntrySpill) error {
	for _, r := range rec.Recovery {
		applyRecoveryStandalone(d.E, r)
	}
	scratch := NewScratchFinder(d.RF, rec.Site, entry)
	sh := NewShuffler(d.RF, d.E, conv, scratch, d.Metrics)
	sh.Trace = d.Trace
	if err := sh.Run(rec.Site, entry, sources, entrySpills); err != nil {
		return err
	}
	if d.Metrics != nil {
		atomic.AddInt64(&d.Metrics.BridgeExits, 1)
	}
	d.E.Jump(entry.Label)
	return nil
}

func (d *ExitDriver) runOSR(conv *Converter, rec ExitRecord, lives []Live, reoptSlot int32) error {
	if d.BCMap == nil {
		return &ReconcileError{Kind: ErrUnresolvedOSRTarget, Message: "no bytecode map configured for an OSR-path exit"}
	}
	em := NewOSRExitEmitter(d.RF, d.E, conv, d.Metrics)
	return em.Run(rec.ID, rec.BytecodeOffset, rec.Recovery, lives, d.BCMap, reoptSlot)
}

// applyRecoveryStandalone mirrors OSRExitEmitter.applyRecovery — the
// bridging path needs the same pre-shuffle undo step OSR does, but has no
// OSRExitEmitter instance of its own to hang the method on.
func applyRecoveryStandalone(e Emitter, r RecoveryAction) {
	switch r.Kind {
	case RecoveryUndoSpeculativeAdd:
		e.Sub(r.Dest, r.Src)
	case RecoveryUndoBooleanGuard:
		e.Xor(r.Dest, 1)
	case RecoveryNone:
	}
}

func traceExitName(rec ExitRecord) string {
	return "exit#" + strconv.FormatUint(uint64(rec.ID), 10)
}
