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
	"sync/atomic"
)

// OSRExitEmitter reconciles an ExitSite against a baseline entry that has
// no register allocation of its own — every live value must land in its
// canonical call-frame home slot before jumping into baseline bytecode by
// machine-code address (spec §4.4). This is the on-stack-replacement path,
// as opposed to Shuffler's register-to-register bridging path.
type OSRExitEmitter struct {
	RF        RegisterFile
	E         Emitter
	Converter *Converter
	Metrics   *Metrics // may be nil; counters are best-effort
}

// NewOSRExitEmitter builds an OSRExitEmitter. conv should have just had
// ResetForExit called — the Undefined-register cache is scoped to one exit.
func NewOSRExitEmitter(rf RegisterFile, e Emitter, conv *Converter, m *Metrics) *OSRExitEmitter {
	return &OSRExitEmitter{RF: rf, E: e, Converter: conv, Metrics: m}
}

// Live is everything OSRExitEmitter needs to know about one logical value
// at the exit: where it lives (via ValueDescriptor) and where its home
// slot is in the baseline frame.
type Live struct {
	ID       LogicalID
	Desc     ValueDescriptor
	HomeSlot int32
	HomeTag  RepTag // representation baseline expects at HomeSlot
}

// Run emits the full OSR exit sequence for one exit site: recovery,
// classification, boxing/storing every live value, resolving displaced
// values through a scratch buffer, materializing constants, resetting the
// reoptimization counter, resolving the bytecode offset to a machine
// address, and the final indirect jump (spec §4.4). It does not reload a
// last-set-value register and does not write a code-block pointer into
// the call-frame header.
//
// id and bytecodeOffset identify the exit site for Metrics.BumpExitSiteCounter
// — the per-logical-id/bytecode-offset profiling counter supplemented from
// the original DFG JIT's exit-site bookkeeping (SPEC_FULL.md §C).
func (o *OSRExitEmitter) Run(id LogicalID, bytecodeOffset uint32, recovery []RecoveryAction, lives []Live, bcMap *BytecodeMap, reoptCounterSlot int32) error {
	// Step 1: undo any partial speculative mutation before anything else
	// reads the registers it touched.
	for _, r := range recovery {
		o.applyRecovery(r)
	}

	// Step 2/3: classify. Poisoned values (displaced — currently sitting
	// in another variable's home slot) must be read out via a scratch
	// buffer *after* every direct store has landed, so that if two
	// variables have swapped homes, neither read clobbers the other's
	// source before it's been consumed.
	var direct []Live
	var displaced []Live
	var constants []Live
	for _, l := range lives {
		switch l.Desc.Kind {
		case DescDisplaced:
			displaced = append(displaced, l)
		case DescConstant:
			constants = append(constants, l)
		case DescDead:
			// nothing to materialize
		default:
			direct = append(direct, l)
		}
	}

	// Step 4-6: box and store every directly-resident (register or
	// already-spilled-at-its-own-slot) value into its home slot. Step 5
	// ("box each FPR-held value into the GPR representation the baseline
	// slot expects") needs to know which FPRs are still holding a live
	// value of this same batch so it can borrow a truly free one as
	// ConvertDoubleToBoxed's scratch, rather than guessing FPRBase is free.
	fprBusy := make([]bool, o.RF.NumFPR)
	for _, l := range direct {
		if l.Desc.Kind == DescInFpr {
			fprBusy[int(l.Desc.Reg-FPRBase)] = true
		}
	}
	for _, l := range direct {
		if err := o.storeDirect(l, fprBusy); err != nil {
			return err
		}
	}

	// Step 7: resolve displaced values through a scratch buffer. Each
	// source slot is read before any of this batch's stores begin, so a
	// displacement cycle (A borrowing B's slot while B borrows A's)
	// resolves correctly regardless of store order.
	if err := o.resolveDisplaced(displaced); err != nil {
		return err
	}
	if o.Metrics != nil && len(displaced) > 0 {
		o.Metrics.AddScratchBufferBytes(int64(len(displaced)) * 8)
	}

	// Step 8: materialize constants, deduplicating Undefined.
	for _, l := range constants {
		scratch := o.homeGPR(l.HomeTag)
		o.Converter.MaterializeConstant(scratch, l.Desc.Value)
		o.E.StoreStack(l.HomeSlot, scratch)
	}

	// Step 9: reset the reoptimization counter so baseline gets a fresh
	// allotment of executions before it is eligible to tier back up.
	o.resetReoptimizationCounter(reoptCounterSlot)

	// Step 12, first half: resolve the bytecode offset to a machine-code address
	// via the sorted offset table.
	target, ok := bcMap.MachineOffsetFor(bytecodeOffset)
	if !ok {
		return &ReconcileError{Kind: ErrUnresolvedOSRTarget,
			Message: fmt.Sprintf("no baseline entry for bytecode offset %d", bytecodeOffset)}
	}
	if o.Metrics != nil {
		atomic.AddInt64(&o.Metrics.OSRExits, 1)
		atomic.AddInt64(&o.Metrics.ReoptimizationResets, 1)
		o.Metrics.BumpExitSiteCounter(id, bytecodeOffset)
	}

	// Step 12: jump. The target address is loaded into the tag-mask
	// register purely as a scratch — OSR never returns to speculative
	// code, so clobbering it here is free.
	scratchReg := o.RF.TagMaskRegister
	o.E.MoveImmToReg(scratchReg, uint64(target))
	o.E.JumpRegister(scratchReg)
	return nil
}

func (o *OSRExitEmitter) applyRecovery(r RecoveryAction) {
	switch r.Kind {
	case RecoveryUndoSpeculativeAdd:
		o.E.Sub(r.Dest, r.Src)
	case RecoveryUndoBooleanGuard:
		o.E.Xor(r.Dest, 1)
	case RecoveryNone:
	}
}

// homeGPR picks a scratch GPR/FPR to stage a value through before it hits
// the stack — OSR always has the full register file to itself by the time
// it runs (the speculative frame is being torn down), so any register not
// reserved by the calling convention is fair game; the tag-mask register
// is the one guaranteed free choice (spec §4.2's guarantee, reused here).
func (o *OSRExitEmitter) homeGPR(tag RepTag) Reg {
	if tag.IsFPRResident() {
		return FPRBase
	}
	return o.RF.TagMaskRegister
}

func (o *OSRExitEmitter) storeDirect(l Live, fprBusy []bool) error {
	switch l.Desc.Kind {
	case DescInGpr:
		scratch := o.homeGPR(l.HomeTag)
		if l.Desc.Tag == l.HomeTag {
			o.E.StoreStack(l.HomeSlot, l.Desc.Reg)
			return nil
		}
		o.Converter.Convert(scratch, l.Desc.Reg, l.Desc.Tag, l.HomeTag)
		o.E.StoreStack(l.HomeSlot, scratch)
	case DescInFpr:
		return o.storeFprDirect(l, fprBusy)
	case DescSpilled:
		if l.Desc.StackSlot == l.HomeSlot && l.Desc.Tag == l.HomeTag {
			return nil // already in place
		}
		scratch := o.homeGPR(l.HomeTag)
		o.E.LoadStack(scratch, l.Desc.StackSlot)
		if l.Desc.Tag != l.HomeTag {
			o.Converter.Convert(scratch, scratch, l.Desc.Tag, l.HomeTag)
		}
		o.E.StoreStack(l.HomeSlot, scratch)
	default:
		return &ReconcileError{Kind: ErrInconsistentDescriptor,
			Message: fmt.Sprintf("logical id %d: unexpected descriptor kind in direct store pass", l.ID)}
	}
	return nil
}

// storeFprDirect handles an FPR-resident (Double) value whose home slot
// expects something else — spec §4.4 step 5: "box each FPR-held value into
// the GPR representation the baseline slot expects, then store". Only
// TagBoxed is a legal boxed home tag for a Double source (invariant 3 rules
// out BoxedDouble as a destination, and a Double can't sensibly target the
// concrete-shape TagBoxedInt32), so ConvertDoubleToBoxed is the only
// conversion this ever needs.
func (o *OSRExitEmitter) storeFprDirect(l Live, fprBusy []bool) error {
	if l.Desc.Tag == l.HomeTag {
		o.E.StoreStack(l.HomeSlot, l.Desc.Reg)
		return nil
	}
	if l.HomeTag != TagBoxed {
		return &ReconcileError{Kind: ErrInconsistentDescriptor,
			Message: fmt.Sprintf("logical id %d: cannot store Double-resident value into %s home slot", l.ID, l.HomeTag)}
	}
	srcIdx := int(l.Desc.Reg - FPRBase)
	fprBusy[srcIdx] = false // this value is read here; its FPR is free for the rest of the batch
	dst := o.RF.TagMaskRegister
	scratchFPR, haveFPR := o.findScratchFPR(fprBusy, l.Desc.Reg)
	o.Converter.ConvertDoubleToBoxed(dst, l.Desc.Reg, haveFPR, scratchFPR, dst)
	o.E.StoreStack(l.HomeSlot, dst)
	return nil
}

// findScratchFPR looks for an FPR in this exit's direct batch that is
// neither busy holding another live Double nor exclude itself. OSR has no
// ScratchFinder (homeGPR's doc comment: it has the whole register file to
// itself), so this is a small local equivalent scoped to one Run call.
func (o *OSRExitEmitter) findScratchFPR(busy []bool, exclude Reg) (Reg, bool) {
	excludeIdx := int(exclude - FPRBase)
	for i, b := range busy {
		if i == excludeIdx || b {
			continue
		}
		return FPRBase + Reg(i), true
	}
	return 0, false
}

// resolveDisplaced reads every displaced value out of its borrowed slot
// into a small scratch buffer before writing any of them to their actual
// home slots, so that A-borrows-B's-slot / B-borrows-A's-slot pairs (or
// longer displacement cycles) never read a slot that a sibling in this
// same batch has already overwritten.
func (o *OSRExitEmitter) resolveDisplaced(displaced []Live) error {
	if len(displaced) == 0 {
		return nil
	}
	type staged struct {
		live Live
		slot int32 // scratch buffer slot the value was parked at
	}
	buf := make([]staged, 0, len(displaced))
	scratch := o.RF.TagMaskRegister
	for i, l := range displaced {
		scratchSlot := scratchBufferBase - int32(i+1)*8
		o.E.LoadStack(scratch, l.Desc.StackSlot)
		o.E.StoreStack(scratchSlot, scratch)
		buf = append(buf, staged{live: l, slot: scratchSlot})
	}
	for _, s := range buf {
		o.E.LoadStack(scratch, s.slot)
		if s.live.Desc.Tag != s.live.HomeTag {
			o.Converter.Convert(scratch, scratch, s.live.Desc.Tag, s.live.HomeTag)
		}
		o.E.StoreStack(s.live.HomeSlot, scratch)
	}
	return nil
}

// scratchBufferBase is the stack offset immediately below every variable's
// legitimate home slot range, reserved for the displaced-value shuffle
// buffer used by resolveDisplaced. The concrete frame layout (how far
// below the frame pointer this actually is) is the embedding runtime's
// call-frame convention; this package only needs a stable offset it does
// not otherwise allocate to any live value.
const scratchBufferBase int32 = -4096

// resetReoptimizationCounter clears the counter baseline consults to
// decide it has run enough to be worth reoptimizing — an OSR exit always
// resets it, so a single hot loop that keeps re-triggering the same guard
// doesn't thrash between tiers (spec §4.4 step 9, supplemented per the
// original implementation's watchpoint/reoptimization bookkeeping).
func (o *OSRExitEmitter) resetReoptimizationCounter(slot int32) {
	scratch := o.RF.TagMaskRegister
	o.E.MoveImmToReg(scratch, 0)
	o.E.StoreStack(slot, scratch)
}
