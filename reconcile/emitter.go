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

// Label names a machine-code position to jump to. Entry labels come from
// EntrySite.Label; OSR targets are computed by BytecodeMap and turned into
// a Label by the concrete Emitter.
type Label uint32

// Jump is an opaque handle to an emitted (but not yet bound) conditional
// branch, returned by BranchIfTag and consumed by Link — the macro
// assembler's fixup mechanism is entirely its own business; we only need
// to be able to name the branch we just emitted.
type Jump uint32

// Emitter is the abstract macro-assembler this engine drives. It is
// consumed, never implemented, by the algorithms in this package (spec
// §1 "out of scope: the macro-assembler ... we consume an abstract
// Emitter interface", §6). Two concrete instances live in this module —
// WriterAMD64 and WriterARM64 — purely so the engine is exercisable and
// testable end to end; production use is expected to plug in the real
// macro assembler of the host JIT.
type Emitter interface {
	// MoveRegReg emits dst = src. Both registers must be the same class
	// (GPR↔GPR or FPR↔FPR) — use IntToDouble/BoxDouble/UnboxDouble to
	// cross classes.
	MoveRegReg(dst, src Reg)
	// MoveImmToReg materializes an immediate into a GPR.
	MoveImmToReg(dst Reg, imm uint64)
	// MoveDoubleRegReg emits dst = src for two FPRs.
	MoveDoubleRegReg(dst, src Reg)
	// Swap exchanges the contents of two GPRs in place.
	Swap(a, b Reg)
	// LoadStack loads dst = [slot].
	LoadStack(dst Reg, slot int32)
	// StoreStack stores [slot] = src.
	StoreStack(slot int32, src Reg)
	// Or computes dst |= imm (used to apply integer tag bits).
	Or(dst Reg, imm uint64)
	// Sub computes dst -= src (used by UndoSpeculativeAdd; unboxing a
	// BoxedDouble goes through UnboxDouble instead).
	Sub(dst, src Reg)
	// Xor computes dst ^= imm (used by UndoBooleanGuard).
	Xor(dst Reg, imm uint64)
	// ZeroExtend32 zero-extends the low 32 bits of dst into the full
	// register (Boxed* → Int32).
	ZeroExtend32(dst Reg)
	// IntToDouble converts the 32-bit integer in src into a double in
	// dst (Boxed integer path of Boxed→Double).
	IntToDouble(dst, src Reg)
	// BoxDouble reinterprets the double in src as a biased 64-bit
	// integer in dst (Double→BoxedDouble / the fallback half of
	// Double→Boxed when the integrality test fails).
	BoxDouble(dst, src Reg)
	// UnboxDouble reverses BoxDouble: dst = double-reinterpretation of
	// (src - bias).
	UnboxDouble(dst, src Reg)
	// TestIntegrality emits: intOut = truncate(src); round = double(intOut)
	// using scratchFPR; compare round against src; and returns a
	// conditional Jump taken when the comparison FAILS (src is not
	// exactly representable as a 32-bit integer). On fall-through,
	// intOut holds the truncated integer ready for tagging. This is the
	// "attempt to narrow ... if a scratch FPR is available" branch of
	// spec §4.1's Double→Boxed conversion.
	TestIntegrality(intOut, src, scratchFPR Reg) Jump
	// BranchIfTag emits a branch on the type-tag bits of reg and returns
	// a Jump handle for later Link.
	BranchIfTag(reg Reg) Jump
	// Jump emits an unconditional jump to label.
	Jump(label Label)
	// JumpRegister emits an indirect jump through reg (OSR's final jump
	// to a computed machine-code address).
	JumpRegister(reg Reg)
	// NewLabel reserves a label for later binding via MarkLabel.
	NewLabel() Label
	// MarkLabel binds label to the current emission position.
	MarkLabel(label Label)
	// Link patches a previously emitted Jump to target label.
	Link(j Jump, label Label)

	// TagMaskRegister, TagTypeNumberRegister and CallFrameRegister are
	// the three process-wide reserved registers named in spec §6. They
	// are read-only facts about the calling convention, not mutable
	// engine state.
	TagMaskRegister() Reg
	TagTypeNumberRegister() Reg
	CallFrameRegister() Reg
}
