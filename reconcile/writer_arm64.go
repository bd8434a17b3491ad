//go:build arm64

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

// TODO: this mirrors jit_arm64.go's own state upstream — only the
// bookkeeping that doesn't depend on instruction encoding is filled in.
// The actual AArch64 encodings (MOVZ/MOVK immediate materialization,
// LDR/STR with SP-relative addressing, FMOV for GPR<->FPR bitcasts) still
// need to be written; WriterAMD64 is the one of the two that has tests of
// its own (writer_amd64_test.go). The engine tests drive a recording fake
// Emitter instead.

// WriterARM64 is the AArch64 half of the Emitter pair. Present so the
// package builds on arm64 too, not because any test here exercises it yet.
type WriterARM64 struct {
	baseWriter
	rf RegisterFile
}

// NewWriterARM64 builds an (incomplete) AArch64 Emitter over rf.
func NewWriterARM64(rf RegisterFile) *WriterARM64 {
	return &WriterARM64{baseWriter: newBaseWriter(), rf: rf}
}

func (w *WriterARM64) MoveRegReg(dst, src Reg) {
	if dst == src {
		return
	}
	panic("reconcile: WriterARM64.MoveRegReg not yet implemented")
}

func (w *WriterARM64) MoveImmToReg(dst Reg, imm uint64) {
	panic("reconcile: WriterARM64.MoveImmToReg not yet implemented")
}

func (w *WriterARM64) MoveDoubleRegReg(dst, src Reg) {
	panic("reconcile: WriterARM64.MoveDoubleRegReg not yet implemented")
}

func (w *WriterARM64) Swap(a, b Reg) {
	panic("reconcile: WriterARM64.Swap not yet implemented")
}

func (w *WriterARM64) LoadStack(dst Reg, slot int32) {
	panic("reconcile: WriterARM64.LoadStack not yet implemented")
}

func (w *WriterARM64) StoreStack(slot int32, src Reg) {
	panic("reconcile: WriterARM64.StoreStack not yet implemented")
}

func (w *WriterARM64) Or(dst Reg, imm uint64) {
	panic("reconcile: WriterARM64.Or not yet implemented")
}

func (w *WriterARM64) Sub(dst, src Reg) {
	panic("reconcile: WriterARM64.Sub not yet implemented")
}

func (w *WriterARM64) Xor(dst Reg, imm uint64) {
	panic("reconcile: WriterARM64.Xor not yet implemented")
}

func (w *WriterARM64) ZeroExtend32(dst Reg) {
	panic("reconcile: WriterARM64.ZeroExtend32 not yet implemented")
}

func (w *WriterARM64) IntToDouble(dst, src Reg) {
	panic("reconcile: WriterARM64.IntToDouble not yet implemented")
}

func (w *WriterARM64) BoxDouble(dst, src Reg) {
	panic("reconcile: WriterARM64.BoxDouble not yet implemented")
}

func (w *WriterARM64) UnboxDouble(dst, src Reg) {
	panic("reconcile: WriterARM64.UnboxDouble not yet implemented")
}

func (w *WriterARM64) TestIntegrality(intOut, src, scratchFPR Reg) Jump {
	panic("reconcile: WriterARM64.TestIntegrality not yet implemented")
}

func (w *WriterARM64) BranchIfTag(reg Reg) Jump {
	panic("reconcile: WriterARM64.BranchIfTag not yet implemented")
}

func (w *WriterARM64) Jump(label Label) {
	panic("reconcile: WriterARM64.Jump not yet implemented")
}

func (w *WriterARM64) JumpRegister(reg Reg) {
	panic("reconcile: WriterARM64.JumpRegister not yet implemented")
}

func (w *WriterARM64) NewLabel() Label       { return w.newLabel() }
func (w *WriterARM64) MarkLabel(label Label) { w.markLabel(label) }
func (w *WriterARM64) Link(j Jump, label Label) {
	w.bindFixup(int(j), label)
}

func (w *WriterARM64) TagMaskRegister() Reg       { return w.rf.TagMaskRegister }
func (w *WriterARM64) TagTypeNumberRegister() Reg { return w.rf.TagTypeNumberRegister }
func (w *WriterARM64) CallFrameRegister() Reg     { return w.rf.CallFrameRegister }
