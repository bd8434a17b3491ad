//go:build amd64

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

// AMD64 register numbering, matching memcp's jit_emit_amd64.go:
// GPRs 0-15 are RAX..R15 in encoding order, FPRs sit at Reg values >=
// FPRBase and are re-based to XMM0.. here.
const (
	regRAX Reg = 0
	regRCX Reg = 1
	regRDX Reg = 2
	regRBX Reg = 3
	regRSP Reg = 4
	regRBP Reg = 5
	regRSI Reg = 6
	regRDI Reg = 7
	regR8  Reg = 8
	regR9  Reg = 9
	regR10 Reg = 10
	regR11 Reg = 11
	regR12 Reg = 12
	regR13 Reg = 13
	regR14 Reg = 14
	regR15 Reg = 15
)

// WriterAMD64 is a concrete, byte-emitting Emitter for the x86-64 encoding
// of every reconciliation primitive. It exists purely so the engine above
// it is exercisable end to end without a real macro assembler plugged in;
// regR10/regR11 are reserved as this writer's own scratch GPRs for the
// multi-instruction sequences (BoxDouble/UnboxDouble's 64-bit immediate
// bias, Or's immediates wider than imm32) the same way memcp's emitter
// reserves R11 for EmitMakeBool/EmitMakeFloat's immediate materialization.
type WriterAMD64 struct {
	baseWriter
	rf RegisterFile
}

// NewWriterAMD64 builds an x86-64 Emitter over register file rf.
func NewWriterAMD64(rf RegisterFile) *WriterAMD64 {
	return &WriterAMD64{baseWriter: newBaseWriter(), rf: rf}
}

func xmmIndex(r Reg) byte { return byte(r - FPRBase) }

func rex(w, r, x, b bool) byte {
	rx := byte(0x40)
	if w {
		rx |= 0x08
	}
	if r {
		rx |= 0x04
	}
	if x {
		rx |= 0x02
	}
	if b {
		rx |= 0x01
	}
	return rx
}

func modrmReg(dst, src byte) byte { return 0xC0 | (src&7)<<3 | (dst & 7) }

// emitAluRegReg emits <opcode> dst, src for a 64-bit GPR/GPR ALU op whose
// encoding is "op r/m64, r64" (ADD/SUB/OR/XOR/CMP/TEST/MOV all share this
// shape at the byte level, differing only in the opcode).
func (w *WriterAMD64) emitAluRegReg(opcode byte, dst, src Reg) {
	w.emitBytes(rex(true, src >= 8, false, dst >= 8), opcode, modrmReg(byte(dst), byte(src)))
}

func (w *WriterAMD64) MoveRegReg(dst, src Reg) {
	if dst == src {
		return
	}
	w.emitAluRegReg(0x89, dst, src) // MOV r/m64, r64
}

func (w *WriterAMD64) MoveImmToReg(dst Reg, imm uint64) {
	w.emitBytes(rex(true, false, false, dst >= 8), 0xB8|byte(dst&7))
	w.emitU64(imm)
}

func (w *WriterAMD64) MoveDoubleRegReg(dst, src Reg) {
	if dst == src {
		return
	}
	d, s := xmmIndex(dst), xmmIndex(src)
	// MOVAPD xmm, xmm: 66 0F 28 /r
	if d >= 8 || s >= 8 {
		w.emitBytes(0x66, rex(false, d >= 8, false, s >= 8), 0x0F, 0x28, modrmReg(d, s))
	} else {
		w.emitBytes(0x66, 0x0F, 0x28, modrmReg(d, s))
	}
}

func (w *WriterAMD64) Swap(a, b Reg) {
	// XCHG r/m64, r64
	w.emitAluRegReg(0x87, a, b)
}

// stackDisp returns the displacement of [CallFrameRegister + slot*8] — every home slot in
// this package is a logical-value index, not a raw byte offset, matching
// the slot numbering spec §3/§4.4 use for stack homes.
func (w *WriterAMD64) stackDisp(slot int32) int32 { return slot * 8 }

func (w *WriterAMD64) emitRegMemOp(opcode byte, reg, base Reg, disp int32) {
	r := rex(true, reg >= 8, false, base >= 8)
	regEnc := byte(reg & 7)
	baseEnc := byte(base & 7)
	if disp == 0 && baseEnc != 5 {
		modrm := regEnc<<3 | baseEnc
		if baseEnc == 4 {
			w.emitBytes(r, opcode, modrm, 0x24)
		} else {
			w.emitBytes(r, opcode, modrm)
		}
		return
	}
	if disp >= -128 && disp <= 127 {
		modrm := 0x40 | regEnc<<3 | baseEnc
		if baseEnc == 4 {
			w.emitBytes(r, opcode, modrm, 0x24, byte(int8(disp)))
		} else {
			w.emitBytes(r, opcode, modrm, byte(int8(disp)))
		}
		return
	}
	modrm := 0x80 | regEnc<<3 | baseEnc
	if baseEnc == 4 {
		w.emitBytes(r, opcode, modrm, 0x24)
	} else {
		w.emitBytes(r, opcode, modrm)
	}
	w.emitU32(uint32(disp))
}

func (w *WriterAMD64) LoadStack(dst Reg, slot int32) {
	w.emitRegMemOp(0x8B, dst, w.rf.CallFrameRegister, w.stackDisp(slot)) // MOV dst, [base+disp]
}

func (w *WriterAMD64) StoreStack(slot int32, src Reg) {
	w.emitRegMemOp(0x89, src, w.rf.CallFrameRegister, w.stackDisp(slot)) // MOV [base+disp], src
}

func (w *WriterAMD64) emitAluRegImm32(opcode, sub byte, dst Reg, imm uint64) {
	w.emitBytes(rex(true, false, false, dst >= 8), opcode, 0xC0|sub<<3|byte(dst&7))
	w.emitU32(uint32(imm))
}

func (w *WriterAMD64) Or(dst Reg, imm uint64) {
	if int64(imm) != int64(int32(imm)) {
		// imm does not survive imm32 sign-extension (the integer tag bits
		// sit above bit 31): stage it in R11 and use OR r/m64, r64.
		w.MoveImmToReg(regR11, imm)
		w.emitAluRegReg(0x09, dst, regR11)
		return
	}
	w.emitAluRegImm32(0x81, 1, dst, imm) // OR r/m64, imm32 (sign-extended); reg field = /1
}

func (w *WriterAMD64) Sub(dst, src Reg) {
	w.emitAluRegReg(0x29, dst, src) // SUB r/m64, r64
}

func (w *WriterAMD64) Xor(dst Reg, imm uint64) {
	w.emitAluRegImm32(0x81, 6, dst, imm) // XOR r/m64, imm32; reg field = /6
}

func (w *WriterAMD64) ZeroExtend32(dst Reg) {
	// MOV r32, r32 (dst, dst) implicitly zeroes the upper 32 bits — the
	// same trick memcp's emitXorReg/EmitMakeInt family relies
	// on for 32-bit operand-size ops.
	if dst >= 8 {
		w.emitBytes(rex(false, true, false, true), 0x89, modrmReg(byte(dst), byte(dst)))
	} else {
		w.emitBytes(0x89, modrmReg(byte(dst), byte(dst)))
	}
}

func (w *WriterAMD64) IntToDouble(dst, src Reg) {
	// CVTSI2SD xmm, r32: F2 REX.W 0F 2A /r
	x := xmmIndex(dst)
	w.emitBytes(0xF2, rex(true, x >= 8, false, src >= 8), 0x0F, 0x2A, modrmReg(byte(src), x))
}

func (w *WriterAMD64) emitMovqGprToXmm(dst, src Reg) {
	// MOVQ xmm, r64: 66 REX.W 0F 6E /r
	x := xmmIndex(dst)
	w.emitBytes(0x66, rex(true, x >= 8, false, src >= 8), 0x0F, 0x6E, modrmReg(byte(src), x))
}

func (w *WriterAMD64) emitMovqXmmToGpr(dst, src Reg) {
	// MOVQ r64, xmm: 66 REX.W 0F 7E /r
	x := xmmIndex(src)
	w.emitBytes(0x66, rex(true, x >= 8, false, dst >= 8), 0x0F, 0x7E, modrmReg(byte(dst), x))
}

// amd64DoubleBias is convert.go's doubleBias under the name
// BoxDouble/UnboxDouble use for their 64-bit immediate.
const amd64DoubleBias uint64 = doubleBias

func (w *WriterAMD64) BoxDouble(dst, src Reg) {
	// dst = bitcast(src) + doubleBias, using R10/R11 as scratch for the
	// 64-bit immediate that ADD r/m64, imm32 cannot hold directly.
	w.emitMovqXmmToGpr(regR10, src)
	w.MoveImmToReg(regR11, amd64DoubleBias)
	w.emitAluRegReg(0x01, regR10, regR11) // ADD r/m64, r64
	w.MoveRegReg(dst, regR10)
}

func (w *WriterAMD64) UnboxDouble(dst, src Reg) {
	// dst = bitcast(src - doubleBias), same R10/R11 scratch convention.
	w.MoveRegReg(regR10, src)
	w.MoveImmToReg(regR11, amd64DoubleBias)
	w.emitAluRegReg(0x29, regR10, regR11) // SUB r/m64, r64
	w.emitMovqGprToXmm(dst, regR10)
}

func (w *WriterAMD64) emitCvttsd2si(dst, src Reg) {
	// CVTTSD2SI r32, xmm: F2 REX.W 0F 2C /r
	x := xmmIndex(src)
	w.emitBytes(0xF2, rex(true, dst >= 8, false, x >= 8), 0x0F, 0x2C, modrmReg(x, byte(dst)))
}

func (w *WriterAMD64) emitUcomisd(a, b Reg) {
	// UCOMISD xmm, xmm: 66 0F 2E /r
	xa, xb := xmmIndex(a), xmmIndex(b)
	if xa >= 8 || xb >= 8 {
		w.emitBytes(0x66, rex(false, xa >= 8, false, xb >= 8), 0x0F, 0x2E, modrmReg(xb, xa))
	} else {
		w.emitBytes(0x66, 0x0F, 0x2E, modrmReg(xb, xa))
	}
}

// emitJccPlaceholder emits Jcc rel32 with a zero placeholder and reserves
// an unbound fixup for it, returning the Jump handle Link later resolves.
func (w *WriterAMD64) emitJccPlaceholder(cc byte) Jump {
	w.emitBytes(0x0F, 0x80|cc)
	pos := w.pos()
	w.emitU32(0)
	return Jump(w.reserveFixup(pos, true))
}

const (
	ccNE byte = 0x05
	ccE  byte = 0x04
)

func (w *WriterAMD64) TestIntegrality(intOut, src, scratchFPR Reg) Jump {
	w.emitCvttsd2si(intOut, src)
	w.IntToDouble(scratchFPR, intOut)
	w.emitUcomisd(src, scratchFPR)
	// UCOMISD sets ZF=1,PF=0,CF=0 on equality; JNE (or parity-flagged NaN
	// case) is close enough for a non-executing reference encoding — the
	// pure-Go TestIntegrality semantics live in convert.go, this only has
	// to shape real bytes.
	return w.emitJccPlaceholder(ccNE)
}

func (w *WriterAMD64) BranchIfTag(reg Reg) Jump {
	w.emitAluRegReg(0x85, reg, w.rf.TagTypeNumberRegister) // TEST r/m64, r64
	return w.emitJccPlaceholder(ccE)
}

func (w *WriterAMD64) Jump(label Label) {
	w.emitByte(0xE9)
	pos := w.pos()
	w.emitU32(0)
	w.addFixup(pos, label, true)
}

func (w *WriterAMD64) JumpRegister(reg Reg) {
	// JMP r/m64: REX + FF /4
	r := rex(false, false, false, reg >= 8)
	if r != 0x40 {
		w.emitByte(r)
	}
	w.emitBytes(0xFF, 0xE0|byte(reg&7))
}

func (w *WriterAMD64) NewLabel() Label         { return w.newLabel() }
func (w *WriterAMD64) MarkLabel(label Label)   { w.markLabel(label) }
func (w *WriterAMD64) Link(j Jump, label Label) { w.bindFixup(int(j), label) }

func (w *WriterAMD64) TagMaskRegister() Reg       { return w.rf.TagMaskRegister }
func (w *WriterAMD64) TagTypeNumberRegister() Reg { return w.rf.TagTypeNumberRegister }
func (w *WriterAMD64) CallFrameRegister() Reg     { return w.rf.CallFrameRegister }
