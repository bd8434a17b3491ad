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

// integerTagBits and doubleBias are runtime-representation constants the
// graph IR owns; the engine only needs stable values to OR in / add when
// boxing. They are not configurable per spec §3 ("boxing" is a fixed
// operation, not a policy choice of this package).
const (
	integerTagBits uint64 = 1 << 49
	doubleBias     uint64 = 1 << 48
)

// Converter emits the minimal instruction sequence converting a value from
// one RepTag to another (spec §4.1, the RepresentationConverter
// component). It is a pure function emitter: same inputs always produce
// the same instructions, and src==dst tags emit nothing.
//
// The one piece of state it carries — the shared Undefined register — is
// scoped to a single exit (spec §4.1: "specialising the common case
// Undefined into a single shared temporary reused across all Undefined
// stores of a single exit"); ResetForExit clears it between exits.
type Converter struct {
	E  Emitter
	RF RegisterFile

	haveUndefinedReg bool
	undefinedReg     Reg
}

// NewConverter builds a Converter bound to e and shaped for rf.
func NewConverter(e Emitter, rf RegisterFile) *Converter {
	return &Converter{E: e, RF: rf}
}

// ResetForExit clears the per-exit Undefined-register cache. ExitDriver
// calls this once before reconciling each exit.
func (c *Converter) ResetForExit() {
	c.haveUndefinedReg = false
}

// Convert emits code moving a value currently in src (tagged srcTag) into
// dst (which must end up tagged dstTag). src and dst may be the same
// register. Panics if asked to produce BoxedDouble as a destination
// (invariant 3: BoxedDouble is never a destination tag) or to convert
// to/from a tag pair outside the closed set in spec §4.1 — both are
// programmer-bug conditions, not runtime-detectable errors (spec §7).
func (c *Converter) Convert(dst, src Reg, srcTag, dstTag RepTag) {
	if srcTag == dstTag {
		if dst != src {
			c.move(dst, src, srcTag)
		}
		return
	}
	if dstTag == TagBoxedDouble {
		panic("reconcile: BoxedDouble is never a destination tag")
	}

	switch {
	case srcTag == TagInt32 && (dstTag == TagBoxed || dstTag == TagBoxedInt32):
		c.convertInt32ToBoxed(dst, src)
	case (srcTag == TagBoxed || srcTag == TagBoxedInt32) && dstTag == TagInt32:
		c.convertBoxedToInt32(dst, src)
	case srcTag == TagDouble && dstTag == TagBoxed:
		panic("reconcile: Double→Boxed needs ConvertDoubleToBoxed (scratch FPR availability is call-site state)")
	case srcTag == TagBoxed && dstTag == TagDouble:
		c.convertBoxedToDouble(dst, src)
	case srcTag == TagBoxedInt32 && dstTag == TagDouble:
		c.E.IntToDouble(dst, src) // already known to be the int half of Boxed
	case srcTag == TagDouble && dstTag == TagBoxedDouble:
		c.E.BoxDouble(dst, src)
	case srcTag == TagBoxedDouble && dstTag == TagDouble:
		c.E.UnboxDouble(dst, src)
	case (srcTag == TagBoxedDouble || srcTag == TagBoxedInt32) && dstTag == TagBoxed:
		// already a concrete shape of the generic Boxed representation;
		// no bits change, only the static tag we track it under.
		if dst != src {
			c.E.MoveRegReg(dst, src)
		}
	case srcTag == TagBoxed && dstTag == TagBoxedInt32:
		// caller already knows this Boxed value is the int shape
		// (e.g. it just fell out of the narrowing test); bits agree.
		if dst != src {
			c.E.MoveRegReg(dst, src)
		}
	default:
		panic("reconcile: no conversion defined from " + srcTag.String() + " to " + dstTag.String())
	}
}

func (c *Converter) move(dst, src Reg, tag RepTag) {
	if tag.IsFPRResident() {
		c.E.MoveDoubleRegReg(dst, src)
	} else {
		c.E.MoveRegReg(dst, src)
	}
}

// convertInt32ToBoxed emits Int32 → Boxed*: OR in the integer tag bits.
func (c *Converter) convertInt32ToBoxed(dst, src Reg) {
	if dst != src {
		c.E.MoveRegReg(dst, src)
	}
	c.E.Or(dst, integerTagBits)
}

// convertBoxedToInt32 emits Boxed* → Int32: zero-extend the low 32 bits.
func (c *Converter) convertBoxedToInt32(dst, src Reg) {
	if dst != src {
		c.E.MoveRegReg(dst, src)
	}
	c.E.ZeroExtend32(dst)
}

// convertBoxedToDouble emits Boxed (GPR) → Double (FPR): branch on tag,
// integer path converts, double path subtracts the bias and reinterprets.
func (c *Converter) convertBoxedToDouble(dst, src Reg) {
	isDoubleJump := c.E.BranchIfTag(src)
	// fallthrough: integer path
	c.E.IntToDouble(dst, src)
	done := c.E.NewLabel()
	c.E.Jump(done)
	doubleLabel := c.E.NewLabel()
	c.E.MarkLabel(doubleLabel)
	c.E.Link(isDoubleJump, doubleLabel)
	c.E.UnboxDouble(dst, src)
	c.E.MarkLabel(done)
}

// ConvertDoubleToBoxed emits Double (FPR) → Boxed (GPR). When a scratch
// FPR is available it attempts the narrowing test of §4.1: on success the
// value is boxed as a tagged 32-bit integer (cheaper, unboxes for free
// later); on failure it falls back to biasing the double into a GPR.
// intScratch is a GPR used as the truncated-integer temporary when the
// narrowing test runs; it is only read when hasScratchFPR is true.
// Returns TagBoxedDouble when no narrowing test is emitted, and
// TagBoxedInt32 (the success path's shape) when it is; in the latter case
// dst still holds a boxed double at run time whenever the test fails.
func (c *Converter) ConvertDoubleToBoxed(dst, src Reg, hasScratchFPR bool, scratchFPR, intScratch Reg) RepTag {
	if !hasScratchFPR {
		c.E.BoxDouble(dst, src)
		return TagBoxedDouble
	}
	fail := c.E.TestIntegrality(intScratch, src, scratchFPR)
	// success: intScratch holds the truncated value; tag and move to dst
	c.convertInt32ToBoxed(dst, intScratch)
	done := c.E.NewLabel()
	c.E.Jump(done)
	failLabel := c.E.NewLabel()
	c.E.MarkLabel(failLabel)
	c.E.Link(fail, failLabel)
	c.E.BoxDouble(dst, src)
	c.E.MarkLabel(done)
	return TagBoxedInt32
}

// MaterializeConstant emits code placing a compile-time constant into dst.
// The Undefined singleton is deduplicated within one exit: the first call
// materializes it into a dedicated register and remembers it; later calls
// within the same exit just copy from that register (§4.1, §4.4 step 8).
func (c *Converter) MaterializeConstant(dst Reg, v ConstValue) {
	if v.IsUndefined() {
		if !c.haveUndefinedReg {
			c.undefinedReg = dst
			c.E.MoveImmToReg(dst, v.Bits)
			c.haveUndefinedReg = true
			return
		}
		if dst != c.undefinedReg {
			c.E.MoveRegReg(dst, c.undefinedReg)
		}
		return
	}
	if v.Tag.IsFPRResident() {
		// doubles cannot take an immediate GPR→FPR path on most ISAs;
		// materialize the bits in a GPR-class move the Emitter maps to
		// a direct FPR load. Concrete Emitters decide the encoding.
		c.E.MoveImmToReg(dst, v.Bits)
		return
	}
	c.E.MoveImmToReg(dst, v.Bits)
}
