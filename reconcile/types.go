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

import "fmt"

// Reg is a physical-register index. Values below a RegisterFile's FPRBase
// are GPRs; values at or above it are FPRs. The mapping to actual hardware
// registers (RAX, X0, ...) is the concrete Emitter's concern, not ours.
type Reg uint8

// LogicalID stably identifies a source-variable or SSA temporary across
// both tiers. Within one ExitSite or EntrySite, a LogicalID claims at most
// one physical register (invariant 1 of spec §3).
//
// The same type also names exit/entry *sites* in ExitDriver.Run — the
// driver pairs an exit with its baseline entry by matching this id, not by
// the identity of any one variable live at that point. The two uses never
// collide in practice (the IR hands out disjoint ranges), but they are the
// same Go type because the source specification overloads the term.
type LogicalID uint32

// RepTag is the closed set of representations a value can carry while
// being reconciled between tiers.
type RepTag uint8

const (
	TagInt32       RepTag = iota // raw 32-bit integer in a GPR, no tag bits
	TagBoxedInt32                // 64-bit payload, integer tag bits set (GPR)
	TagCell                      // pointer to a heap object (GPR)
	TagBoxed                     // any value in boxed form (GPR)
	TagDouble                    // IEEE-754 double in an FPR
	TagBoxedDouble               // double biased into 64-bit integer form (GPR)
)

func (t RepTag) String() string {
	switch t {
	case TagInt32:
		return "Int32"
	case TagBoxedInt32:
		return "BoxedInt32"
	case TagCell:
		return "Cell"
	case TagBoxed:
		return "Boxed"
	case TagDouble:
		return "Double"
	case TagBoxedDouble:
		return "BoxedDouble"
	default:
		return fmt.Sprintf("RepTag(%d)", uint8(t))
	}
}

// IsFPRResident reports whether a value carrying this tag lives in an FPR
// when held in a register at all. Only Double does; BoxedDouble is a GPR
// residence by definition (invariant 3: it is never a destination tag, it
// only exists transiently while a double borrows a GPR).
func (t RepTag) IsFPRResident() bool {
	return t == TagDouble
}

// ConstValue is a compile-time constant recovered from the IR for a
// Constant descriptor. Bits holds the raw payload (the integer value, the
// float64 bits, or a sentinel for Undefined); Tag says how to interpret it.
type ConstValue struct {
	Tag  RepTag
	Bits uint64
}

// IsUndefined reports whether this constant is the shared "undefined"
// singleton — the common case OSRExitEmitter and RepresentationConverter
// special-case into one materialized register reused across all stores of
// a single exit (spec §4.1, §4.4 step 8).
func (c ConstValue) IsUndefined() bool {
	return c.Tag == TagBoxed && c.Bits == undefinedBits
}

// undefinedBits is the sentinel payload for the Undefined constant. Its
// exact bit pattern is a runtime-representation detail the graph IR owns;
// we only need a stable value to recognize and dedupe it within one exit.
const undefinedBits uint64 = 0

// Undefined constructs the shared Undefined constant value.
func Undefined() ConstValue { return ConstValue{Tag: TagBoxed, Bits: undefinedBits} }

// DescKind is the tag of the ValueDescriptor union (spec §3).
type DescKind uint8

const (
	DescInGpr     DescKind = iota // unboxed primitive or boxed pointer+aux in a GPR
	DescInFpr                     // implicitly Double, lives in an FPR
	DescSpilled                   // on the stack at its home slot
	DescDisplaced                 // lives in another variable's home slot
	DescConstant                  // compile-time constant, no register
	DescDead                      // not live, needs no materialization
)

// ValueDescriptor describes where a single logical value lives and how it
// is represented, at one program point, for one logical id. It is the
// leaf-most type in the engine (§2: "ValueDescriptor", 5% share) — every
// other component either builds one, consumes one, or both.
type ValueDescriptor struct {
	Kind DescKind

	// DescInGpr / DescInFpr
	Reg Reg
	Tag RepTag

	// DescSpilled: the home slot the value currently sits at.
	// DescDisplaced: the *other* variable's home slot this value is
	// currently borrowing (StackSlot), distinct from this value's own
	// home slot (which the caller already knows from context).
	StackSlot int32

	// DescConstant
	Value ConstValue
}

func (d ValueDescriptor) String() string {
	switch d.Kind {
	case DescInGpr:
		return fmt.Sprintf("InGpr(r%d,%s)", d.Reg, d.Tag)
	case DescInFpr:
		return fmt.Sprintf("InFpr(f%d)", d.Reg)
	case DescSpilled:
		return fmt.Sprintf("Spilled(slot%d,%s)", d.StackSlot, d.Tag)
	case DescDisplaced:
		return fmt.Sprintf("Displaced(slot%d)", d.StackSlot)
	case DescConstant:
		return fmt.Sprintf("Constant(%v)", d.Value)
	case DescDead:
		return "Dead"
	default:
		return fmt.Sprintf("ValueDescriptor(kind=%d)", d.Kind)
	}
}

// RegSlot is one physical register's state within an ExitSite or
// EntrySite: either Unused, or Holds a single logical value (spec §3).
type RegSlot struct {
	Used        bool
	LogicalID   LogicalID
	Tag         RepTag
	IsAlsoSpilled bool // value additionally has a live copy at its home slot
}

// RegisterFile fixes the physical-register shape an ExitSite/EntrySite is
// defined over — how many GPRs, how many FPRs, and which registers are
// reserved by the surrounding runtime and therefore never assignable to a
// logical value (they're still addressable, e.g. as the tag-mask-register
// scratch fallback). This is the "thread-local parameter passed into the
// engine" that spec §9 asks for in place of global singletons.
type RegisterFile struct {
	NumGPR int
	NumFPR int

	TagMaskRegister        Reg
	TagTypeNumberRegister  Reg
	CallFrameRegister      Reg
}

// FPRBase is the first Reg value that addresses an FPR rather than a GPR.
// FPR index i is addressed as Reg(FPRBase + i).
const FPRBase Reg = 64

func (rf RegisterFile) IsFPR(r Reg) bool { return r >= FPRBase }

func (rf RegisterFile) gprIndex(r Reg) int { return int(r) }
func (rf RegisterFile) fprIndex(r Reg) int { return int(r - FPRBase) }

// ExitSite is the physical-register and spill snapshot at one speculation
// exit (spec §3).
type ExitSite struct {
	GPR []RegSlot // indexed by gpr number
	FPR []RegSlot // indexed by fpr number
}

// NewExitSite allocates an empty ExitSite shaped for rf.
func NewExitSite(rf RegisterFile) ExitSite {
	return ExitSite{GPR: make([]RegSlot, rf.NumGPR), FPR: make([]RegSlot, rf.NumFPR)}
}

func (s *ExitSite) slot(rf RegisterFile, r Reg) *RegSlot {
	if rf.IsFPR(r) {
		return &s.FPR[rf.fprIndex(r)]
	}
	return &s.GPR[rf.gprIndex(r)]
}

// Set records that physical register r holds logical value id in the
// given representation at this exit.
func (s *ExitSite) Set(rf RegisterFile, r Reg, id LogicalID, tag RepTag, alsoSpilled bool) {
	*s.slot(rf, r) = RegSlot{Used: true, LogicalID: id, Tag: tag, IsAlsoSpilled: alsoSpilled}
}

// Find returns the physical register holding id, if any.
func (s *ExitSite) Find(rf RegisterFile, id LogicalID) (Reg, RegSlot, bool) {
	for i, sl := range s.GPR {
		if sl.Used && sl.LogicalID == id {
			return Reg(i), sl, true
		}
	}
	for i, sl := range s.FPR {
		if sl.Used && sl.LogicalID == id {
			return Reg(i) + FPRBase, sl, true
		}
	}
	return 0, RegSlot{}, false
}

// EntrySite is the physical-register snapshot at the matching baseline
// entry, plus the label to jump to (spec §3).
type EntrySite struct {
	GPR   []RegSlot
	FPR   []RegSlot
	Label Label
}

// NewEntrySite allocates an empty EntrySite shaped for rf.
func NewEntrySite(rf RegisterFile) EntrySite {
	return EntrySite{GPR: make([]RegSlot, rf.NumGPR), FPR: make([]RegSlot, rf.NumFPR)}
}

func (s *EntrySite) slot(rf RegisterFile, r Reg) *RegSlot {
	if rf.IsFPR(r) {
		return &s.FPR[rf.fprIndex(r)]
	}
	return &s.GPR[rf.gprIndex(r)]
}

// Set records that physical register r must hold logical value id in the
// given representation at this entry.
func (s *EntrySite) Set(rf RegisterFile, r Reg, id LogicalID, tag RepTag) {
	*s.slot(rf, r) = RegSlot{Used: true, LogicalID: id, Tag: tag}
}

// Find returns the physical register that must hold id at entry, if any.
func (s *EntrySite) Find(rf RegisterFile, id LogicalID) (Reg, RegSlot, bool) {
	for i, sl := range s.GPR {
		if sl.Used && sl.LogicalID == id {
			return Reg(i), sl, true
		}
	}
	for i, sl := range s.FPR {
		if sl.Used && sl.LogicalID == id {
			return Reg(i) + FPRBase, sl, true
		}
	}
	return 0, RegSlot{}, false
}

// RecoveryKind enumerates the small pre-shuffle patches a speculative
// guard may need undone before reconciliation proper starts (spec §3).
type RecoveryKind uint8

const (
	RecoveryNone RecoveryKind = iota
	RecoveryUndoSpeculativeAdd
	RecoveryUndoBooleanGuard
)

// RecoveryAction reverses a partial mutation the speculative code
// performed before it checked its assumption.
type RecoveryAction struct {
	Kind RecoveryKind
	Src  Reg // UndoSpeculativeAdd: register to subtract
	Dest Reg // UndoSpeculativeAdd / UndoBooleanGuard: register to fix up
}

// validateUnique checks invariant 1 (unique logical id per register map) for
// one ExitSite or EntrySite, given as parallel GPR/FPR slices. Detectable
// violations are reported, never silently accepted (spec §7: "Inconsistent
// descriptors ... Fatal; abort compilation; emit nothing").
func validateUnique(gpr, fpr []RegSlot) error {
	seen := make(map[LogicalID]Reg, len(gpr)+len(fpr))
	check := func(i int, sl RegSlot, isFPR bool) error {
		if !sl.Used {
			return nil
		}
		r := Reg(i)
		if isFPR {
			r += FPRBase
		}
		if prev, dup := seen[sl.LogicalID]; dup {
			return &ReconcileError{
				Kind:    ErrInconsistentDescriptor,
				Message: fmt.Sprintf("logical id %d claimed by both r%d and r%d", sl.LogicalID, prev, r),
			}
		}
		seen[sl.LogicalID] = r
		return nil
	}
	for i, sl := range gpr {
		if err := check(i, sl, false); err != nil {
			return err
		}
	}
	for i, sl := range fpr {
		if err := check(i, sl, true); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks ExitSite invariant 1.
func (s ExitSite) Validate() error { return validateUnique(s.GPR, s.FPR) }

// Validate checks EntrySite invariant 1.
func (s EntrySite) Validate() error { return validateUnique(s.GPR, s.FPR) }
