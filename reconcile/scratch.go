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

// ScratchFinder computes, and incrementally augments, the pool of physical
// registers the Shuffler may borrow as temporaries while resolving cycles
// (spec §4.2, §4.3, §9). A register is free the moment nothing in either
// the exit or the entry snapshot claims it — meaning no source value still
// needs to be read out of it, and no destination value will land in it.
//
// Per spec's Open Question, resolved in SPEC_FULL.md: the finder computes
// its initial pool once, before any shuffling begins, and is then
// monotonically augmented — never recomputed from scratch — as the
// Shuffler completes chains and frees up the registers those chains used
// to hold now-relocated values. A register already handed out as a scratch
// is removed from the pool until Release'd; nothing here ever double-lends
// the same scratch to two live uses.
type ScratchFinder struct {
	rf RegisterFile

	freeGPR []bool
	freeFPR []bool
}

// NewScratchFinder computes the initial free-register pool for one exit:
// every GPR/FPR not claimed by any logical value in either exit or entry,
// except the tag-mask register, which is held back for GuaranteedGPR's
// fallback.
func NewScratchFinder(rf RegisterFile, exit ExitSite, entry EntrySite) *ScratchFinder {
	f := &ScratchFinder{
		rf:      rf,
		freeGPR: make([]bool, rf.NumGPR),
		freeFPR: make([]bool, rf.NumFPR),
	}
	for i := range f.freeGPR {
		f.freeGPR[i] = !exit.GPR[i].Used && !entry.GPR[i].Used && Reg(i) != rf.TagMaskRegister
	}
	for i := range f.freeFPR {
		f.freeFPR[i] = !exit.FPR[i].Used && !entry.FPR[i].Used
	}
	return f
}

// TakeGPR removes and returns a free GPR, if one is available in the pool
// computed so far. The caller must Release it (or let the exit end) once
// done; TakeGPR never hands out the same register twice without an
// intervening Release.
func (f *ScratchFinder) TakeGPR() (Reg, bool) {
	for i, free := range f.freeGPR {
		if free {
			f.freeGPR[i] = false
			return Reg(i), true
		}
	}
	return 0, false
}

// TakeFPR removes and returns a free FPR, if one is available.
func (f *ScratchFinder) TakeFPR() (Reg, bool) {
	for i, free := range f.freeFPR {
		if free {
			f.freeFPR[i] = false
			return Reg(i) + FPRBase, true
		}
	}
	return 0, false
}

// Release returns a register to the pool — called once a chain or cycle
// resolution has permanently vacated it (its old occupant has been moved
// to its final home and nothing else will read this register again this
// exit). This is the "monotonic augmentation" the spec's Open Question
// asks about: the pool only ever grows across one exit's shuffling, it is
// never rebuilt.
func (f *ScratchFinder) Release(r Reg) {
	if f.rf.IsFPR(r) {
		f.freeFPR[f.rf.fprIndex(r)] = true
	} else {
		f.freeGPR[f.rf.gprIndex(r)] = true
	}
}

// GuaranteedGPR returns a scratch GPR, falling back to the tag-mask
// register when the free pool is empty. Spec §4.2/§7 prove this fallback
// always succeeds: the tag-mask register is never itself a destination
// representation mid-shuffle, and its value is restored (re-derived, not
// saved) by the concrete Emitter once the exit completes — so this method
// has no failure path and returns no error.
func (f *ScratchFinder) GuaranteedGPR() Reg {
	if r, ok := f.TakeGPR(); ok {
		return r
	}
	return f.rf.TagMaskRegister
}
