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

// Shuffler is the register-to-register bridging path: it reconciles an
// ExitSite against an EntrySite whose values also live in registers (the
// destination tier has its own, independently chosen, register
// allocation). This is the hard core of the package — the physical
// registers a value can occupy form a functional graph (invariant 1: at
// most one logical id per register, on both sides), and that graph
// decomposes into simple chains and simple cycles. Chains resolve with a
// tail-to-head reverse walk; cycles resolve with a swap (length 2, both
// GPR) or a scratch-save-and-rotate (every other length, including the
// FPR length-2 case where no Swap primitive exists).
type Shuffler struct {
	RF        RegisterFile
	E         Emitter
	Converter *Converter
	Scratch   *ScratchFinder
	Metrics   *Metrics   // may be nil; counters are best-effort
	Trace     *Tracefile // may be nil; per-chain/per-cycle accounting
}

// NewShuffler builds a Shuffler over one exit's already-computed scratch
// pool. Callers construct one Shuffler per exit (the scratch pool and the
// converter's Undefined cache are both exit-scoped).
func NewShuffler(rf RegisterFile, e Emitter, conv *Converter, scratch *ScratchFinder, m *Metrics) *Shuffler {
	return &Shuffler{RF: rf, E: e, Converter: conv, Scratch: scratch, Metrics: m}
}

// EntrySpill names one logical value whose entry-side destination is a
// spill slot rather than a register — it never appears in EntrySite's
// GPR/FPR maps, so the chain/cycle graph below never sees it. Handled by
// Run's Step A before that graph is even built (spec §4.3 Step A).
type EntrySpill struct {
	ID       LogicalID
	HomeSlot int32
	HomeTag  RepTag
}

// preSpill implements spec §4.3 Step A. Every entrySpills entry names a
// logical value whose entry descriptor is Spilled: it is written to its
// home slot here, boxing as needed, then conceptually removed from the
// graph Run builds below (it was never in entry.GPR/FPR to begin with). A
// value the exit side already marks is_also_spilled is skipped outright —
// it already has a live copy sitting at its home slot, so writing it again
// would just be redundant traffic against invariant 2's intent.
func (s *Shuffler) preSpill(exit ExitSite, entrySpills []EntrySpill, sources map[LogicalID]ValueDescriptor) error {
	for _, es := range entrySpills {
		if r, slot, ok := exit.Find(s.RF, es.ID); ok {
			if slot.IsAlsoSpilled {
				continue
			}
			if err := s.storeRegToSlot(r, slot.Tag, es.HomeSlot, es.HomeTag); err != nil {
				return err
			}
			continue
		}
		desc, ok := sources[es.ID]
		if !ok {
			return &ReconcileError{Kind: ErrInconsistentDescriptor,
				Message: fmt.Sprintf("no source descriptor for entry-spilled logical id %d", es.ID)}
		}
		if err := s.storeDescToSlot(desc, es.HomeSlot, es.HomeTag); err != nil {
			return err
		}
	}
	return nil
}

// storeRegToSlot boxes (if needed) the value currently in srcReg and writes
// it to homeSlot — the pre-spill counterpart of OSRExitEmitter.storeDirect's
// register case, using the Shuffler's own ScratchFinder instead of OSR's
// fixed always-free registers (the bridging path has no such guarantee; a
// register not claimed by either site's register map is exactly what
// ScratchFinder already tracks).
func (s *Shuffler) storeRegToSlot(srcReg Reg, srcTag RepTag, homeSlot int32, homeTag RepTag) error {
	if srcTag == homeTag {
		s.E.StoreStack(homeSlot, srcReg)
		return nil
	}
	if srcTag == TagDouble && (homeTag == TagBoxed || homeTag == TagBoxedInt32) {
		dst := s.Scratch.GuaranteedGPR()
		scratchFPR, haveFPR := s.Scratch.TakeFPR()
		s.Converter.ConvertDoubleToBoxed(dst, srcReg, haveFPR, scratchFPR, dst)
		if haveFPR {
			s.Scratch.Release(scratchFPR)
		}
		s.E.StoreStack(homeSlot, dst)
		if dst != s.RF.TagMaskRegister {
			s.Scratch.Release(dst)
		}
		return nil
	}
	var dst Reg
	if homeTag.IsFPRResident() {
		r, ok := s.Scratch.TakeFPR()
		if !ok {
			return &ReconcileError{Kind: ErrInconsistentDescriptor,
				Message: "pre-spill: no scratch FPR available to materialise a Double-resident home slot"}
		}
		dst = r
	} else {
		dst = s.Scratch.GuaranteedGPR()
	}
	s.Converter.Convert(dst, srcReg, srcTag, homeTag)
	s.E.StoreStack(homeSlot, dst)
	if homeTag.IsFPRResident() || dst != s.RF.TagMaskRegister {
		s.Scratch.Release(dst)
	}
	return nil
}

// storeDescToSlot materialises a spilled/displaced/constant source value
// straight into homeSlot — the pre-spill counterpart of the Shuffler's own
// fill-missing pass (emitDirect), which does the same thing for register
// destinations instead of stack ones.
func (s *Shuffler) storeDescToSlot(desc ValueDescriptor, homeSlot int32, homeTag RepTag) error {
	switch desc.Kind {
	case DescDead:
		return nil
	case DescConstant:
		dst := s.Scratch.GuaranteedGPR()
		s.Converter.MaterializeConstant(dst, desc.Value)
		s.E.StoreStack(homeSlot, dst)
		if dst != s.RF.TagMaskRegister {
			s.Scratch.Release(dst)
		}
		return nil
	case DescSpilled, DescDisplaced:
		dst := s.Scratch.GuaranteedGPR()
		s.E.LoadStack(dst, desc.StackSlot)
		if desc.Tag != homeTag {
			s.Converter.Convert(dst, dst, desc.Tag, homeTag)
		}
		s.E.StoreStack(homeSlot, dst)
		if dst != s.RF.TagMaskRegister {
			s.Scratch.Release(dst)
		}
		return nil
	default:
		return &ReconcileError{Kind: ErrInconsistentDescriptor,
			Message: fmt.Sprintf("pre-spill: unexpected descriptor kind %d for an entry-spilled source", desc.Kind)}
	}
}

// shuffleDest is one entry register's requirement: either it must receive
// the value currently in srcReg (hasSrc), or it must be loaded/materialized
// directly from memory or a constant (direct).
type shuffleDest struct {
	tag    RepTag
	srcReg Reg
	hasSrc bool
	direct ValueDescriptor
}

// Run reconciles exit against entry. sources supplies, for every logical
// id live at entry that is NOT register-resident at exit, the descriptor
// saying where it actually is (Spilled, Displaced, or Constant — Dead
// values never appear at entry by construction). ExitSite alone only
// describes register occupancy, so the caller (ExitDriver) passes this
// alongside it.
func (s *Shuffler) Run(exit ExitSite, entry EntrySite, sources map[LogicalID]ValueDescriptor, entrySpills []EntrySpill) error {
	if err := exit.Validate(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	if err := s.preSpill(exit, entrySpills, sources); err != nil {
		return err
	}

	dests := make(map[Reg]shuffleDest)
	srcTagAt := make(map[Reg]RepTag) // exit-time tag of a register that is needed as a source

	visitSlots := func(slots []RegSlot, base Reg) error {
		for i, sl := range slots {
			if !sl.Used {
				continue
			}
			d := base + Reg(i)
			if r, exitSlot, ok := exit.Find(s.RF, sl.LogicalID); ok {
				if r == d && exitSlot.Tag == sl.Tag {
					continue // already in place, nothing to do
				}
				dests[d] = shuffleDest{tag: sl.Tag, srcReg: r, hasSrc: true}
				srcTagAt[r] = exitSlot.Tag
				continue
			}
			desc, ok := sources[sl.LogicalID]
			if !ok {
				return &ReconcileError{Kind: ErrInconsistentDescriptor,
					Message: fmt.Sprintf("no source descriptor for logical id %d required at entry", sl.LogicalID)}
			}
			dests[d] = shuffleDest{tag: sl.Tag, hasSrc: false, direct: desc}
		}
		return nil
	}
	if err := visitSlots(entry.GPR, 0); err != nil {
		return err
	}
	if err := visitSlots(entry.FPR, FPRBase); err != nil {
		return err
	}

	neededAsSource := make(map[Reg]bool, len(dests))
	for _, info := range dests {
		if info.hasSrc {
			neededAsSource[info.srcReg] = true
		}
	}

	resolved := make(map[Reg]bool, len(dests))

	emitMove := func(dest Reg, destTag RepTag, src Reg, srcTag RepTag) {
		if srcTag == TagDouble && (destTag == TagBoxed || destTag == TagBoxedInt32) {
			scratchFPR, haveFPR := s.Scratch.TakeFPR()
			intScratch := s.Scratch.GuaranteedGPR()
			s.Converter.ConvertDoubleToBoxed(dest, src, haveFPR, scratchFPR, intScratch)
			if haveFPR {
				s.Scratch.Release(scratchFPR)
			}
			if intScratch != s.RF.TagMaskRegister {
				s.Scratch.Release(intScratch)
			}
			return
		}
		s.Converter.Convert(dest, src, srcTag, destTag)
	}

	emitDirect := func(dest Reg, destTag RepTag, desc ValueDescriptor) {
		switch desc.Kind {
		case DescConstant:
			s.Converter.MaterializeConstant(dest, desc.Value)
		case DescSpilled, DescDisplaced:
			s.E.LoadStack(dest, desc.StackSlot)
			if desc.Tag != destTag {
				s.Converter.Convert(dest, dest, desc.Tag, destTag)
			}
		case DescDead:
			// nothing live needs materializing
		}
	}

	// Chains: start from every destination that is not itself needed as a
	// source — it is safe to write immediately — and walk backward.
	for d := range dests {
		if neededAsSource[d] || resolved[d] {
			continue
		}
		if s.Metrics != nil {
			atomic.AddInt64(&s.Metrics.ChainsResolved, 1)
		}
		if s.Trace != nil {
			s.Trace.Event("chain", "reconcile")
		}
		cur := d
		for {
			info := dests[cur]
			if !info.hasSrc {
				emitDirect(cur, info.tag, info.direct)
				resolved[cur] = true
				break
			}
			src := info.srcReg
			emitMove(cur, info.tag, src, srcTagAt[src])
			resolved[cur] = true
			if _, isDest := dests[src]; !isDest {
				// src was a pure head: its old content is now fully
				// relocated and the register is free for cycle use.
				s.Scratch.Release(src)
				break
			}
			cur = src
		}
	}

	// Whatever remains is partitioned into disjoint simple cycles.
	for d, info := range dests {
		if resolved[d] || !info.hasSrc {
			continue
		}
		members := []Reg{d}
		seen := map[Reg]bool{d: true}
		cur := d
		for {
			next := dests[cur].srcReg
			if seen[next] {
				break
			}
			members = append(members, next)
			seen[next] = true
			cur = next
		}
		s.resolveCycle(members, dests, srcTagAt)
		for _, r := range members {
			resolved[r] = true
		}
	}

	return nil
}

// resolveCycle emits the moves for one closed cycle of registers, each of
// which must receive the value currently held by the next member in the
// slice (wrapping around, members[len-1] feeds members[0]). Spec §4.3:
// length 1 is a representation conversion in place with no data movement;
// length 2 on two GPRs is a single Swap; everything else (including the
// FPR length-2 case, which has no Swap primitive) breaks the cycle with
// one scratch register holding the displaced value while the rest of the
// cycle is walked like an ordinary chain.
func (s *Shuffler) resolveCycle(members []Reg, dests map[Reg]shuffleDest, srcTagAt map[Reg]RepTag) {
	if s.Trace != nil {
		s.Trace.Event("cycle", "reconcile")
	}
	if len(members) == 1 {
		if s.Metrics != nil {
			atomic.AddInt64(&s.Metrics.CyclesResolvedLen1, 1)
		}
		r := members[0]
		d := dests[r]
		if d.tag != srcTagAt[r] {
			s.Converter.Convert(r, r, srcTagAt[r], d.tag)
		}
		return
	}

	allGPR := true
	for _, r := range members {
		if s.RF.IsFPR(r) {
			allGPR = false
			break
		}
	}

	if len(members) == 2 && allGPR {
		a, b := members[0], members[1]
		da, db := dests[a], dests[b]
		if da.tag == srcTagAt[b] && db.tag == srcTagAt[a] {
			if s.Metrics != nil {
				atomic.AddInt64(&s.Metrics.CyclesResolvedLen2, 1)
			}
			s.E.Swap(a, b)
			return
		}
		// tags differ across the swap: fall through to the general
		// scratch method, which re-tags on every edge anyway.
	}

	if s.Metrics != nil {
		atomic.AddInt64(&s.Metrics.CyclesResolvedLenMgr, 1)
	}

	head := members[0]
	headTag := srcTagAt[head]

	// savedTag is how the head's value actually sits once parked in
	// scratch — ordinarily identical to headTag, except when scratch had
	// to be pulled from the other register class (no free FPR while
	// saving a Double), in which case it is boxed on the way in.
	var scratch Reg
	savedTag := headTag
	usedGuaranteedFallback := false

	if allGPR {
		scratch = s.Scratch.GuaranteedGPR()
		usedGuaranteedFallback = scratch == s.RF.TagMaskRegister
		s.Converter.Convert(scratch, head, headTag, headTag)
	} else if s.RF.IsFPR(head) {
		if r, ok := s.Scratch.TakeFPR(); ok {
			scratch = r
			s.Converter.Convert(scratch, head, headTag, headTag)
		} else {
			scratch = s.Scratch.GuaranteedGPR()
			usedGuaranteedFallback = scratch == s.RF.TagMaskRegister
			s.E.BoxDouble(scratch, head)
			savedTag = TagBoxedDouble
		}
	} else {
		// head is a GPR; the guarantee (tag-mask-register fallback)
		// always supplies a same-class scratch, so this never needs
		// the cross-class path.
		scratch = s.Scratch.GuaranteedGPR()
		usedGuaranteedFallback = scratch == s.RF.TagMaskRegister
		s.Converter.Convert(scratch, head, headTag, headTag)
	}

	// Walk forward: dest(members[i]) receives src(members[i+1]), wrapping
	// the final edge back to the value saved in scratch.
	for i := 0; i < len(members); i++ {
		dest := members[i]
		var srcReg Reg
		var srcTag RepTag
		if i == len(members)-1 {
			srcReg, srcTag = scratch, savedTag
		} else {
			srcReg = members[i+1]
			srcTag = srcTagAt[srcReg]
		}
		s.Converter.Convert(dest, srcReg, srcTag, dests[dest].tag)
	}

	if !usedGuaranteedFallback {
		s.Scratch.Release(scratch)
	} else if s.Metrics != nil {
		atomic.AddInt64(&s.Metrics.ScratchTagMaskUsed, 1)
	}
}
