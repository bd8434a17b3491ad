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

import "github.com/google/btree"

// BytecodeMap resolves a bytecode offset to the machine-code address of
// the baseline entry compiled for it — the lookup OSRExitEmitter's step
// 10/11 needs (spec §4.4, §6: "out of scope: the bytecode-offset→
// machine-offset table, assume a sorted array with binary search").
//
// We implement that collaborator on top of google/btree rather than a
// bare sorted slice: baseline compilation discovers and registers entries
// incrementally as it compiles each basic block, not in one batch, so
// Insert needs to stay cheap while Offsets (and the fixture tooling that
// dumps a map's contents for diagnostics) still wants an ordered walk.
type BytecodeMap struct {
	tree *btree.BTreeG[bytecodeEntry]
}

type bytecodeEntry struct {
	bytecodeOffset uint32
	machineOffset  uint32
}

func bytecodeEntryLess(a, b bytecodeEntry) bool {
	return a.bytecodeOffset < b.bytecodeOffset
}

// NewBytecodeMap creates an empty map.
func NewBytecodeMap() *BytecodeMap {
	return &BytecodeMap{tree: btree.NewG(32, bytecodeEntryLess)}
}

// Register records that bytecodeOffset's baseline entry begins at
// machineOffset. Re-registering the same bytecodeOffset overwrites the
// previous machineOffset (baseline recompilation replaces entries).
func (m *BytecodeMap) Register(bytecodeOffset, machineOffset uint32) {
	m.tree.ReplaceOrInsert(bytecodeEntry{bytecodeOffset: bytecodeOffset, machineOffset: machineOffset})
}

// MachineOffsetFor returns the machine-code offset registered for exactly
// bytecodeOffset. OSR targets are always exact bytecode offsets (they
// come from the same bytecode the baseline compiler walked), so this is
// an exact lookup, not a nearest-below search.
func (m *BytecodeMap) MachineOffsetFor(bytecodeOffset uint32) (uint32, bool) {
	entry, ok := m.tree.Get(bytecodeEntry{bytecodeOffset: bytecodeOffset})
	if !ok {
		return 0, false
	}
	return entry.machineOffset, true
}

// Len reports how many bytecode offsets have a registered baseline entry.
func (m *BytecodeMap) Len() int { return m.tree.Len() }

// Offsets returns every registered bytecode offset in ascending order —
// used by the trace/debug tooling to dump a map's shape, not by the hot
// reconciliation path.
func (m *BytecodeMap) Offsets() []uint32 {
	out := make([]uint32, 0, m.tree.Len())
	m.tree.Ascend(func(e bytecodeEntry) bool {
		out = append(out, e.bytecodeOffset)
		return true
	})
	return out
}
