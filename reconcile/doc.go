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

// Package reconcile implements the speculative→baseline state-reconciliation
// engine of a two-tier JIT: the machinery that runs when a speculative
// assumption fails and control must resume in baseline code at the same
// bytecode offset with equivalent state.
//
// Contract
// ========
//
// Two descriptors drive every exit:
//
//   - ExitSite describes, per physical register, which logical value (if
//     any) lives there and in what representation, at the moment the
//     speculation check failed.
//   - EntrySite describes the same shape for the matching point in the
//     destination tier — either a baseline machine-code entry with its own
//     register allocation (the "bridging" path, see Shuffler), or nothing
//     at all when the destination expects every value in its canonical
//     call-frame home slot (the "OSR" path, see OSRExitEmitter).
//
// The engine never allocates registers and never decides where to
// speculate; it only reconciles state that the two tiers' allocators
// already assigned. It is pure code-emission: every method here appends
// instructions to an Emitter and returns, with no execution of its own.
//
// Registers are addressed through a flat Reg space: low values are GPRs,
// values at or above FPRBase are FPRs — see RegisterFile.
//
// Ownership: callers retain ExitSite, EntrySite and RecoveryAction; the
// engine borrows them for the duration of one exit and does not mutate or
// retain them past the call that consumed them.
package reconcile
