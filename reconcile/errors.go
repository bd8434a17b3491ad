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

// ErrorKind is the closed taxonomy of detectable failures from spec §7.
// Both are fatal: there are no retriable errors in this engine.
type ErrorKind uint8

const (
	// ErrInconsistentDescriptor: the same logical_id claimed by two
	// registers, or claimed by a register while also marked dead.
	ErrInconsistentDescriptor ErrorKind = iota
	// ErrUnresolvedOSRTarget: the bytecode-offset map has no entry for
	// the offset an OSR exit needs to jump to.
	ErrUnresolvedOSRTarget
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInconsistentDescriptor:
		return "inconsistent descriptor"
	case ErrUnresolvedOSRTarget:
		return "unresolved OSR target"
	default:
		return "unknown reconcile error"
	}
}

// ReconcileError is the error type the reconciliation engine (ExitDriver,
// Shuffler, OSRExitEmitter) returns; ParseFixture returns ordinary
// wrapped errors instead. Scratch
// exhaustion is explicitly not part of this taxonomy: spec §4.2/§7 prove
// it cannot happen (the tag-mask-register fallback always supplies one
// GPR), so ScratchFinder never returns an error — only a panic would
// indicate a programmer bug in the register-file configuration itself.
type ReconcileError struct {
	Kind    ErrorKind
	Message string
}

func (e *ReconcileError) Error() string {
	return e.Kind.String() + ": " + e.Message
}
