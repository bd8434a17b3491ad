//go:build amd64

package reconcile

import "testing"

func TestWriterAMD64ImplementsEmitter(t *testing.T) {
	var _ Emitter = NewWriterAMD64(testRF)
}

func TestWriterAMD64EmitsBytesForBasicOps(t *testing.T) {
	w := NewWriterAMD64(testRF)
	w.MoveRegReg(0, 1)
	w.MoveImmToReg(2, 0x1122334455667788)
	w.Or(0, 1<<49)
	w.Sub(0, 1)
	if len(w.Code()) == 0 {
		t.Fatal("expected non-empty emitted code")
	}
}

func TestWriterAMD64LabelAndJumpResolveForward(t *testing.T) {
	w := NewWriterAMD64(testRF)
	w.MoveRegReg(0, 1) // padding before the jump
	label := w.NewLabel()
	w.Jump(label)
	before := len(w.Code())
	w.MarkLabel(label)
	if len(w.Code()) != before {
		t.Fatalf("MarkLabel should not itself emit bytes, before=%d after=%d", before, len(w.Code()))
	}
	// Jumping to the very next instruction is rel32=0, indistinguishable
	// from the placeholder, so check a jump over one 3-byte MOV instead:
	// once its label is marked the rel32 field must read 3.
	over := w.NewLabel()
	w.Jump(over)
	field := len(w.Code()) - 4
	w.MoveRegReg(1, 0)
	w.MarkLabel(over)
	code := w.Code()
	rel := uint32(code[field]) | uint32(code[field+1])<<8 | uint32(code[field+2])<<16 | uint32(code[field+3])<<24
	if rel != 3 {
		t.Fatalf("expected rel32 of 3 for a jump over one 3-byte MOV, got %d", rel)
	}
}

func TestWriterAMD64LinkResolvesConditionalJump(t *testing.T) {
	w := NewWriterAMD64(testRF)
	j := w.BranchIfTag(0)
	w.MoveRegReg(2, 3)
	target := w.NewLabel()
	w.MarkLabel(target)
	w.Link(j, target)
	if len(w.Code()) == 0 {
		t.Fatal("expected emitted bytes for the conditional branch")
	}
}

func TestWriterAMD64JumpRegisterUsesTagMaskRegister(t *testing.T) {
	w := NewWriterAMD64(testRF)
	w.MoveImmToReg(w.TagMaskRegister(), 0xdeadbeef)
	w.JumpRegister(w.TagMaskRegister())
	if len(w.Code()) == 0 {
		t.Fatal("expected emitted bytes for the indirect jump")
	}
}
