package reconcile

import "testing"

func TestParseFixtureBridgeCase(t *testing.T) {
	text := `
EXIT
gpr r0 = v1 : Int32
fpr f0 = v2 : Double
spilled v3 : -8 : Int32
const v4 : Boxed = 0

ENTRY
gpr r1 = v1 : BoxedInt32
gpr r2 = v3 : Int32
fpr f1 = v2 : Double
gpr r3 = v4 : Boxed
`
	fc, err := ParseFixture("bridge", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fc.HasEntry {
		t.Fatal("expected HasEntry to be true")
	}

	if r, sl, ok := fc.Exit.Find(defaultRF, 1); !ok || r != 0 || sl.Tag != TagInt32 {
		t.Fatalf("expected v1 at r0:Int32 in the exit site, got r=%d sl=%v ok=%v", r, sl, ok)
	}
	if r, sl, ok := fc.Exit.Find(defaultRF, 2); !ok || r != FPRBase || sl.Tag != TagDouble {
		t.Fatalf("expected v2 at f0:Double in the exit site, got r=%d sl=%v ok=%v", r, sl, ok)
	}
	desc, ok := fc.Sources[3]
	if !ok || desc.Kind != DescSpilled || desc.StackSlot != -8 {
		t.Fatalf("expected v3 spilled at slot -8, got %v ok=%v", desc, ok)
	}
	cdesc, ok := fc.Sources[4]
	if !ok || cdesc.Kind != DescConstant || !cdesc.Value.IsUndefined() {
		t.Fatalf("expected v4 to be the Undefined constant, got %v ok=%v", cdesc, ok)
	}

	if r, sl, ok := fc.Entry.Find(defaultRF, 1); !ok || r != 1 || sl.Tag != TagBoxedInt32 {
		t.Fatalf("expected v1 at r1:BoxedInt32 in the entry site, got r=%d sl=%v ok=%v", r, sl, ok)
	}
}

func TestParseFixtureOSRCaseWithRecovery(t *testing.T) {
	text := `
EXIT
gpr r0 = v1 : BoxedInt32

RECOVER undo-add r0 r1
RECOVER undo-bool r2

OSR
live v1 : 1 : Int32
live v2 : 2 : Boxed
`
	fc, err := ParseFixture("osr", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.HasEntry {
		t.Fatal("expected HasEntry to be false for an OSR-only fixture")
	}
	if len(fc.Recovery) != 2 {
		t.Fatalf("expected two recovery actions, got %v", fc.Recovery)
	}
	if fc.Recovery[0].Kind != RecoveryUndoSpeculativeAdd || fc.Recovery[0].Dest != 0 || fc.Recovery[0].Src != 1 {
		t.Fatalf("unexpected first recovery action: %+v", fc.Recovery[0])
	}
	if fc.Recovery[1].Kind != RecoveryUndoBooleanGuard || fc.Recovery[1].Dest != 2 {
		t.Fatalf("unexpected second recovery action: %+v", fc.Recovery[1])
	}
	if len(fc.Lives) != 2 || fc.Lives[0].HomeSlot != 1 || fc.Lives[1].HomeTag != TagBoxed {
		t.Fatalf("unexpected lives: %+v", fc.Lives)
	}
}

func TestParseFixtureEntrySpillLine(t *testing.T) {
	text := `
EXIT
gpr r0 = v1 : Int32

ENTRY
spilled v1 : -16 : Int32
`
	fc, err := ParseFixture("entryspill", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fc.HasEntry {
		t.Fatal("expected HasEntry to be true")
	}
	if len(fc.EntrySpills) != 1 {
		t.Fatalf("expected one entry-spill, got %v", fc.EntrySpills)
	}
	es := fc.EntrySpills[0]
	if es.ID != 1 || es.HomeSlot != -16 || es.HomeTag != TagInt32 {
		t.Fatalf("unexpected entry-spill: %+v", es)
	}
}

func TestParseFixtureRejectsUnknownTag(t *testing.T) {
	text := "EXIT\ngpr r0 = v1 : NotATag\n"
	if _, err := ParseFixture("bad", text); err == nil {
		t.Fatal("expected an error for an unrecognized representation tag")
	}
}

func TestParseFixtureIgnoresCommentsAndBlankLines(t *testing.T) {
	text := `
# a comment
EXIT

gpr r0 = v1 : Int32
# another comment
ENTRY
gpr r0 = v1 : Int32
`
	fc, err := ParseFixture("comments", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r, _, ok := fc.Exit.Find(defaultRF, 1); !ok || r != 0 {
		t.Fatalf("expected v1 still parsed despite surrounding comments, got r=%d ok=%v", r, ok)
	}
}
