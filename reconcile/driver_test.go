package reconcile

import "testing"

// fakeIR is a minimal IR for exercising ExitDriver without a real compiler
// behind it — ExitDriver only ever consumes this interface (spec §6).
type fakeIR struct {
	exits       []ExitRecord
	entries     map[LogicalID]EntrySite
	sources     map[LogicalID]map[LogicalID]ValueDescriptor
	lives       map[LogicalID][]Live
	entrySpills map[LogicalID][]EntrySpill
	reoptSlot   map[LogicalID]int32
}

func (f *fakeIR) Exits() []ExitRecord { return f.exits }

func (f *fakeIR) BridgeEntry(id LogicalID) (EntrySite, bool) {
	e, ok := f.entries[id]
	return e, ok
}

func (f *fakeIR) Sources(id LogicalID) map[LogicalID]ValueDescriptor { return f.sources[id] }

func (f *fakeIR) Lives(id LogicalID) []Live { return f.lives[id] }

func (f *fakeIR) EntrySpills(id LogicalID) []EntrySpill { return f.entrySpills[id] }

func (f *fakeIR) ReoptimizationCounterSlot(id LogicalID) int32 { return f.reoptSlot[id] }

func TestExitDriverDispatchesBridgePath(t *testing.T) {
	exit := NewExitSite(testRF)
	exit.Set(testRF, 0, 1, TagInt32, false)
	entry := NewEntrySite(testRF)
	entry.Set(testRF, 1, 1, TagInt32)
	entry.Label = 5

	ir := &fakeIR{
		exits:   []ExitRecord{{ID: 1, Site: exit}},
		entries: map[LogicalID]EntrySite{1: entry},
	}

	e := newFakeEmitter(testRF)
	m := &Metrics{}
	d := NewExitDriver(testRF, e, nil, m)
	if err := d.Run(ir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.BridgeExits != 1 {
		t.Fatalf("expected BridgeExits=1, got %d", m.BridgeExits)
	}
	if countOps(e.Ops, "Jump") != 1 {
		t.Fatalf("expected a jump to the entry label, got %v", e.Ops)
	}
}

func TestExitDriverDispatchesOSRPath(t *testing.T) {
	exit := NewExitSite(testRF)
	exit.Set(testRF, 0, 1, TagInt32, false)

	ir := &fakeIR{
		exits:     []ExitRecord{{ID: 1, Site: exit, BytecodeOffset: 7}},
		entries:   map[LogicalID]EntrySite{}, // no bridge entry -> OSR path
		lives:     map[LogicalID][]Live{1: {{ID: 1, Desc: ValueDescriptor{Kind: DescInGpr, Reg: 0, Tag: TagInt32}, HomeSlot: 0, HomeTag: TagInt32}}},
		reoptSlot: map[LogicalID]int32{1: 2},
	}

	e := newFakeEmitter(testRF)
	bcMap := NewBytecodeMap()
	bcMap.Register(7, 700)
	m := &Metrics{}
	d := NewExitDriver(testRF, e, bcMap, m)
	if err := d.Run(ir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.OSRExits != 1 {
		t.Fatalf("expected OSRExits=1, got %d", m.OSRExits)
	}
}

func TestExitDriverOSRWithoutBytecodeMapIsFatal(t *testing.T) {
	exit := NewExitSite(testRF)
	ir := &fakeIR{exits: []ExitRecord{{ID: 1, Site: exit}}, entries: map[LogicalID]EntrySite{}}

	e := newFakeEmitter(testRF)
	d := NewExitDriver(testRF, e, nil, nil)
	err := d.Run(ir)
	if err == nil {
		t.Fatal("expected an error for an OSR-path exit with no bytecode map configured")
	}
	re, ok := err.(*ReconcileError)
	if !ok || re.Kind != ErrUnresolvedOSRTarget {
		t.Fatalf("expected ErrUnresolvedOSRTarget, got %v", err)
	}
}

func TestExitDriverAppliesRecoveryOnBridgePath(t *testing.T) {
	exit := NewExitSite(testRF)
	exit.Set(testRF, 0, 1, TagInt32, false)
	entry := NewEntrySite(testRF)
	entry.Set(testRF, 0, 1, TagInt32)

	ir := &fakeIR{
		exits:   []ExitRecord{{ID: 1, Site: exit, Recovery: []RecoveryAction{{Kind: RecoveryUndoBooleanGuard, Dest: 0}}}},
		entries: map[LogicalID]EntrySite{1: entry},
	}

	e := newFakeEmitter(testRF)
	d := NewExitDriver(testRF, e, nil, nil)
	if err := d.Run(ir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Ops) == 0 || e.Ops[0].Op != "Xor" {
		t.Fatalf("expected the boolean-guard recovery Xor before anything else, got %v", e.Ops)
	}
}

func TestExitDriverStopsAtFirstError(t *testing.T) {
	badExit := ExitSite{} // zero-value: both GPR/FPR slices nil, Validate is fine (no Used slots)
	goodExit := NewExitSite(testRF)

	ir := &fakeIR{
		exits: []ExitRecord{
			{ID: 1, Site: goodExit}, // no bridge entry -> OSR path, no bytecode map -> error
			{ID: 2, Site: badExit},
		},
		entries: map[LogicalID]EntrySite{},
	}
	e := newFakeEmitter(testRF)
	d := NewExitDriver(testRF, e, nil, nil)
	if err := d.Run(ir); err == nil {
		t.Fatal("expected the first exit's error to stop the run")
	}
}
