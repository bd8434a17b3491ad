package reconcile

import "testing"

func TestOSRExitEmitterDirectStoreSameTagSkipsConversion(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	em := NewOSRExitEmitter(testRF, e, conv, nil)

	bcMap := NewBytecodeMap()
	bcMap.Register(42, 9000)

	lives := []Live{
		{ID: 1, Desc: ValueDescriptor{Kind: DescInGpr, Reg: 0, Tag: TagInt32}, HomeSlot: 1, HomeTag: TagInt32},
	}
	if err := em.Run(1, 42, nil, lives, bcMap, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if countOps(e.Ops, "StoreStack") < 2 { // the live value + the reoptimization counter reset
		t.Fatalf("expected at least two StoreStack ops, got %v", e.Ops)
	}
	if countOps(e.Ops, "JumpRegister") != 1 {
		t.Fatalf("expected exactly one final indirect jump, got %v", e.Ops)
	}
}

func TestOSRExitEmitterDirectStoreConvertsOnTagMismatch(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	em := NewOSRExitEmitter(testRF, e, conv, nil)
	bcMap := NewBytecodeMap()
	bcMap.Register(0, 0)

	lives := []Live{
		{ID: 1, Desc: ValueDescriptor{Kind: DescInGpr, Reg: 0, Tag: TagBoxedInt32}, HomeSlot: 1, HomeTag: TagInt32},
	}
	if err := em.Run(1, 0, nil, lives, bcMap, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if countOps(e.Ops, "ZeroExtend32") != 1 {
		t.Fatalf("expected the BoxedInt32->Int32 conversion before the store, got %v", e.Ops)
	}
}

// TestOSRExitEmitterBoxesFPRDoubleIntoBoxedHomeSlot covers OSR §4.4 step 5:
// an FPR-resident Double whose baseline home slot is boxed must be boxed
// via ConvertDoubleToBoxed, not the generic Convert (which panics for this
// pair — see convert.go). With a free scratch FPR available, the narrowing
// test path runs.
func TestOSRExitEmitterBoxesFPRDoubleIntoBoxedHomeSlot(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	em := NewOSRExitEmitter(testRF, e, conv, nil)
	bcMap := NewBytecodeMap()
	bcMap.Register(0, 0)

	lives := []Live{
		{ID: 1, Desc: ValueDescriptor{Kind: DescInFpr, Reg: FPRBase + 0, Tag: TagDouble}, HomeSlot: 1, HomeTag: TagBoxed},
	}
	if err := em.Run(1, 0, nil, lives, bcMap, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if countOps(e.Ops, "TestIntegrality") != 1 {
		t.Fatalf("expected the narrowing test to run with a free scratch FPR available, got %v", e.Ops)
	}
	if countOps(e.Ops, "StoreStack") < 2 { // the boxed double + the reoptimization counter reset
		t.Fatalf("expected the boxed value to be stored to its home slot, got %v", e.Ops)
	}
}

// TestOSRExitEmitterBoxesFPRDoubleWithNoScratchFallsBackToBoxDouble covers
// the same step 5 path when every other FPR in this exit's direct batch is
// already spoken for: ConvertDoubleToBoxed must fall back to the plain
// bias-into-GPR BoxDouble form rather than panicking or guessing FPRBase
// is free.
func TestOSRExitEmitterBoxesFPRDoubleWithNoScratchFallsBackToBoxDouble(t *testing.T) {
	rf := RegisterFile{NumGPR: 8, NumFPR: 1, TagMaskRegister: 7, TagTypeNumberRegister: 6, CallFrameRegister: 5}
	e := newFakeEmitter(rf)
	conv := NewConverter(e, rf)
	em := NewOSRExitEmitter(rf, e, conv, nil)
	bcMap := NewBytecodeMap()
	bcMap.Register(0, 0)

	lives := []Live{
		{ID: 1, Desc: ValueDescriptor{Kind: DescInFpr, Reg: FPRBase + 0, Tag: TagDouble}, HomeSlot: 1, HomeTag: TagBoxed},
	}
	if err := em.Run(1, 0, nil, lives, bcMap, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if countOps(e.Ops, "BoxDouble") != 1 {
		t.Fatalf("expected the no-scratch BoxDouble fallback, got %v", e.Ops)
	}
	if countOps(e.Ops, "TestIntegrality") != 0 {
		t.Fatalf("did not expect the narrowing test to run with no scratch FPR, got %v", e.Ops)
	}
}

func TestOSRExitEmitterResolvesDisplacementCycleViaScratchBuffer(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	em := NewOSRExitEmitter(testRF, e, conv, nil)
	bcMap := NewBytecodeMap()
	bcMap.Register(0, 0)

	// v1 is borrowing v2's home slot and vice versa.
	lives := []Live{
		{ID: 1, Desc: ValueDescriptor{Kind: DescDisplaced, StackSlot: 2, Tag: TagInt32}, HomeSlot: 1, HomeTag: TagInt32},
		{ID: 2, Desc: ValueDescriptor{Kind: DescDisplaced, StackSlot: 1, Tag: TagInt32}, HomeSlot: 2, HomeTag: TagInt32},
	}
	if err := em.Run(1, 0, nil, lives, bcMap, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2 staging loads+stores, 2 final loads+stores, plus the counter reset
	if countOps(e.Ops, "LoadStack") < 4 {
		t.Fatalf("expected at least 4 LoadStack ops for a 2-cycle displacement resolve, got %v", e.Ops)
	}
}

func TestOSRExitEmitterMaterializesConstants(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	em := NewOSRExitEmitter(testRF, e, conv, nil)
	bcMap := NewBytecodeMap()
	bcMap.Register(0, 0)

	lives := []Live{
		{ID: 1, Desc: ValueDescriptor{Kind: DescConstant, Value: Undefined()}, HomeSlot: 1, HomeTag: TagBoxed},
		{ID: 2, Desc: ValueDescriptor{Kind: DescConstant, Value: Undefined()}, HomeSlot: 2, HomeTag: TagBoxed},
	}
	if err := em.Run(1, 0, nil, lives, bcMap, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// One MoveImmToReg for Undefined (the second store reuses it), plus the
	// reoptimization-counter reset and the jump-target load.
	if countOps(e.Ops, "MoveImmToReg") != 3 {
		t.Fatalf("expected the Undefined constant to be materialized once and reused, got %v", e.Ops)
	}
}

func TestOSRExitEmitterMissingBytecodeOffsetIsFatal(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	em := NewOSRExitEmitter(testRF, e, conv, nil)
	bcMap := NewBytecodeMap() // empty

	err := em.Run(1, 123, nil, nil, bcMap, 0)
	if err == nil {
		t.Fatal("expected an error when the bytecode map has no entry for the target offset")
	}
	re, ok := err.(*ReconcileError)
	if !ok || re.Kind != ErrUnresolvedOSRTarget {
		t.Fatalf("expected ErrUnresolvedOSRTarget, got %v", err)
	}
}

func TestOSRExitEmitterAppliesRecoveryBeforeStores(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	em := NewOSRExitEmitter(testRF, e, conv, nil)
	bcMap := NewBytecodeMap()
	bcMap.Register(0, 0)

	recovery := []RecoveryAction{{Kind: RecoveryUndoSpeculativeAdd, Dest: 0, Src: 1}}
	if err := em.Run(1, 0, recovery, nil, bcMap, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Ops) == 0 || e.Ops[0].Op != "Sub" {
		t.Fatalf("expected the recovery Sub to be the first emitted op, got %v", e.Ops)
	}
}

func TestOSRExitEmitterIncrementsMetrics(t *testing.T) {
	e := newFakeEmitter(testRF)
	conv := NewConverter(e, testRF)
	m := &Metrics{}
	em := NewOSRExitEmitter(testRF, e, conv, m)
	bcMap := NewBytecodeMap()
	bcMap.Register(7, 70)

	if err := em.Run(1, 7, nil, nil, bcMap, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.OSRExits != 1 || m.ReoptimizationResets != 1 {
		t.Fatalf("expected OSRExits=1 and ReoptimizationResets=1, got %+v", m)
	}
}
