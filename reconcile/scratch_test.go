package reconcile

import "testing"

func TestNewScratchFinderPoolExcludesClaimedRegisters(t *testing.T) {
	exit := NewExitSite(testRF)
	entry := NewEntrySite(testRF)
	exit.Set(testRF, 0, 1, TagInt32, false)
	entry.Set(testRF, 1, 1, TagInt32)
	entry.Set(testRF, FPRBase, 2, TagDouble)

	f := NewScratchFinder(testRF, exit, entry)

	taken := map[Reg]bool{}
	for {
		r, ok := f.TakeGPR()
		if !ok {
			break
		}
		if taken[r] {
			t.Fatalf("register %d handed out twice", r)
		}
		taken[r] = true
	}
	if taken[0] || taken[1] {
		t.Fatalf("registers claimed by exit/entry must not be in the scratch pool, got %v", taken)
	}
	// r0 and r1 are claimed; the tag-mask register is held back for the
	// GuaranteedGPR fallback.
	if len(taken) != testRF.NumGPR-3 {
		t.Fatalf("expected %d free GPRs, got %d (%v)", testRF.NumGPR-3, len(taken), taken)
	}

	if r, ok := f.TakeFPR(); !ok || r == FPRBase {
		t.Fatalf("expected a free FPR other than f0, got r=%d ok=%v", r, ok)
	}
}

func TestScratchFinderTakeNeverDoubleLends(t *testing.T) {
	f := NewScratchFinder(testRF, NewExitSite(testRF), NewEntrySite(testRF))
	r1, ok1 := f.TakeGPR()
	r2, ok2 := f.TakeGPR()
	if !ok1 || !ok2 {
		t.Fatal("expected two distinct free GPRs")
	}
	if r1 == r2 {
		t.Fatalf("TakeGPR returned the same register twice: %d", r1)
	}
}

func TestScratchFinderReleaseReturnsRegisterToPool(t *testing.T) {
	f := NewScratchFinder(testRF, NewExitSite(testRF), NewEntrySite(testRF))
	r, _ := f.TakeGPR()
	f.Release(r)
	seen := false
	for i := 0; i < testRF.NumGPR; i++ {
		rr, ok := f.TakeGPR()
		if !ok {
			break
		}
		if rr == r {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("released register %d never reappeared in the pool", r)
	}
}

func TestGuaranteedGPRFallsBackToTagMaskRegisterWhenPoolEmpty(t *testing.T) {
	exit := NewExitSite(testRF)
	entry := NewEntrySite(testRF)
	// Claim every GPR except the tag-mask register itself at entry.
	for i := 0; i < testRF.NumGPR; i++ {
		r := Reg(i)
		if r == testRF.TagMaskRegister {
			continue
		}
		entry.Set(testRF, r, LogicalID(i+1), TagInt32)
	}
	f := NewScratchFinder(testRF, exit, entry)
	if _, ok := f.TakeGPR(); ok {
		t.Fatal("expected the pool to be empty")
	}
	if got := f.GuaranteedGPR(); got != testRF.TagMaskRegister {
		t.Fatalf("expected fallback to the tag-mask register %d, got %d", testRF.TagMaskRegister, got)
	}
}

func TestGuaranteedGPRPrefersPoolOverFallback(t *testing.T) {
	f := NewScratchFinder(testRF, NewExitSite(testRF), NewEntrySite(testRF))
	got := f.GuaranteedGPR()
	if got == testRF.TagMaskRegister {
		t.Fatalf("expected a pool register to be preferred over the fallback while the pool is non-empty")
	}
}
