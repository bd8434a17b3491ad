package reconcile

// fakeEmitter is a recording Emitter used across this package's tests —
// it never produces real machine code, only a log of which primitive was
// called with which operands, so tests can assert on the sequence of
// moves/conversions a component emits without needing a real macro
// assembler or CPU to execute anything.
type fakeEmitter struct {
	rf  RegisterFile
	Ops []recordedOp

	nextLabel Label
	labelPos  map[Label]int
	nextJump  Jump
	jumpLinks map[Jump]Label
}

type recordedOp struct {
	Op  string
	A   Reg
	B   Reg
	C   Reg
	Imm uint64
}

func newFakeEmitter(rf RegisterFile) *fakeEmitter {
	return &fakeEmitter{rf: rf, labelPos: map[Label]int{}, jumpLinks: map[Jump]Label{}}
}

func (f *fakeEmitter) record(op string, a, b, c Reg, imm uint64) {
	f.Ops = append(f.Ops, recordedOp{Op: op, A: a, B: b, C: c, Imm: imm})
}

func (f *fakeEmitter) MoveRegReg(dst, src Reg)       { f.record("MoveRegReg", dst, src, 0, 0) }
func (f *fakeEmitter) MoveImmToReg(dst Reg, imm uint64) {
	f.record("MoveImmToReg", dst, 0, 0, imm)
}
func (f *fakeEmitter) MoveDoubleRegReg(dst, src Reg) { f.record("MoveDoubleRegReg", dst, src, 0, 0) }
func (f *fakeEmitter) Swap(a, b Reg)                 { f.record("Swap", a, b, 0, 0) }
func (f *fakeEmitter) LoadStack(dst Reg, slot int32) {
	f.record("LoadStack", dst, 0, 0, uint64(uint32(slot)))
}
func (f *fakeEmitter) StoreStack(slot int32, src Reg) {
	f.record("StoreStack", src, 0, 0, uint64(uint32(slot)))
}
func (f *fakeEmitter) Or(dst Reg, imm uint64)  { f.record("Or", dst, 0, 0, imm) }
func (f *fakeEmitter) Sub(dst, src Reg)        { f.record("Sub", dst, src, 0, 0) }
func (f *fakeEmitter) Xor(dst Reg, imm uint64) { f.record("Xor", dst, 0, 0, imm) }
func (f *fakeEmitter) ZeroExtend32(dst Reg)    { f.record("ZeroExtend32", dst, 0, 0, 0) }
func (f *fakeEmitter) IntToDouble(dst, src Reg) { f.record("IntToDouble", dst, src, 0, 0) }
func (f *fakeEmitter) BoxDouble(dst, src Reg)   { f.record("BoxDouble", dst, src, 0, 0) }
func (f *fakeEmitter) UnboxDouble(dst, src Reg) { f.record("UnboxDouble", dst, src, 0, 0) }

func (f *fakeEmitter) TestIntegrality(intOut, src, scratchFPR Reg) Jump {
	f.record("TestIntegrality", intOut, src, scratchFPR, 0)
	j := f.nextJump
	f.nextJump++
	return j
}

func (f *fakeEmitter) BranchIfTag(reg Reg) Jump {
	f.record("BranchIfTag", reg, 0, 0, 0)
	j := f.nextJump
	f.nextJump++
	return j
}

func (f *fakeEmitter) Jump(label Label) { f.record("Jump", 0, 0, 0, uint64(label)) }

func (f *fakeEmitter) JumpRegister(reg Reg) { f.record("JumpRegister", reg, 0, 0, 0) }

func (f *fakeEmitter) NewLabel() Label {
	l := f.nextLabel
	f.nextLabel++
	return l
}

func (f *fakeEmitter) MarkLabel(label Label) { f.labelPos[label] = len(f.Ops) }

func (f *fakeEmitter) Link(j Jump, label Label) { f.jumpLinks[j] = label }

func (f *fakeEmitter) TagMaskRegister() Reg       { return f.rf.TagMaskRegister }
func (f *fakeEmitter) TagTypeNumberRegister() Reg { return f.rf.TagTypeNumberRegister }
func (f *fakeEmitter) CallFrameRegister() Reg     { return f.rf.CallFrameRegister }

// testRF is the register-file shape most of this package's tests are
// written against: a handful of GPRs/FPRs, enough to need real scratch
// accounting without the test data dwarfing the assertions.
var testRF = RegisterFile{
	NumGPR:                8,
	NumFPR:                4,
	TagMaskRegister:       7,
	TagTypeNumberRegister: 6,
	CallFrameRegister:     5,
}

func countOps(ops []recordedOp, name string) int {
	n := 0
	for _, o := range ops {
		if o.Op == name {
			n++
		}
	}
	return n
}
