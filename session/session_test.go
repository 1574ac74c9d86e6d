package session

import (
	"testing"

	"github.com/novatrace/evmdbg/trace"
)

// buildTrace constructs a small trace by hand: a root frame with three
// steps, the middle one (a CALL) spawning a one-step child frame.
func buildTrace() *trace.Trace {
	root := &trace.Frame{
		Index: 0, ParentIndex: -1, Kind: "ROOT",
		Steps: []*trace.Step{
			{GlobalIndex: 0, FrameIndex: 0, IndexInFrame: 0, PC: 0, Op: "PUSH1"},
			{GlobalIndex: 1, FrameIndex: 0, IndexInFrame: 1, PC: 2, Op: "CALL", OpCode: 0xf1},
			{GlobalIndex: 3, FrameIndex: 0, IndexInFrame: 2, PC: 3, Op: "STOP"},
		},
		Children: []trace.ChildFrame{{FrameIndex: 1, Kind: "CALL", AtStep: 1}},
		Result:   &trace.FrameResult{ExitReason: trace.ExitSuccess},
	}
	child := &trace.Frame{
		Index: 1, ParentIndex: 0, Kind: "CALL",
		Steps: []*trace.Step{
			{GlobalIndex: 2, FrameIndex: 1, IndexInFrame: 0, PC: 0, Op: "STOP"},
		},
		Result: &trace.FrameResult{ExitReason: trace.ExitSuccess},
	}
	return &trace.Trace{Frames: []*trace.Frame{root, child}, TotalSteps: 4}
}

func TestFlattenLength(t *testing.T) {
	s := NewDebugSession(buildTrace())
	// root: 3 steps + 1 end marker; child: 1 step + 1 end marker.
	if got, want := len(s.FlatSteps()), 6; got != want {
		t.Fatalf("got %d flat steps, want %d", got, want)
	}
}

func TestFlattenOrder(t *testing.T) {
	s := NewDebugSession(buildTrace())
	flat := s.FlatSteps()
	wantFrames := []int{0, 0, 1, 1, 0, 0}
	wantEnds := []bool{false, false, false, true, false, true}
	for i, fs := range flat {
		if fs.FrameIndex != wantFrames[i] {
			t.Errorf("flat[%d].FrameIndex = %d, want %d", i, fs.FrameIndex, wantFrames[i])
		}
		if fs.IsFrameEnd != wantEnds[i] {
			t.Errorf("flat[%d].IsFrameEnd = %v, want %v", i, fs.IsFrameEnd, wantEnds[i])
		}
	}
}

func TestStepForwardBackwardSaturate(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.StepBackward()
	if s.GlobalStepIndex() != 0 {
		t.Errorf("StepBackward at 0 moved cursor to %d", s.GlobalStepIndex())
	}
	s.JumpToEnd()
	last := s.GlobalStepIndex()
	s.StepForward()
	if s.GlobalStepIndex() != last {
		t.Errorf("StepForward at last index moved cursor to %d", s.GlobalStepIndex())
	}
}

func TestJumpToClamps(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.JumpTo(999)
	if s.GlobalStepIndex() != len(s.FlatSteps())-1 {
		t.Errorf("JumpTo(999) = %d, want last index", s.GlobalStepIndex())
	}
	s.JumpTo(-5)
	if s.GlobalStepIndex() != 0 {
		t.Errorf("JumpTo(-5) = %d, want 0", s.GlobalStepIndex())
	}
}

func TestCanStepOverOnCall(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.JumpTo(1) // the CALL step
	if !s.CanStepOver() {
		t.Error("expected CanStepOver at CALL step")
	}
}

func TestStepOverSkipsChildFrame(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.JumpTo(1) // the CALL step, frame 0
	s.StepOver()
	if s.CurrentFrame().Index != 0 {
		t.Fatalf("after StepOver, frame = %d, want 0 (back in caller)", s.CurrentFrame().Index)
	}
	if s.CurrentStepIndex() != 2 {
		t.Errorf("after StepOver, step index = %d, want 2", s.CurrentStepIndex())
	}
}

func TestStepOverOnNonCallEqualsStepForward(t *testing.T) {
	s1 := NewDebugSession(buildTrace())
	s2 := NewDebugSession(buildTrace())
	s1.StepOver()
	s2.StepForward()
	if s1.GlobalStepIndex() != s2.GlobalStepIndex() {
		t.Errorf("StepOver on non-call = %d, StepForward = %d", s1.GlobalStepIndex(), s2.GlobalStepIndex())
	}
}

func TestCanStepOutInsideChild(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.JumpTo(2) // first step inside child frame
	if !s.CanStepOut() {
		t.Error("expected CanStepOut inside child frame")
	}
}

func TestStepOutReturnsToParent(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.JumpTo(2)
	s.StepOut()
	if s.CurrentFrame().Index != 0 {
		t.Errorf("after StepOut, frame = %d, want 0", s.CurrentFrame().Index)
	}
}

func TestCurrentStepNilAtFrameEnd(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.JumpToEnd()
	if !s.IsAtFrameEnd() {
		t.Fatal("expected JumpToEnd to land on a frame-end marker")
	}
	if s.CurrentStep() != nil {
		t.Error("expected nil CurrentStep at frame-end marker")
	}
}

func TestJumpToIdempotent(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.JumpTo(2)
	s.JumpTo(s.GlobalStepIndex())
	if s.GlobalStepIndex() != 2 {
		t.Errorf("JumpTo(JumpTo(2)) moved cursor to %d", s.GlobalStepIndex())
	}
}

func TestBreakpointOnPC(t *testing.T) {
	s := NewDebugSession(buildTrace())
	pc := uint64(3)
	s.AddBreakpoint(BreakpointCondition{PC: &pc})
	hit := s.ContinueForward()
	if !hit {
		t.Fatal("expected breakpoint hit")
	}
	if s.CurrentStep() == nil || s.CurrentStep().PC != 3 {
		t.Errorf("expected cursor on PC 3, got %+v", s.CurrentStep())
	}
}

func TestBreakpointNoMatchGoesToEnd(t *testing.T) {
	s := NewDebugSession(buildTrace())
	pc := uint64(999)
	s.AddBreakpoint(BreakpointCondition{PC: &pc})
	hit := s.ContinueForward()
	if hit {
		t.Fatal("expected no breakpoint hit")
	}
	if s.GlobalStepIndex() != len(s.FlatSteps())-1 {
		t.Error("expected cursor at last index when no breakpoint matches")
	}
}

func TestRemoveBreakpoint(t *testing.T) {
	s := NewDebugSession(buildTrace())
	pc := uint64(3)
	bp := s.AddBreakpoint(BreakpointCondition{PC: &pc})
	s.RemoveBreakpoint(bp.ID)
	if len(s.GetBreakpoints()) != 0 {
		t.Error("expected no breakpoints after removal")
	}
}

func TestBreakpointConjunction(t *testing.T) {
	s := NewDebugSession(buildTrace())
	pc := uint64(2)
	var op byte = 0xf1
	s.AddBreakpoint(BreakpointCondition{PC: &pc, OpCode: &op})
	hit := s.ContinueForward()
	if !hit {
		t.Fatal("expected conjunction breakpoint to hit on matching PC and opcode")
	}

	s2 := NewDebugSession(buildTrace())
	wrongOp := byte(0x00)
	s2.AddBreakpoint(BreakpointCondition{PC: &pc, OpCode: &wrongOp})
	if s2.ContinueForward() {
		t.Error("expected conjunction breakpoint to miss when opcode disagrees")
	}
}

// TestEmptyBreakpointConditionNeverMatches guards against an all-nil
// condition falling through every guard and matching every step.
func TestEmptyBreakpointConditionNeverMatches(t *testing.T) {
	s := NewDebugSession(buildTrace())
	s.AddBreakpoint(BreakpointCondition{})
	if s.ContinueForward() {
		t.Error("expected an empty condition to never match")
	}
	if s.GlobalStepIndex() != len(s.FlatSteps())-1 {
		t.Error("expected cursor at last index when the only breakpoint is empty")
	}
}
