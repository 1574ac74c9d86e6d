// Package session wraps an immutable trace.Trace with a navigable cursor:
// step forward/backward, step over/out across call frames, and
// breakpoints. It performs no I/O; besides the flattened steps, its only
// state is the cursor and the list of breakpoints.
package session

import (
	"strings"

	"github.com/novatrace/evmdbg/core/evm"
	"github.com/novatrace/evmdbg/trace"
)

// FlatStep is one position in the session's depth-first flattening of the
// frame tree: either a real step within a frame, or that frame's trailing
// end marker.
type FlatStep struct {
	FrameIndex int
	StepIndex  int // -1 when IsFrameEnd
	CallStack  []int
	IsFrameEnd bool
}

// frameCreatingOps is the set of opcodes step-over treats as spawning a
// child frame worth skipping over rather than stepping into.
var frameCreatingOps = map[evm.OpCode]struct{}{
	evm.CREATE:       {},
	evm.CALL:         {},
	evm.CALLCODE:     {},
	evm.DELEGATECALL: {},
	evm.CREATE2:      {},
	evm.STATICCALL:   {},
}

// BreakpointCondition names the fields a breakpoint may match on. When
// more than one field is set, a step must satisfy all of them (AND, not
// OR) to count as a hit.
type BreakpointCondition struct {
	PC              *uint64
	OpCode          *byte
	StorageSlot     *string
	GlobalStepIndex *int
}

// Breakpoint is a registered condition with the opaque ID addBreakpoint
// returned for it.
type Breakpoint struct {
	ID        int
	Condition BreakpointCondition
}

// DebugSession owns one integer cursor into a trace's flattened step
// sequence plus a set of breakpoints. Everything it exposes is either a
// direct read of the immutable Trace or a pure function of (trace, cursor).
type DebugSession struct {
	trace       *trace.Trace
	flatSteps   []FlatStep
	cursor      int
	breakpoints []*Breakpoint
	nextBPID    int
}

// NewDebugSession flattens t's frame tree and returns a session positioned
// at the first flat step.
func NewDebugSession(t *trace.Trace) *DebugSession {
	s := &DebugSession{trace: t}
	if len(t.Frames) > 0 {
		s.flatten(0, nil)
	}
	return s
}

func (s *DebugSession) flatten(frameIndex int, parentStack []int) {
	frame := s.trace.Frames[frameIndex]
	callStack := make([]int, len(parentStack), len(parentStack)+1)
	copy(callStack, parentStack)
	callStack = append(callStack, frameIndex)

	childIdx := 0
	for i := range frame.Steps {
		s.flatSteps = append(s.flatSteps, FlatStep{FrameIndex: frameIndex, StepIndex: i, CallStack: callStack})
		for childIdx < len(frame.Children) && frame.Children[childIdx].AtStep == i {
			s.flatten(frame.Children[childIdx].FrameIndex, callStack)
			childIdx++
		}
	}
	// A frame that produced zero steps (e.g. it reverted before its first
	// opcode) still owns whatever children the interpreter reported for it.
	for childIdx < len(frame.Children) {
		s.flatten(frame.Children[childIdx].FrameIndex, callStack)
		childIdx++
	}
	s.flatSteps = append(s.flatSteps, FlatStep{FrameIndex: frameIndex, StepIndex: -1, CallStack: callStack, IsFrameEnd: true})
}

// FlatSteps returns the full flattened sequence the session navigates.
func (s *DebugSession) FlatSteps() []FlatStep {
	return s.flatSteps
}

// GlobalStepIndex is the current cursor position.
func (s *DebugSession) GlobalStepIndex() int {
	return s.cursor
}

func (s *DebugSession) current() FlatStep {
	return s.flatSteps[s.cursor]
}

// CurrentFrame returns the frame the cursor is positioned in.
func (s *DebugSession) CurrentFrame() *trace.Frame {
	return s.trace.Frames[s.current().FrameIndex]
}

// CurrentStepIndex is the cursor's index within CurrentFrame's Steps, or
// -1 at a frame-end marker.
func (s *DebugSession) CurrentStepIndex() int {
	return s.current().StepIndex
}

// CallStack returns the frames from the root down to the cursor's frame.
func (s *DebugSession) CallStack() []*trace.Frame {
	cs := s.current().CallStack
	frames := make([]*trace.Frame, len(cs))
	for i, idx := range cs {
		frames[i] = s.trace.Frames[idx]
	}
	return frames
}

// CurrentStep returns the step at the cursor, or nil at a frame-end marker.
func (s *DebugSession) CurrentStep() *trace.Step {
	fs := s.current()
	if fs.IsFrameEnd {
		return nil
	}
	return s.CurrentFrame().Steps[fs.StepIndex]
}

// IsAtFrameEnd reports whether the cursor sits on a frame's virtual end
// marker rather than a real step.
func (s *DebugSession) IsAtFrameEnd() bool {
	return s.current().IsFrameEnd
}

// === Navigation ===

// StepForward advances the cursor by one, saturating at the last index.
func (s *DebugSession) StepForward() {
	if s.cursor < len(s.flatSteps)-1 {
		s.cursor++
	}
}

// StepBackward retreats the cursor by one, saturating at zero.
func (s *DebugSession) StepBackward() {
	if s.cursor > 0 {
		s.cursor--
	}
}

// JumpTo moves the cursor to i, clamped to the valid range.
func (s *DebugSession) JumpTo(i int) {
	if i < 0 {
		i = 0
	}
	if i > len(s.flatSteps)-1 {
		i = len(s.flatSteps) - 1
	}
	s.cursor = i
}

// JumpToStart moves the cursor to the first flat step.
func (s *DebugSession) JumpToStart() {
	s.cursor = 0
}

// JumpToEnd moves the cursor to the last flat step.
func (s *DebugSession) JumpToEnd() {
	s.cursor = len(s.flatSteps) - 1
}

// CanStepOver reports whether the cursor is on a CALL/CREATE-family opcode
// whose nested execution StepOver would skip.
func (s *DebugSession) CanStepOver() bool {
	step := s.CurrentStep()
	if step == nil {
		return false
	}
	_, ok := frameCreatingOps[evm.OpCode(step.OpCode)]
	return ok
}

// StepOver behaves like StepForward unless the cursor sits on a
// frame-creating opcode, in which case it advances past the entire nested
// sub-trace that call spawned.
func (s *DebugSession) StepOver() {
	if !s.CanStepOver() {
		s.StepForward()
		return
	}
	frame := s.current().FrameIndex
	stepIdx := s.current().StepIndex
	for s.cursor < len(s.flatSteps)-1 {
		s.cursor++
		fs := s.flatSteps[s.cursor]
		if fs.FrameIndex == frame && (fs.IsFrameEnd || fs.StepIndex != stepIdx) {
			return
		}
	}
}

// CanStepOut reports whether the cursor is nested inside at least one call.
func (s *DebugSession) CanStepOut() bool {
	return len(s.current().CallStack) > 1
}

// StepOut advances until the call stack is shallower than it is now, i.e.
// until control returns to the caller of the cursor's current frame. If
// the cursor is already at the top level, it jumps to the end instead.
func (s *DebugSession) StepOut() {
	if !s.CanStepOut() {
		s.JumpToEnd()
		return
	}
	depth := len(s.current().CallStack)
	for s.cursor < len(s.flatSteps)-1 {
		s.cursor++
		if len(s.flatSteps[s.cursor].CallStack) < depth {
			return
		}
	}
}

// === Breakpoints ===

// AddBreakpoint registers cond and returns the Breakpoint handle; fields
// left nil in cond are not checked. When several fields are set, a step
// must match all of them to count as a hit.
func (s *DebugSession) AddBreakpoint(cond BreakpointCondition) *Breakpoint {
	bp := &Breakpoint{ID: s.nextBPID, Condition: cond}
	s.nextBPID++
	s.breakpoints = append(s.breakpoints, bp)
	return bp
}

// RemoveBreakpoint deletes the breakpoint with the given ID, if any.
func (s *DebugSession) RemoveBreakpoint(id int) {
	for i, bp := range s.breakpoints {
		if bp.ID == id {
			s.breakpoints = append(s.breakpoints[:i], s.breakpoints[i+1:]...)
			return
		}
	}
}

// GetBreakpoints returns every currently registered breakpoint.
func (s *DebugSession) GetBreakpoints() []*Breakpoint {
	return s.breakpoints
}

// matches reports whether the flat step at index i satisfies every set
// field of cond. A frame-end marker never matches: it has no step to test.
func (s *DebugSession) matches(i int, cond BreakpointCondition) bool {
	fs := s.flatSteps[i]
	if fs.IsFrameEnd {
		return false
	}
	if cond.PC == nil && cond.OpCode == nil && cond.StorageSlot == nil && cond.GlobalStepIndex == nil {
		return false
	}
	step := s.trace.Frames[fs.FrameIndex].Steps[fs.StepIndex]

	if cond.PC != nil && step.PC != *cond.PC {
		return false
	}
	if cond.OpCode != nil && step.OpCode != *cond.OpCode {
		return false
	}
	if cond.GlobalStepIndex != nil && step.GlobalIndex != *cond.GlobalStepIndex {
		return false
	}
	if cond.StorageSlot != nil {
		slot := strings.ToLower(*cond.StorageSlot)
		if !writesSlot(step.StorageChanges, slot) && !writesSlot(step.TransientStorageChanges, slot) {
			return false
		}
	}
	return true
}

// writesSlot reports whether any change in changes targets slot, compared
// case-insensitively since callers may pass either case of hex digit.
func writesSlot(changes []trace.StorageChange, slot string) bool {
	for _, c := range changes {
		if strings.ToLower(c.Slot) == slot {
			return true
		}
	}
	return false
}

func (s *DebugSession) anyMatch(i int) bool {
	for _, bp := range s.breakpoints {
		if s.matches(i, bp.Condition) {
			return true
		}
	}
	return false
}

// ContinueForward scans forward from the cursor for the first step
// matching any active breakpoint, stopping there. If none matches, the
// cursor lands on the last flat step. Reports whether a breakpoint hit.
func (s *DebugSession) ContinueForward() bool {
	for i := s.cursor + 1; i < len(s.flatSteps); i++ {
		if s.anyMatch(i) {
			s.cursor = i
			return true
		}
	}
	s.cursor = len(s.flatSteps) - 1
	return false
}

// ContinueBackward scans backward from the cursor for the first step
// matching any active breakpoint. If none matches, the cursor lands on
// the first flat step. Reports whether a breakpoint hit.
func (s *DebugSession) ContinueBackward() bool {
	for i := s.cursor - 1; i >= 0; i-- {
		if s.anyMatch(i) {
			s.cursor = i
			return true
		}
	}
	s.cursor = 0
	return false
}
