package engine

import "sync/atomic"

// Frame is one entry of a captured stack.
type Frame struct {
	FunctionName string
	ScriptName   string
	ScriptID     int
	// Line and Column locate the instruction being executed.
	Line   int
	Column int
	// StartLine is the line the function is defined on.
	StartLine int
}

// Stack is a captured stack, outermost frame first. An empty stack is
// attributed to (idle) when Idle is set and to (program) otherwise.
type Stack struct {
	Frames []Frame
	Idle   bool
}

// StackFunc captures the stack of the interrupted unit. It runs on the
// interrupt path and must not block.
type StackFunc func() Stack

// ShadowStack is a stack of frames maintained by the code it describes.
// One goroutine pushes and pops; any goroutine may capture it.
type ShadowStack struct {
	frames atomic.Pointer[[]Frame]
	idle   atomic.Bool
}

// Push enters f.
func (s *ShadowStack) Push(f Frame) {
	cur := s.load()
	next := make([]Frame, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = f
	s.frames.Store(&next)
}

// Pop leaves the innermost frame.
func (s *ShadowStack) Pop() {
	cur := s.load()
	if len(cur) == 0 {
		return
	}
	next := cur[:len(cur)-1 : len(cur)-1]
	s.frames.Store(&next)
}

// Enter pushes f and returns the matching Pop, for use with defer.
func (s *ShadowStack) Enter(f Frame) func() {
	s.Push(f)
	return s.Pop
}

// SetLine moves the innermost frame to line.
func (s *ShadowStack) SetLine(line int) {
	cur := s.load()
	if len(cur) == 0 {
		return
	}
	next := make([]Frame, len(cur))
	copy(next, cur)
	next[len(next)-1].Line = line
	s.frames.Store(&next)
}

// SetIdle marks whether the unit is waiting for work.
func (s *ShadowStack) SetIdle(idle bool) { s.idle.Store(idle) }

// Depth returns the number of frames.
func (s *ShadowStack) Depth() int { return len(s.load()) }

// Capture implements StackFunc. The returned frames must not be modified.
func (s *ShadowStack) Capture() Stack {
	return Stack{Frames: s.load(), Idle: s.idle.Load()}
}

func (s *ShadowStack) load() []Frame {
	if p := s.frames.Load(); p != nil {
		return *p
	}
	return nil
}
