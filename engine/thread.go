package engine

import (
	"slices"
	"sync/atomic"
	"time"
)

// ThreadStatus is the scheduling state of a thread
type ThreadStatus int

const (
	// StatusRunning threads are stepped by the sequencer.
	StatusRunning ThreadStatus = iota
	// StatusPromiseWait threads wait for a primitive's promise to settle.
	StatusPromiseWait
	// StatusYield threads resume on the sequencer's next pass.
	StatusYield
	// StatusYieldTick threads resume on the next tick, never sooner.
	StatusYieldTick
	// StatusDone threads have finished or were stopped.
	StatusDone
)

func (s ThreadStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPromiseWait:
		return "promise-wait"
	case StatusYield:
		return "yield"
	case StatusYieldTick:
		return "yield-tick"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Stack frames
// ---------------------------------------------------------------------------

// FrameKind tags the control construct that owns a frame's scratch state
type FrameKind int

const (
	FramePlain FrameKind = iota
	FrameLoop
	FrameTimer
	FrameWait
)

// FrameState is construct-specific scratch state kept on a stack frame
type FrameState interface {
	Kind() FrameKind
}

// LoopState counts iterations of a counted loop
type LoopState struct {
	Started bool
	Counter int
}

// Kind implements FrameState
func (*LoopState) Kind() FrameKind { return FrameLoop }

// TimerState tracks a timed wait
type TimerState struct {
	Start    time.Time
	Duration time.Duration
}

// Kind implements FrameState
func (*TimerState) Kind() FrameKind { return FrameTimer }

// WaitState remembers the threads a block started and is waiting on
type WaitState struct {
	Triggered bool
	Started   []*Thread
}

// Kind implements FrameState
func (*WaitState) Kind() FrameKind { return FrameWait }

// StackFrame is the scratch space for one level of a thread's stack
type StackFrame struct {
	IsLoop   bool
	WarpMode bool

	reported        map[string]Value
	waitingReporter string
	params          map[string]Value
	state           FrameState
}

func frameState[T FrameState](f *StackFrame, init func() T) T {
	if s, ok := f.state.(T); ok {
		return s
	}
	s := init()
	f.state = s
	return s
}

// Kind returns the tag of the frame's current state
func (f *StackFrame) Kind() FrameKind {
	if f.state == nil {
		return FramePlain
	}
	return f.state.Kind()
}

// Loop returns the frame's loop state, tagging the frame as a loop frame
func (f *StackFrame) Loop() *LoopState {
	return frameState(f, func() *LoopState { return &LoopState{} })
}

// Timer returns the frame's timer state
func (f *StackFrame) Timer() *TimerState {
	return frameState(f, func() *TimerState { return &TimerState{} })
}

// Wait returns the frame's wait state
func (f *StackFrame) Wait() *WaitState {
	return frameState(f, func() *WaitState { return &WaitState{} })
}

func (f *StackFrame) report(input string, v Value) {
	if f.reported == nil {
		f.reported = make(map[string]Value)
	}
	f.reported[input] = v
}

func (f *StackFrame) reset() {
	f.IsLoop = false
	f.reported = nil
	f.waitingReporter = ""
	f.params = nil
	f.state = nil
}

// ---------------------------------------------------------------------------
// Thread
// ---------------------------------------------------------------------------

var threadSerial atomic.Uint64

// Thread is one cooperative execution of a script. The scheduling state
// (status, stack, killed and stack-click flags) is owned by the runtime
// goroutine; its accessors hop onto that goroutine when called from a host
// goroutine. The stack, frame and param methods are for primitives only.
type Thread struct {
	w *worker

	serial     uint64
	topBlock   string
	target     *Target
	blocks     *Container
	status     ThreadStatus
	stack      []string
	frames     []*StackFrame
	stackClick bool
	isKilled   bool

	warpStart time.Time
	pending   *pendingPromise

	requestScriptGlowInFrame bool
	blockGlowInFrame         string
}

func newThread(topBlock string, target *Target) *Thread {
	return &Thread{
		serial:   threadSerial.Add(1),
		topBlock: topBlock,
		target:   target,
		blocks:   target.Blocks,
	}
}

// ID returns the id of the script's top block
func (t *Thread) ID() string { return t.topBlock }

// Serial returns a process-unique number for diagnostics
func (t *Thread) Serial() uint64 { return t.serial }

// TopBlock returns the id of the script's top block
func (t *Thread) TopBlock() string { return t.topBlock }

// Target returns the target the thread runs on
func (t *Thread) Target() *Target { return t.target }

// Status returns the scheduling state
func (t *Thread) Status() ThreadStatus {
	var s ThreadStatus
	t.w.run(func() { s = t.status })
	return s
}

// StackClick reports whether the thread was started by clicking the stack
func (t *Thread) StackClick() bool {
	var click bool
	t.w.run(func() { click = t.stackClick })
	return click
}

// IsKilled reports whether the thread was stopped
func (t *Thread) IsKilled() bool {
	var killed bool
	t.w.run(func() { killed = t.isKilled })
	return killed
}

// Stack returns a copy of the block ids on the stack, bottom first
func (t *Thread) Stack() []string {
	var out []string
	t.w.run(func() { out = slices.Clone(t.stack) })
	if out == nil {
		out = []string{}
	}
	return out
}

// PushStack pushes a block (possibly "" for an empty branch) with a fresh
// frame that inherits the warp mode of the frame below.
func (t *Thread) PushStack(blockID string) {
	t.stack = append(t.stack, blockID)
	if len(t.frames) < len(t.stack) {
		warp := false
		if n := len(t.frames); n > 0 {
			warp = t.frames[n-1].WarpMode
		}
		t.frames = append(t.frames, &StackFrame{WarpMode: warp})
	}
}

// reuseStackForNextBlock replaces the top block, keeping its frame's warp mode
func (t *Thread) reuseStackForNextBlock(blockID string) {
	if len(t.stack) == 0 {
		return
	}
	t.stack[len(t.stack)-1] = blockID
	t.frames[len(t.frames)-1].reset()
}

// PopStack removes the top block and its frame
func (t *Thread) PopStack() string {
	if len(t.stack) == 0 {
		return ""
	}
	id := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	if len(t.frames) > 0 {
		t.frames = t.frames[:len(t.frames)-1]
	}
	return id
}

// PeekStack returns the top block id, or "" when empty
func (t *Thread) PeekStack() string {
	if len(t.stack) == 0 {
		return ""
	}
	return t.stack[len(t.stack)-1]
}

// PeekStackFrame returns the top frame, or nil when empty
func (t *Thread) PeekStackFrame() *StackFrame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// PeekParentStackFrame returns the frame below the top, or nil
func (t *Thread) PeekParentStackFrame() *StackFrame {
	if len(t.frames) < 2 {
		return nil
	}
	return t.frames[len(t.frames)-2]
}

// pushReportedValue hands v to the parent frame if it is waiting on a reporter
func (t *Thread) pushReportedValue(v Value) {
	parent := t.PeekParentStackFrame()
	if parent == nil || parent.waitingReporter == "" {
		return
	}
	parent.report(parent.waitingReporter, v)
}

// InitParams prepares the top frame to hold procedure parameters
func (t *Thread) InitParams() {
	f := t.PeekStackFrame()
	if f != nil && f.params == nil {
		f.params = make(map[string]Value)
	}
}

// PushParam sets a procedure parameter on the top frame
func (t *Thread) PushParam(name string, v Value) {
	t.InitParams()
	if f := t.PeekStackFrame(); f != nil {
		f.params[name] = v
	}
}

// GetParam finds a parameter in the nearest frame that holds parameters
func (t *Thread) GetParam(name string) (Value, bool) {
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := t.frames[i]
		if f.params == nil {
			continue
		}
		v, ok := f.params[name]
		return v, ok
	}
	return Undefined(), false
}

// AtStackTop reports whether the thread is executing its top block
func (t *Thread) AtStackTop() bool {
	return t.PeekStack() == t.topBlock
}

// GoToNextBlock moves the top of the stack to the next block in its script
func (t *Thread) GoToNextBlock() {
	if len(t.stack) == 0 {
		return
	}
	t.reuseStackForNextBlock(t.blocks.NextBlock(t.PeekStack()))
}

// StopThisScript unwinds the stack to the enclosing procedure call, or
// finishes the thread when there is none.
func (t *Thread) StopThisScript() {
	for len(t.stack) > 0 {
		if b := t.blocks.Block(t.PeekStack()); b != nil && b.Opcode == "procedures_call" {
			break
		}
		t.PopStack()
	}
	if len(t.stack) == 0 {
		t.requestScriptGlowInFrame = false
		t.status = StatusDone
	}
}

// isRecursiveCall looks a few calls down the stack for proccode
func (t *Thread) isRecursiveCall(proccode string) bool {
	callCount := 5
	for i := len(t.stack) - 2; i >= 0; i-- {
		b := t.blocks.Block(t.stack[i])
		if b != nil && b.Opcode == "procedures_call" && b.Mutation["proccode"] == proccode {
			return true
		}
		callCount--
		if callCount < 0 {
			return false
		}
	}
	return false
}
