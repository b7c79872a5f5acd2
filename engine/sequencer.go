package engine

import (
	"time"
)

// DefaultWarpTime bounds how long one warp-mode thread may run in a tick
const DefaultWarpTime = 500 * time.Millisecond

// DefaultWorkFraction is the share of the tick interval spent stepping threads
const DefaultWorkFraction = 0.75

// Sequencer steps the runtime's threads for one tick
type Sequencer struct {
	runtime      *Runtime
	activeThread *Thread

	now          func() time.Time
	warpTime     time.Duration
	workFraction float64

	tickStart time.Time
	workTime  time.Duration
}

func newSequencer(r *Runtime, now func() time.Time, warpTime time.Duration, workFraction float64) *Sequencer {
	return &Sequencer{
		runtime:      r,
		now:          now,
		warpTime:     warpTime,
		workFraction: workFraction,
	}
}

// ActiveThread returns the thread currently being executed, or nil
func (s *Sequencer) ActiveThread() *Thread {
	var t *Thread
	s.runtime.worker.run(func() { t = s.activeThread })
	return t
}

func (s *Sequencer) withinWorkTime() bool {
	return s.now().Sub(s.tickStart) < s.workTime
}

func (s *Sequencer) withinWarpTime(t *Thread) bool {
	return !t.warpStart.IsZero() && s.now().Sub(t.warpStart) <= s.warpTime && s.withinWorkTime()
}

// StepThreads runs every thread until each has yielded, parked or finished,
// repeating while time remains in the tick budget. Threads that are done are
// removed from the list after every pass and returned.
func (s *Sequencer) StepThreads() []*Thread {
	r := s.runtime
	s.workTime = time.Duration(float64(r.currentStepTime) * s.workFraction)
	s.tickStart = s.now()

	numActive := -1
	ranFirstTick := false
	var doneThreads []*Thread

	for len(r.threads) > 0 &&
		numActive != 0 &&
		s.withinWorkTime() &&
		(r.turboMode || !r.redrawRequested) {
		numActive = 0
		stopped := false

		for i := 0; i < len(r.threads); i++ {
			t := r.threads[i]
			s.activeThread = t
			if len(t.stack) == 0 || t.status == StatusDone {
				stopped = true
				continue
			}
			if t.status == StatusYieldTick && !ranFirstTick {
				t.status = StatusRunning
			}
			if t.status == StatusRunning || t.status == StatusYield {
				s.stepThread(t)
				t.warpStart = time.Time{}
			}
			if t.status == StatusRunning {
				numActive++
			}
			if len(t.stack) == 0 || t.status == StatusDone {
				stopped = true
			}
		}
		ranFirstTick = true

		if stopped {
			kept := r.threads[:0]
			for _, t := range r.threads {
				if len(t.stack) == 0 || t.status == StatusDone {
					doneThreads = append(doneThreads, t)
					continue
				}
				kept = append(kept, t)
			}
			clear(r.threads[len(kept):])
			r.threads = kept
		}
	}
	s.activeThread = nil
	return doneThreads
}

// stepThread runs one thread until it yields, parks or finishes
func (s *Sequencer) stepThread(t *Thread) {
	current := t.PeekStack()
	if current == "" {
		// An empty branch
		t.PopStack()
		if len(t.stack) == 0 {
			t.status = StatusDone
			return
		}
	}

	for t.PeekStack() != "" {
		warp := t.PeekStackFrame().WarpMode
		if warp && t.warpStart.IsZero() {
			t.warpStart = s.now()
		}
		s.activeThread = t
		execute(s, t)
		if t.isKilled {
			return
		}
		t.blockGlowInFrame = current

		switch t.status {
		case StatusYield:
			t.status = StatusRunning
			// In warp mode, yielded blocks are re-executed immediately.
			if warp && s.withinWarpTime(t) {
				continue
			}
			return
		case StatusPromiseWait, StatusYieldTick:
			return
		case StatusDone:
			return
		}

		// No control flow happened: move on.
		if t.PeekStack() == current {
			t.GoToNextBlock()
		}
		for t.PeekStack() == "" {
			t.PopStack()
			if len(t.stack) == 0 {
				t.status = StatusDone
				return
			}
			f := t.PeekStackFrame()
			if f.IsLoop {
				// Loops re-execute; only warp mode may do so within this pass.
				if !f.WarpMode || !s.withinWarpTime(t) {
					return
				}
				break
			}
			if f.waitingReporter != "" {
				return
			}
			t.GoToNextBlock()
		}
		current = t.PeekStack()
	}
}

// StepToBranch pushes branch n of the current block. An empty branch pushes
// the null block so the stepper returns to this block (for loops) or moves
// past it.
func (s *Sequencer) StepToBranch(t *Thread, n int, isLoop bool) {
	if n == 0 {
		n = 1
	}
	current := t.PeekStack()
	branch := t.blocks.Branch(current, n)
	t.PeekStackFrame().IsLoop = isLoop
	t.PushStack(branch)
}

// StepToProcedure pushes the definition of proccode. Non-warp threads yield
// on recursive calls so that recursion cannot starve other threads.
func (s *Sequencer) StepToProcedure(t *Thread, proccode string) {
	def := t.blocks.ProcedureDefinition(proccode)
	if def == "" {
		return
	}
	isRecursive := t.isRecursiveCall(proccode)
	t.PushStack(def)
	if t.PeekStackFrame().WarpMode && !t.warpStart.IsZero() && s.now().Sub(t.warpStart) > s.warpTime {
		// Warp budget exhausted: give other threads a turn.
		t.status = StatusYield
		return
	}
	if t.blocks.ProcedureWarp(proccode) {
		t.PeekStackFrame().WarpMode = true
		return
	}
	if isRecursive && !t.PeekStackFrame().WarpMode {
		t.status = StatusYield
	}
}

// RetireThread finishes a thread: its stack is cleared so it never runs again
func (s *Sequencer) RetireThread(t *Thread) {
	t.stack = nil
	t.frames = nil
	t.pending = nil
	t.requestScriptGlowInFrame = false
	t.status = StatusDone
}
