package engine

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Fields passed to primitives as references rather than plain values
var refFields = map[string]bool{
	"VARIABLE":         true,
	"LIST":             true,
	"BROADCAST_OPTION": true,
}

// PrimitiveError is reported when a primitive fails. The thread running it
// is retired; other threads keep running.
type PrimitiveError struct {
	BlockID string
	Opcode  string
	// Package is the name of the block package that provides Opcode.
	Package string
	Err     error
}

func (e *PrimitiveError) Error() string {
	return fmt.Sprintf("engine: %s/%s (block %s): %v", e.Package, e.Opcode, e.BlockID, e.Err)
}

func (e *PrimitiveError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Block utility
// ---------------------------------------------------------------------------

// BlockUtility is handed to every primitive call. It is bound to the thread
// being executed and is only valid for the duration of the call.
type BlockUtility struct {
	sequencer *Sequencer
	thread    *Thread
}

// Runtime returns the owning runtime
func (u *BlockUtility) Runtime() *Runtime { return u.sequencer.runtime }

// Thread returns the thread executing the primitive
func (u *BlockUtility) Thread() *Thread { return u.thread }

// Target returns the thread's target
func (u *BlockUtility) Target() *Target { return u.thread.target }

// StackFrame returns the frame of the block being executed
func (u *BlockUtility) StackFrame() *StackFrame { return u.thread.PeekStackFrame() }

// Yield re-executes the block later in this tick, or next tick if the budget
// runs out.
func (u *BlockUtility) Yield() { u.thread.status = StatusYield }

// YieldTick re-executes the block on the next tick
func (u *BlockUtility) YieldTick() { u.thread.status = StatusYieldTick }

// IsWarp reports whether the current frame runs without screen refresh
func (u *BlockUtility) IsWarp() bool {
	f := u.thread.PeekStackFrame()
	return f != nil && f.WarpMode
}

// Now returns the runtime's notion of the current time
func (u *BlockUtility) Now() time.Time { return u.sequencer.now() }

// StartHats starts matching hat scripts; see Runtime.StartHats
func (u *BlockUtility) StartHats(opcode string, match map[string]string, target *Target) []*Thread {
	return u.sequencer.runtime.startHats(opcode, match, target)
}

// StepToBranch enters branch n (1-based) of the current C-block
func (u *BlockUtility) StepToBranch(n int, isLoop bool) {
	u.sequencer.StepToBranch(u.thread, n, isLoop)
}

// StepToProcedure enters the definition of proccode
func (u *BlockUtility) StepToProcedure(proccode string) {
	u.sequencer.StepToProcedure(u.thread, proccode)
}

// StopThisScript ends the current script or procedure
func (u *BlockUtility) StopThisScript() { u.thread.StopThisScript() }

// StopAll stops every thread, including this one
func (u *BlockUtility) StopAll() { u.sequencer.runtime.stopAll() }

// StopOtherTargetThreads stops every thread on this target except this one
func (u *BlockUtility) StopOtherTargetThreads() {
	u.sequencer.runtime.stopForTarget(u.thread.target, u.thread)
}

// StopThisThread retires this thread after the primitive returns
func (u *BlockUtility) StopThisThread() { u.sequencer.RetireThread(u.thread) }

// GetParam returns a procedure argument
func (u *BlockUtility) GetParam(name string) (Value, bool) { return u.thread.GetParam(name) }

// StackTimerNeedsInit reports whether the frame's timer has not been started
func (u *BlockUtility) StackTimerNeedsInit() bool {
	return u.StackFrame().Kind() != FrameTimer
}

// StartStackTimer starts a timer of d on the current frame
func (u *BlockUtility) StartStackTimer(d time.Duration) {
	ts := u.StackFrame().Timer()
	ts.Start = u.Now()
	ts.Duration = d
}

// StackTimerFinished reports whether the frame's timer has run out
func (u *BlockUtility) StackTimerFinished() bool {
	ts := u.StackFrame().Timer()
	return u.Now().Sub(ts.Start) >= ts.Duration
}

// ---------------------------------------------------------------------------
// Evaluator
// ---------------------------------------------------------------------------

// execute runs the block at the top of the thread's stack, evaluating its
// inputs first by pushing each input block and executing it recursively.
func execute(s *Sequencer, t *Thread) {
	r := s.runtime
	frame := t.PeekStackFrame()
	blockID := t.PeekStack()
	block := t.blocks.Block(blockID)
	if block == nil || block.Opcode == "" {
		logger.Warningf("could not get opcode for block %q", blockID)
		return
	}
	opcode := block.Opcode
	prim, hasPrim := r.registry.Primitive(opcode)
	isHat := r.registry.IsHat(opcode)

	if isHat {
		// A hat without a predicate always passes.
		if !hasPrim {
			return
		}
	} else if !hasPrim {
		// Menu and literal shadows report their only field.
		if len(block.Fields) == 1 && len(block.Inputs) == 0 {
			s.handleReport(t, String(block.Fields[0].Value), blockID, opcode, false)
		} else {
			r.warnUnknownOpcode(opcode)
		}
		t.requestScriptGlowInFrame = true
		return
	}

	var args Args
	for _, f := range block.Fields {
		if refFields[f.Name] {
			args.setRef(f.Name, FieldRef{ID: f.ID, Name: f.Value})
		} else {
			args.set(f.Name, String(f.Value))
		}
	}

	for _, in := range t.blocks.ValueInputs(block) {
		if in.Name == "custom_block" {
			continue
		}
		if in.Name == "BROADCAST_INPUT" && in.BlockID != "" && in.BlockID == in.ShadowID {
			// Menu shadow: take the message straight from its field.
			if menu := t.blocks.Block(in.BlockID); menu != nil {
				if f, ok := menu.Field("BROADCAST_OPTION"); ok {
					args.setRef("BROADCAST_OPTION", FieldRef{ID: f.ID, Name: f.Value})
				}
			}
			continue
		}
		if in.BlockID != "" {
			if _, done := frame.reported[in.Name]; !done {
				frame.waitingReporter = in.Name
				t.PushStack(in.BlockID)
				execute(s, t)
				if t.status == StatusPromiseWait || t.status == StatusDone || t.isKilled {
					return
				}
				frame.waitingReporter = ""
				t.PopStack()
			}
		}
		v, ok := frame.reported[in.Name]
		if !ok {
			v = Undefined()
		}
		if in.Name == "BROADCAST_INPUT" {
			args.setRef("BROADCAST_OPTION", FieldRef{Name: v.ToString()})
			continue
		}
		args.set(in.Name, v)
	}
	frame.waitingReporter = ""

	if block.Mutation != nil {
		args.Mutation = block.Mutation
	}

	frame.reported = nil

	result, err := s.invoke(prim, args, t)
	if err != nil {
		s.fail(t, blockID, opcode, err)
		return
	}

	switch res := result.(type) {
	case nil:
		t.requestScriptGlowInFrame = true
		if t.status == StatusRunning && isHat {
			// A predicate that reports nothing is false.
			s.handleReport(t, Bool(false), blockID, opcode, true)
		} else if t.status == StatusRunning {
			s.handleReport(t, Undefined(), blockID, opcode, false)
		}
	case *Promise:
		if t.status == StatusRunning {
			t.status = StatusPromiseWait
		}
		parent := t.PeekParentStackFrame()
		t.pending = &pendingPromise{
			promise: res,
			blockID: blockID,
			opcode:  opcode,
			isHat:   isHat,
			nested:  parent != nil && parent.waitingReporter != "",
		}
	case Value:
		if t.status == StatusRunning {
			s.handleReport(t, res, blockID, opcode, isHat)
		}
	}
}

// invoke calls a primitive, turning a panic into an error
func (s *Sequencer) invoke(prim Primitive, args Args, t *Thread) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Debugf("primitive panic: %v\n%s", rec, debug.Stack())
			result, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return prim(args, &BlockUtility{sequencer: s, thread: t})
}

// fail retires a thread whose primitive failed and reports the failure
func (s *Sequencer) fail(t *Thread, blockID, opcode string, err error) {
	perr := &PrimitiveError{
		BlockID: blockID,
		Opcode:  opcode,
		Package: s.runtime.registry.Owner(opcode),
		Err:     err,
	}
	logger.Errorf("%s", perr)
	s.RetireThread(t)
	if cb := s.runtime.opts.OnThreadError; cb != nil {
		cb(t, perr)
	}
}

// handleReport applies a value reported by a block to its thread
func (s *Sequencer) handleReport(t *Thread, v Value, blockID, opcode string, isHat bool) {
	r := s.runtime
	t.pushReportedValue(v)
	if isHat {
		hat, _ := r.registry.Hat(opcode)
		if hat.EdgeActivated {
			if !t.stackClick {
				old := t.target.updateEdgeActivatedValue(blockID, v.ToBoolean())
				if old || !v.ToBoolean() {
					s.RetireThread(t)
				}
			}
		} else if !v.ToBoolean() {
			s.RetireThread(t)
		}
		return
	}
	if !v.IsUndefined() && t.AtStackTop() && t.stackClick {
		r.visualReport(blockID, v)
	}
	t.status = StatusRunning
}

// settle resumes a thread whose promise has settled
func (s *Sequencer) settle(t *Thread) {
	p := t.pending
	t.pending = nil
	v, err := p.promise.Result()
	if err != nil {
		logger.Warningf("primitive %s rejected promise: %v", p.opcode, err)
		t.status = StatusRunning
		t.PopStack()
		return
	}
	if p.isHat {
		t.status = StatusRunning
	}
	s.handleReport(t, v, p.blockID, p.opcode, p.isHat)
	if t.status == StatusDone {
		return
	}
	switch {
	case p.isHat:
		t.GoToNextBlock()
	case p.nested:
		t.PopStack()
	default:
		// Command finished: continue after it, unwinding finished branches
		// but stopping at loops so they re-run.
		var next string
		for {
			popped := t.PopStack()
			if popped == "" && len(t.stack) == 0 {
				return
			}
			next = t.blocks.NextBlock(popped)
			if next != "" {
				break
			}
			f := t.PeekStackFrame()
			if f == nil || f.IsLoop {
				break
			}
		}
		t.PushStack(next)
	}
}
