package engine

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("blockvm.engine")

var (
	// ErrNotRunning is returned when hats are started on a stopped runtime
	ErrNotRunning = errors.New("engine: runtime is not running")
	// ErrUnknownHat is returned for hat opcodes no package registered
	ErrUnknownHat = errors.New("engine: unknown hat opcode")
	// ErrDisposed is returned by every call after Dispose
	ErrDisposed = errors.New("engine: runtime disposed")
	// ErrThreadNotFound is returned when a thread is not in the thread list
	ErrThreadNotFound = errors.New("engine: thread not found")
)

// Tick intervals
const (
	StepInterval              = time.Second / 60
	CompatibilityStepInterval = time.Second / 30
)

// FlagClickedOpcode is the hat started by the green flag
const FlagClickedOpcode = "event_whenflagclicked"

// Options configures a Runtime at construction
type Options struct {
	// Target to run on; a fresh target is created when nil.
	Target *Target
	// Packages are registered in order; later packages override earlier ones.
	Packages []Package
	// Workspace supplies the initial workspace document.
	Workspace func() ([]byte, error)

	OnRunStart     func()
	OnRunStop      func()
	OnGlowBlock    func(blockID string, glowing bool)
	OnVisualReport func(blockID string, v Value)
	OnThreadError  func(t *Thread, err error)

	// Clock defaults to a TickerClock.
	Clock Clock
	// Now defaults to time.Now.
	Now func() time.Time

	Compatibility bool
	WorkFraction  float64
	WarpTime      time.Duration
	// Strict panics on scheduler invariant violations.
	Strict bool
}

// ToggleOptions configures ToggleScript
type ToggleOptions struct {
	Target     *Target
	StackClick bool
}

// Runtime owns the thread list, the clock and the registered block
// packages, and implements hat dispatch.
type Runtime struct {
	opts      Options
	target    *Target
	registry  *Registry
	sequencer *Sequencer
	worker    *worker
	clock     Clock
	now       func() time.Time

	threads         []*Thread
	running         bool
	disposed        bool
	currentStepTime time.Duration
	currentMSecs    int64
	turboMode       bool
	redrawRequested bool
	ticks           uint64
	flagTime        time.Time

	prevGlows  []string
	unknownOps map[string]bool
}

// New creates a runtime, registers its packages and loads the workspace
// document into the target.
func New(opts Options) (*Runtime, error) {
	registry, err := NewRegistry(opts.Packages...)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Clock == nil {
		opts.Clock = NewTickerClock()
	}
	if opts.WorkFraction <= 0 || opts.WorkFraction > 1 {
		opts.WorkFraction = DefaultWorkFraction
	}
	if opts.WarpTime <= 0 {
		opts.WarpTime = DefaultWarpTime
	}
	target := opts.Target
	if target == nil {
		target = NewTarget(nil)
	}

	r := &Runtime{
		opts:            opts,
		target:          target,
		registry:        registry,
		clock:           opts.Clock,
		now:             opts.Now,
		currentStepTime: StepInterval,
		unknownOps:      make(map[string]bool),
	}
	if opts.Compatibility {
		r.currentStepTime = CompatibilityStepInterval
	}
	r.currentMSecs = r.now().UnixMilli()
	r.flagTime = r.now()
	r.sequencer = newSequencer(r, opts.Now, opts.WarpTime, opts.WorkFraction)
	target.runtime = r

	if opts.Workspace != nil {
		doc, err := opts.Workspace()
		if err != nil {
			return nil, fmt.Errorf("engine: load workspace: %w", err)
		}
		vars, err := target.Blocks.CreateScripts(bytes.NewReader(doc))
		if err != nil {
			logger.Warningf("workspace document is malformed, keeping %d parsed blocks: %v", target.Blocks.Len(), err)
		}
		for _, decl := range vars {
			if decl.ID == "" {
				continue
			}
			v := target.CreateVariable(decl.ID, decl.Name, decl.Type, false)
			v.IsLocal = decl.IsLocal
		}
	}

	r.worker = newWorker()
	logger.Debugf("runtime created with packages %s", strings.Join(registry.Packages(), ", "))
	return r, nil
}

// do runs fn on the runtime goroutine
func (r *Runtime) do(fn func()) error {
	err := r.worker.Do(fn)
	if err != nil && r.opts.Strict && !errors.Is(err, ErrDisposed) {
		panic(err)
	}
	return err
}

func (r *Runtime) invariant(ok bool, format string, args ...any) {
	if ok {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if r.opts.Strict {
		panic("engine: invariant violated: " + msg)
	}
	logger.Errorf("invariant violated: %s", msg)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start seeds a thread for every script that is not a procedure definition
// and not a hat other than the green flag, then arms the clock. Starting a
// running runtime does nothing.
func (r *Runtime) Start() error {
	return r.do(r.start)
}

func (r *Runtime) start() {
	if r.running || r.disposed {
		return
	}
	blocks := r.target.Blocks
	for _, id := range blocks.Scripts() {
		opcode := blocks.Opcode(blocks.Block(id))
		if opcode == "procedures_definition" {
			continue
		}
		if r.registry.IsHat(opcode) && opcode != FlagClickedOpcode {
			continue
		}
		r.pushThread(id, r.target, false)
	}
	r.running = true
	logger.Infof("run started with %d threads", len(r.threads))
	if r.opts.OnRunStart != nil {
		r.opts.OnRunStart()
	}
	r.clock.Arm(r.currentStepTime, r.onClockTick)
}

func (r *Runtime) onClockTick() {
	if err := r.do(r.tick); err != nil && !errors.Is(err, ErrDisposed) {
		logger.Errorf("tick: %v", err)
	}
}

func (r *Runtime) tick() {
	r.invariant(r.worker.onWorker(), "tick outside the runtime goroutine")
	if !r.running {
		return
	}
	r.step()
	if len(r.threads) == 0 {
		r.stop()
	}
}

// Stop disarms the clock. Threads stay where they are.
func (r *Runtime) Stop() error {
	return r.do(r.stop)
}

func (r *Runtime) stop() {
	if !r.running {
		return
	}
	r.clock.Disarm()
	r.running = false
	for _, id := range r.prevGlows {
		r.glowBlock(id, false)
	}
	r.prevGlows = nil
	logger.Infof("run stopped after %d ticks", r.ticks)
	if r.opts.OnRunStop != nil {
		r.opts.OnRunStop()
	}
}

// IsRunning reports whether the clock is armed
func (r *Runtime) IsRunning() bool {
	var running bool
	_ = r.do(func() { running = r.running })
	return running
}

// GreenFlag stops everything, resets edge-activated hats and starts the
// green-flag scripts.
func (r *Runtime) GreenFlag() error {
	return r.do(func() {
		logger.Info("green flag")
		r.stopAll()
		r.target.ClearEdgeActivatedValues()
		r.flagTime = r.now()
		r.startHats(FlagClickedOpcode, nil, nil)
	})
}

// Dispose stops every thread, releases the target and shuts down the
// runtime goroutine. Later calls return ErrDisposed.
func (r *Runtime) Dispose() error {
	err := r.do(func() {
		if r.disposed {
			return
		}
		r.stopAll()
		r.stop()
		r.target.Dispose()
		r.disposed = true
	})
	r.worker.Stop()
	return err
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

func (r *Runtime) step() {
	r.ticks++
	r.currentMSecs = r.now().UnixMilli()

	for _, t := range r.threads {
		if t.status != StatusPromiseWait {
			continue
		}
		r.invariant(t.pending != nil, "thread %s is waiting on no promise", t.topBlock)
		if t.pending != nil && t.pending.promise.Settled() {
			r.sequencer.settle(t)
		}
	}

	// Clean up threads that were told to stop during or since the last step.
	r.threads = slices.DeleteFunc(r.threads, func(t *Thread) bool { return t.isKilled })

	for _, t := range r.threads {
		t.requestScriptGlowInFrame = false
	}
	for _, op := range r.registry.EdgeActivatedHats() {
		r.startHats(op, nil, nil)
	}
	r.redrawRequested = false
	done := r.sequencer.StepThreads()
	r.updateGlows(done)
}

// updateGlows reports scripts that started or stopped glowing this frame
func (r *Runtime) updateGlows(extra []*Thread) {
	var requested []string
	for _, t := range slices.Concat(r.threads, extra) {
		if t.target != r.target || !(t.requestScriptGlowInFrame || t.stackClick) {
			continue
		}
		block := t.blockGlowInFrame
		if block == "" {
			block = t.topBlock
		}
		if script := t.blocks.TopLevelScript(block); script != "" && !slices.Contains(requested, script) {
			requested = append(requested, script)
		}
	}

	var final []string
	for _, id := range r.prevGlows {
		if slices.Contains(requested, id) {
			final = append(final, id)
		} else {
			r.glowBlock(id, false)
		}
	}
	for _, id := range requested {
		if !slices.Contains(r.prevGlows, id) {
			r.glowBlock(id, true)
			final = append(final, id)
		}
	}
	r.prevGlows = final
}

func (r *Runtime) glowBlock(id string, glowing bool) {
	if r.opts.OnGlowBlock != nil {
		r.opts.OnGlowBlock(id, glowing)
	}
}

func (r *Runtime) visualReport(id string, v Value) {
	if r.opts.OnVisualReport != nil {
		r.opts.OnVisualReport(id, v)
	}
}

func (r *Runtime) warnUnknownOpcode(opcode string) {
	if r.unknownOps[opcode] {
		return
	}
	r.unknownOps[opcode] = true
	if s := r.registry.Suggest(opcode); s != "" {
		logger.Warningf("could not get implementation for opcode %s (did you mean %s?)", opcode, s)
		return
	}
	logger.Warningf("could not get implementation for opcode %s", opcode)
}

// RequestRedraw ends the current tick's stepping early unless turbo mode is on
func (r *Runtime) RequestRedraw() {
	_ = r.do(func() { r.redrawRequested = true })
}

// SetTurboMode makes the sequencer ignore redraw requests
func (r *Runtime) SetTurboMode(on bool) {
	_ = r.do(func() { r.turboMode = on })
}

// CurrentMSecs returns the timestamp taken at the start of the current tick
func (r *Runtime) CurrentMSecs() int64 {
	var ms int64
	_ = r.do(func() { ms = r.currentMSecs })
	return ms
}

// TimerSeconds returns the seconds elapsed since the last green flag
func (r *Runtime) TimerSeconds() float64 {
	var s float64
	_ = r.do(func() { s = r.now().Sub(r.flagTime).Seconds() })
	return s
}

// Ticks returns the number of ticks stepped so far
func (r *Runtime) Ticks() uint64 {
	var n uint64
	_ = r.do(func() { n = r.ticks })
	return n
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

func (r *Runtime) pushThread(topBlock string, target *Target, stackClick bool) *Thread {
	t := newThread(topBlock, target)
	t.w = r.worker
	t.stackClick = stackClick
	t.PushStack(topBlock)
	r.threads = append(r.threads, t)
	return t
}

// restartThread replaces t with a fresh thread in the same list slot
func (r *Runtime) restartThread(t *Thread) *Thread {
	fresh := newThread(t.topBlock, t.target)
	fresh.w = r.worker
	fresh.stackClick = t.stackClick
	fresh.PushStack(t.topBlock)
	if i := slices.Index(r.threads, t); i >= 0 {
		r.threads[i] = fresh
		return fresh
	}
	r.threads = append(r.threads, fresh)
	return fresh
}

// stopThread marks t killed and retires it; removal happens next tick
func (r *Runtime) stopThread(t *Thread) {
	t.isKilled = true
	r.sequencer.RetireThread(t)
}

func (r *Runtime) stopAll() {
	for _, t := range r.threads {
		r.stopThread(t)
	}
	if t := r.sequencer.activeThread; t != nil {
		r.stopThread(t)
	}
	r.threads = nil
}

func (r *Runtime) stopForTarget(target *Target, except *Thread) {
	for _, t := range r.threads {
		if t != except && t.target == target {
			r.stopThread(t)
		}
	}
}

// StopAll stops every thread. Safe to call from a primitive.
func (r *Runtime) StopAll() error {
	return r.do(r.stopAll)
}

// StopForTarget stops every thread on target except the given one
func (r *Runtime) StopForTarget(target *Target, except *Thread) error {
	return r.do(func() { r.stopForTarget(target, except) })
}

// StopThread stops a single thread. It stays in the list, killed, until the
// next tick's cleanup.
func (r *Runtime) StopThread(t *Thread) error {
	var err error
	doErr := r.do(func() {
		if !slices.Contains(r.threads, t) {
			err = ErrThreadNotFound
			return
		}
		r.stopThread(t)
	})
	return errors.Join(doErr, err)
}

// Threads returns a copy of the thread list
func (r *Runtime) Threads() []*Thread {
	var out []*Thread
	_ = r.do(func() { out = slices.Clone(r.threads) })
	return out
}

// HasThread reports whether t is still in the thread list, finished or not
func (r *Runtime) HasThread(t *Thread) bool {
	var ok bool
	_ = r.do(func() { ok = slices.Contains(r.threads, t) })
	return ok
}

// IsActiveThread reports whether t still has work and is in the thread list
func (r *Runtime) IsActiveThread(t *Thread) bool {
	var active bool
	_ = r.do(func() { active = r.isActiveThread(t) })
	return active
}

func (r *Runtime) isActiveThread(t *Thread) bool {
	return len(t.stack) > 0 && t.status != StatusDone && slices.Contains(r.threads, t)
}

// IsWaitingThread reports whether t waits on a promise or the next tick, or
// is no longer active
func (r *Runtime) IsWaitingThread(t *Thread) bool {
	var waiting bool
	_ = r.do(func() { waiting = r.isWaitingThread(t) })
	return waiting
}

func (r *Runtime) isWaitingThread(t *Thread) bool {
	return t.status == StatusPromiseWait || t.status == StatusYieldTick || !r.isActiveThread(t)
}

// ToggleScript stops the thread running topBlockID, or starts one if none
// is running. It returns the new thread, or nil when a thread was stopped.
func (r *Runtime) ToggleScript(topBlockID string, opts ToggleOptions) (*Thread, error) {
	var started *Thread
	err := r.do(func() { started = r.toggleScript(topBlockID, opts) })
	return started, err
}

func (r *Runtime) toggleScript(topBlockID string, opts ToggleOptions) *Thread {
	target := r.targetOrDefault(opts.Target)
	for _, t := range r.threads {
		if t.topBlock != topBlockID || t.status == StatusDone {
			continue
		}
		opcode := target.Blocks.Opcode(target.Blocks.Block(topBlockID))
		if hat, ok := r.registry.Hat(opcode); ok && hat.EdgeActivated && t.stackClick != opts.StackClick {
			// A clicked edge hat coexists with the one evaluated every frame.
			continue
		}
		r.stopThread(t)
		return nil
	}
	return r.pushThread(topBlockID, target, opts.StackClick)
}

// ---------------------------------------------------------------------------
// Hats
// ---------------------------------------------------------------------------

// AllScriptsDo calls f for every script of target (the runtime's target if
// nil). f runs on the runtime goroutine.
func (r *Runtime) AllScriptsDo(f func(topBlockID string, target *Target), target *Target) error {
	return r.do(func() {
		target := r.targetOrDefault(target)
		for _, id := range target.Blocks.Scripts() {
			f(id, target)
		}
	})
}

// AllScriptsByOpcodeDo calls f for every script rooted at opcode
func (r *Runtime) AllScriptsByOpcodeDo(opcode string, f func(script *ScriptCache, target *Target), target *Target) error {
	return r.do(func() { r.allScriptsByOpcodeDo(opcode, f, target) })
}

func (r *Runtime) allScriptsByOpcodeDo(opcode string, f func(script *ScriptCache, target *Target), target *Target) {
	target = r.targetOrDefault(target)
	for _, sc := range target.Blocks.ScriptsByOpcode(opcode) {
		f(sc, target)
	}
}

func (r *Runtime) targetOrDefault(target *Target) *Target {
	if target == nil {
		return r.target
	}
	return target
}

// StartHats starts every script rooted at the hat opcode whose hat fields
// match all of match (case-insensitively). Each new thread is stepped once
// before this returns.
func (r *Runtime) StartHats(opcode string, match map[string]string, target *Target) ([]*Thread, error) {
	var (
		started []*Thread
		err     error
	)
	doErr := r.do(func() {
		switch {
		case !r.running:
			err = ErrNotRunning
		case !r.registry.IsHat(opcode):
			err = fmt.Errorf("%w: %s", ErrUnknownHat, opcode)
		default:
			started = r.startHats(opcode, match, target)
		}
	})
	return started, errors.Join(doErr, err)
}

func (r *Runtime) startHats(opcode string, match map[string]string, target *Target) []*Thread {
	if !r.running {
		return nil
	}
	hat, ok := r.registry.Hat(opcode)
	if !ok {
		return nil
	}
	want := make(map[string]string, len(match))
	for k, v := range match {
		want[k] = strings.ToUpper(v)
	}

	var started []*Thread
	r.allScriptsByOpcodeDo(opcode, func(script *ScriptCache, target *Target) {
		for name, v := range want {
			if f, ok := script.FieldsOfInputs[name]; !ok || f.Value != v {
				return
			}
		}
		if hat.RestartExistingThreads {
			for _, t := range r.threads {
				if t.target == target && t.topBlock == script.BlockID && !t.stackClick {
					logger.Debugf("restarting script %s", script.BlockID)
					started = append(started, r.restartThread(t))
					return
				}
			}
		} else {
			for _, t := range r.threads {
				if t.target == target && t.topBlock == script.BlockID && !t.stackClick && t.status != StatusDone {
					logger.Debugf("script %s already running, not starting %s", script.BlockID, opcode)
					return
				}
			}
		}
		started = append(started, r.pushThread(script.BlockID, target, false))
	}, target)

	// Triggered hats see the world before normal stepping resumes.
	for _, t := range started {
		execute(r.sequencer, t)
		if t.status != StatusPromiseWait && t.status != StatusDone {
			t.GoToNextBlock()
		}
	}
	return started
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Target returns the runtime's target
func (r *Runtime) Target() *Target {
	return r.target
}

// Registry returns the registered packages
func (r *Runtime) Registry() *Registry {
	return r.registry
}

// GetAllVarNamesOfType lists the names of all variables of one type
func (r *Runtime) GetAllVarNamesOfType(typ string) []string {
	var names []string
	_ = r.do(func() { names = r.target.AllVariableNamesInScopeByType(typ) })
	return names
}

// CreateNewGlobalVariable creates a variable, renaming it if the name is
// already used by a variable of the same type. An empty id gets a fresh one.
func (r *Runtime) CreateNewGlobalVariable(name, id, typ string) (*Variable, error) {
	var v *Variable
	err := r.do(func() {
		names := r.target.AllVariableNamesInScopeByType(typ)
		if id == "" {
			id = NewUID()
		}
		v = NewVariable(id, UnusedName(name, names), typ, false)
		r.target.addVariable(v)
	})
	return v, err
}
