package blocks

import (
	"strings"

	"github.com/chazu/blockvm/engine"
)

// Hat opcodes started by the event package
const (
	WhenFlagClicked       = engine.FlagClickedOpcode
	WhenKeyPressed        = "event_whenkeypressed"
	WhenGreaterThan       = "event_whengreaterthan"
	WhenBroadcastReceived = "event_whenbroadcastreceived"
)

const broadcastOptionField = "BROADCAST_OPTION"

// Event implements hats, broadcasts and the greater-than predicate
type Event struct{}

// Name implements engine.Package
func (Event) Name() string { return "event" }

// Primitives implements engine.Package
func (e Event) Primitives() map[string]engine.Primitive {
	return map[string]engine.Primitive{
		"event_broadcast":        command(e.broadcast),
		"event_broadcastandwait": command(e.broadcastAndWait),
		WhenGreaterThan:          reporter(e.greaterThan),
	}
}

// Hats implements engine.HatProvider
func (Event) Hats() map[string]engine.HatMeta {
	return map[string]engine.HatMeta{
		WhenFlagClicked:       {RestartExistingThreads: true},
		WhenKeyPressed:        {RestartExistingThreads: false},
		WhenGreaterThan:       {RestartExistingThreads: false, EdgeActivated: true},
		WhenBroadcastReceived: {RestartExistingThreads: true},
	}
}

func (Event) greaterThan(args engine.Args, util *engine.BlockUtility) engine.Value {
	value := args.Number("VALUE")
	switch strings.ToLower(args.String("WHENGREATERTHANMENU")) {
	case "timer":
		return engine.Bool(util.Runtime().TimerSeconds() > value)
	case "loudness":
		// No audio input: loudness is always 0.
		return engine.Bool(0 > value)
	}
	return engine.Bool(false)
}

// broadcastName resolves the message a broadcast block refers to. A message
// that is not declared on the target is still broadcast by name.
func broadcastName(args engine.Args, util *engine.BlockUtility) (string, bool) {
	ref, ok := args.Ref(broadcastOptionField)
	if !ok {
		return "", false
	}
	if msg := util.Target().LookupBroadcastMsg(ref.ID, ref.Name); msg != nil {
		return msg.Name, true
	}
	if ref.Name == "" {
		return "", false
	}
	logger.Warningf("broadcast message %q (id %q) is not declared", ref.Name, ref.ID)
	return ref.Name, true
}

func (Event) broadcast(args engine.Args, util *engine.BlockUtility) {
	name, ok := broadcastName(args, util)
	if !ok {
		return
	}
	util.StartHats(WhenBroadcastReceived, map[string]string{broadcastOptionField: name}, nil)
}

func (Event) broadcastAndWait(args engine.Args, util *engine.BlockUtility) {
	name, ok := broadcastName(args, util)
	if !ok {
		return
	}
	wait := util.StackFrame().Wait()
	if !wait.Triggered {
		wait.Triggered = true
		wait.Started = util.StartHats(WhenBroadcastReceived, map[string]string{broadcastOptionField: name}, nil)
		if len(wait.Started) == 0 {
			return
		}
	}

	// Threads that finished but are still in the thread list count as
	// waiting.
	rt := util.Runtime()
	waiting := false
	for _, t := range wait.Started {
		if rt.HasThread(t) {
			waiting = true
			break
		}
	}
	if !waiting {
		return
	}
	for _, t := range wait.Started {
		if !rt.IsWaitingThread(t) {
			util.Yield()
			return
		}
	}
	util.YieldTick()
}
