package blocks

import (
	"math"
	"strings"
	"time"

	"github.com/chazu/blockvm/engine"
)

// Control implements loops, conditionals, waits and stop
type Control struct{}

// Name implements engine.Package
func (Control) Name() string { return "control" }

// Primitives implements engine.Package
func (c Control) Primitives() map[string]engine.Primitive {
	return map[string]engine.Primitive{
		"control_repeat":       command(c.repeat),
		"control_repeat_until": command(c.repeatUntil),
		"control_while":        command(c.repeatWhile),
		"control_forever":      command(c.forever),
		"control_wait":         command(c.wait),
		"control_wait_until":   command(c.waitUntil),
		"control_if":           command(c.ifThen),
		"control_if_else":      command(c.ifElse),
		"control_stop":         command(c.stop),
	}
}

func (Control) repeat(args engine.Args, util *engine.BlockUtility) {
	loop := util.StackFrame().Loop()
	if !loop.Started {
		loop.Started = true
		loop.Counter = int(math.Floor(args.Number("TIMES") + 0.5))
	}
	// The counter is decremented before the branch runs so that the loop
	// ends after exactly TIMES passes.
	loop.Counter--
	if loop.Counter >= 0 {
		util.StepToBranch(1, true)
	}
}

func (Control) repeatUntil(args engine.Args, util *engine.BlockUtility) {
	if !args.Bool("CONDITION") {
		util.StepToBranch(1, true)
	}
}

func (Control) repeatWhile(args engine.Args, util *engine.BlockUtility) {
	if args.Bool("CONDITION") {
		util.StepToBranch(1, true)
	}
}

func (Control) forever(_ engine.Args, util *engine.BlockUtility) {
	util.StepToBranch(1, true)
}

func (Control) wait(args engine.Args, util *engine.BlockUtility) {
	if util.StackTimerNeedsInit() {
		seconds := math.Max(0, args.Number("DURATION"))
		util.StartStackTimer(time.Duration(seconds * float64(time.Second)))
		util.Runtime().RequestRedraw()
		util.Yield()
		return
	}
	if !util.StackTimerFinished() {
		util.Yield()
	}
}

func (Control) waitUntil(args engine.Args, util *engine.BlockUtility) {
	if !args.Bool("CONDITION") {
		util.Yield()
	}
}

func (Control) ifThen(args engine.Args, util *engine.BlockUtility) {
	if args.Bool("CONDITION") {
		util.StepToBranch(1, false)
	}
}

func (Control) ifElse(args engine.Args, util *engine.BlockUtility) {
	if args.Bool("CONDITION") {
		util.StepToBranch(1, false)
		return
	}
	util.StepToBranch(2, false)
}

func (Control) stop(args engine.Args, util *engine.BlockUtility) {
	switch option := strings.ToLower(args.String("STOP_OPTION")); option {
	case "all":
		util.StopAll()
	case "other scripts in sprite", "other scripts in stage":
		util.StopOtherTargetThreads()
	case "this script":
		util.StopThisScript()
	default:
		logger.Warningf("control_stop: unknown option %q", option)
	}
}
