// Package blocks provides the standard block packages: control flow,
// events and broadcasts, operators, variables and lists, and custom
// procedures.
package blocks

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/blockvm/engine"
)

var logger = commonlog.GetLogger("blockvm.blocks")

// Default returns the standard packages in registration order
func Default() []engine.Package {
	return []engine.Package{
		Control{},
		Event{},
		Operators{},
		Data{},
		Procedures{},
	}
}

// command adapts a primitive that never reports a value
func command(fn func(args engine.Args, util *engine.BlockUtility)) engine.Primitive {
	return func(args engine.Args, util *engine.BlockUtility) (engine.Result, error) {
		fn(args, util)
		return nil, nil
	}
}

// reporter adapts a primitive that always reports a value
func reporter(fn func(args engine.Args, util *engine.BlockUtility) engine.Value) engine.Primitive {
	return func(args engine.Args, util *engine.BlockUtility) (engine.Result, error) {
		return fn(args, util), nil
	}
}
