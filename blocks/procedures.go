package blocks

import (
	"github.com/chazu/blockvm/engine"
)

// Procedures implements custom block definitions, calls and arguments
type Procedures struct{}

// Name implements engine.Package
func (Procedures) Name() string { return "procedures" }

// Primitives implements engine.Package
func (p Procedures) Primitives() map[string]engine.Primitive {
	return map[string]engine.Primitive{
		"procedures_definition":           command(func(engine.Args, *engine.BlockUtility) {}),
		"procedures_call":                 command(p.call),
		"argument_reporter_string_number": reporter(p.argumentString),
		"argument_reporter_boolean":       reporter(p.argumentBoolean),
	}
}

func (Procedures) call(args engine.Args, util *engine.BlockUtility) {
	proccode := args.Mutation["proccode"]
	blocks := util.Target().Blocks
	names, ids, ok := blocks.ProcedureParamNamesAndIDs(proccode)
	if !ok {
		logger.Warningf("procedures_call: no definition for %q", proccode)
		return
	}
	defaults := blocks.ProcedureParamDefaults(proccode)

	t := util.Thread()
	t.InitParams()
	for i, id := range ids {
		if i >= len(names) {
			break
		}
		switch {
		case args.Has(id):
			t.PushParam(names[i], args.Value(id))
		case i < len(defaults):
			t.PushParam(names[i], engine.String(defaults[i]))
		default:
			t.PushParam(names[i], engine.String(""))
		}
	}
	util.StepToProcedure(proccode)
}

func (Procedures) argumentString(args engine.Args, util *engine.BlockUtility) engine.Value {
	v, ok := util.GetParam(args.String("VALUE"))
	if !ok {
		return engine.Number(0)
	}
	return v
}

func (Procedures) argumentBoolean(args engine.Args, util *engine.BlockUtility) engine.Value {
	v, ok := util.GetParam(args.String("VALUE"))
	if !ok {
		return engine.Bool(false)
	}
	return v
}
