package blocks

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/chazu/blockvm/engine"
)

// Data implements variable and list blocks
type Data struct{}

// Name implements engine.Package
func (Data) Name() string { return "data" }

// Primitives implements engine.Package
func (d Data) Primitives() map[string]engine.Primitive {
	return map[string]engine.Primitive{
		"data_variable":          reporter(d.getVariable),
		"data_setvariableto":     command(d.setVariableTo),
		"data_changevariableby":  command(d.changeVariableBy),
		"data_listcontents":      reporter(d.getListContents),
		"data_addtolist":         command(d.addToList),
		"data_deleteoflist":      command(d.deleteOfList),
		"data_deletealloflist":   command(d.deleteAllOfList),
		"data_insertatlist":      command(d.insertAtList),
		"data_replaceitemoflist": command(d.replaceItemOfList),
		"data_itemoflist":        reporter(d.getItemOfList),
		"data_itemnumoflist":     reporter(d.getItemNumOfList),
		"data_lengthoflist":      reporter(d.lengthOfList),
		"data_listcontainsitem":  reporter(d.listContainsItem),
	}
}

func variable(args engine.Args, util *engine.BlockUtility) *engine.Variable {
	ref, _ := args.Ref("VARIABLE")
	return util.Target().LookupOrCreateVariable(ref.ID, ref.Name)
}

func list(args engine.Args, util *engine.BlockUtility) *engine.List {
	ref, _ := args.Ref("LIST")
	return util.Target().LookupOrCreateList(ref.ID, ref.Name).List()
}

func (Data) getVariable(args engine.Args, util *engine.BlockUtility) engine.Value {
	return variable(args, util).Value
}

func (Data) setVariableTo(args engine.Args, util *engine.BlockUtility) {
	variable(args, util).Value = args.Value("VALUE")
}

func (Data) changeVariableBy(args engine.Args, util *engine.BlockUtility) {
	v := variable(args, util)
	v.Value = engine.Number(v.Value.ToNumber() + args.Number("VALUE"))
}

func (Data) getListContents(args engine.Args, util *engine.BlockUtility) engine.Value {
	return engine.String(list(args, util).String())
}

func (Data) addToList(args engine.Args, util *engine.BlockUtility) {
	list(args, util).Push(args.Value("ITEM"))
}

// List index sentinels
const (
	listInvalid = -1
	listAll     = 0
)

// listIndex converts an INDEX argument to a 1-based position in a list of
// the given length, understanding "all", "last" and "random".
func listIndex(index engine.Value, length int, acceptAll bool) int {
	if index.Type != engine.TypeNumber {
		switch strings.ToLower(index.ToString()) {
		case "all":
			if acceptAll {
				return listAll
			}
			return listInvalid
		case "last":
			if length > 0 {
				return length
			}
			return listInvalid
		case "random", "any":
			if length > 0 {
				return 1 + rand.IntN(length)
			}
			return listInvalid
		}
	}
	i := int(math.Floor(index.ToNumber()))
	if i < 1 || i > length {
		return listInvalid
	}
	return i
}

func (Data) deleteOfList(args engine.Args, util *engine.BlockUtility) {
	l := list(args, util)
	switch i := listIndex(args.Value("INDEX"), l.Len(), true); i {
	case listInvalid:
	case listAll:
		l.Clear()
	default:
		l.Delete(i)
	}
}

func (Data) deleteAllOfList(args engine.Args, util *engine.BlockUtility) {
	list(args, util).Clear()
}

func (Data) insertAtList(args engine.Args, util *engine.BlockUtility) {
	l := list(args, util)
	if i := listIndex(args.Value("INDEX"), l.Len()+1, false); i != listInvalid {
		l.Insert(i, args.Value("ITEM"))
	}
}

func (Data) replaceItemOfList(args engine.Args, util *engine.BlockUtility) {
	l := list(args, util)
	if i := listIndex(args.Value("INDEX"), l.Len(), false); i != listInvalid {
		l.Set(i, args.Value("ITEM"))
	}
}

func (Data) getItemOfList(args engine.Args, util *engine.BlockUtility) engine.Value {
	l := list(args, util)
	i := listIndex(args.Value("INDEX"), l.Len(), false)
	if i == listInvalid {
		return engine.String("")
	}
	return l.At(i)
}

func (Data) getItemNumOfList(args engine.Args, util *engine.BlockUtility) engine.Value {
	return engine.Number(float64(list(args, util).IndexOf(args.Value("ITEM"))))
}

func (Data) lengthOfList(args engine.Args, util *engine.BlockUtility) engine.Value {
	return engine.Number(float64(list(args, util).Len()))
}

func (Data) listContainsItem(args engine.Args, util *engine.BlockUtility) engine.Value {
	return engine.Bool(list(args, util).Contains(args.Value("ITEM")))
}
