package engine

import (
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Variable types
const (
	ScalarType           = ""
	ListType             = "list"
	BroadcastMessageType = "broadcast_msg"
)

// Variable is a named value owned by a target. Value is written by
// primitives on the runtime goroutine; hosts read it through
// Runtime.Variable or Runtime.Snapshot.
type Variable struct {
	ID      string
	Name    string
	Type    string
	Value   Value
	IsCloud bool
	IsLocal bool
}

// NewVariable creates a variable with the initial value for its type:
// 0 for scalars, an empty list for lists and the message name for
// broadcast messages.
func NewVariable(id, name, typ string, isCloud bool) *Variable {
	v := &Variable{ID: id, Name: name, Type: typ, IsCloud: isCloud}
	switch typ {
	case ListType:
		v.Value = ListValue(NewList())
	case BroadcastMessageType:
		v.Value = String(name)
	default:
		v.Value = Number(0)
	}
	return v
}

// List returns the list held by a list variable, creating it if the value
// was overwritten with a scalar.
func (v *Variable) List() *List {
	if v.Value.Type != TypeList || v.Value.List == nil {
		v.Value = ListValue(NewList())
	}
	return v.Value.List
}

// NewUID generates a fresh id for blocks and variables
func NewUID() string {
	return uuid.NewString()
}

func withoutTrailingDigits(s string) string {
	return strings.TrimRight(s, "0123456789")
}

// UnusedName returns name if it is not taken, otherwise name with its
// trailing digits replaced by the smallest free suffix starting at 2.
func UnusedName(name string, existing []string) string {
	if !slices.Contains(existing, name) {
		return name
	}
	name = withoutTrailingDigits(name)
	i := 2
	for slices.Contains(existing, name+strconv.Itoa(i)) {
		i++
	}
	return name + strconv.Itoa(i)
}
