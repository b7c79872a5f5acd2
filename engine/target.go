package engine

import (
	"strings"
)

// Target is an execution target: it owns a block container, a variable
// store and the last values seen by edge-activated hats.
//
// Once attached to a runtime, the variable methods run on the runtime
// goroutine, so hosts may call them while the clock ticks. The returned
// *Variable values and the Blocks container belong to that goroutine:
// read them from primitives, and use Runtime.Variable, Runtime.Snapshot or
// Runtime.AllScriptsDo from elsewhere.
type Target struct {
	Blocks *Container

	runtime    *Runtime
	variables  map[string]*Variable
	varOrder   []string
	edgeValues map[string]bool
	disposed   bool
}

// NewTarget creates a target over blocks; a nil container gets a fresh one
func NewTarget(blocks *Container) *Target {
	if blocks == nil {
		blocks = NewContainer()
	}
	return &Target{
		Blocks:     blocks,
		variables:  make(map[string]*Variable),
		edgeValues: make(map[string]bool),
	}
}

// Runtime returns the runtime this target is attached to
func (t *Target) Runtime() *Runtime {
	return t.runtime
}

// serialize runs f on the owning runtime's goroutine
func (t *Target) serialize(f func()) {
	var w *worker
	if t.runtime != nil {
		w = t.runtime.worker
	}
	w.run(f)
}

// ---------------------------------------------------------------------------
// Variable store
// ---------------------------------------------------------------------------

// CreateVariable adds a variable unless one with the same id exists, and
// returns whichever variable now owns the id.
func (t *Target) CreateVariable(id, name, typ string, isCloud bool) *Variable {
	var v *Variable
	t.serialize(func() {
		if old, ok := t.variables[id]; ok {
			v = old
			return
		}
		v = NewVariable(id, name, typ, isCloud)
		t.addVariable(v)
	})
	return v
}

func (t *Target) addVariable(v *Variable) {
	if _, ok := t.variables[v.ID]; !ok {
		t.varOrder = append(t.varOrder, v.ID)
	}
	t.variables[v.ID] = v
}

// DeleteVariable removes a variable by id
func (t *Target) DeleteVariable(id string) {
	t.serialize(func() {
		if _, ok := t.variables[id]; !ok {
			return
		}
		delete(t.variables, id)
		t.varOrder = removeString(t.varOrder, id)
	})
}

// Variables returns all variables in creation order
func (t *Target) Variables() []*Variable {
	var out []*Variable
	t.serialize(func() {
		out = make([]*Variable, 0, len(t.varOrder))
		for _, id := range t.varOrder {
			out = append(out, t.variables[id])
		}
	})
	return out
}

// LookupVariableByID returns the variable with id, or nil
func (t *Target) LookupVariableByID(id string) *Variable {
	if id == "" {
		return nil
	}
	var v *Variable
	t.serialize(func() { v = t.variables[id] })
	return v
}

// LookupVariableByNameAndType returns the first variable with the given
// name and type, or nil
func (t *Target) LookupVariableByNameAndType(name, typ string) *Variable {
	var found *Variable
	t.serialize(func() {
		for _, id := range t.varOrder {
			if v := t.variables[id]; v.Name == name && v.Type == typ {
				found = v
				return
			}
		}
	})
	return found
}

// LookupOrCreateVariable finds a scalar by id, then by name, and creates it
// if neither matches.
func (t *Target) LookupOrCreateVariable(id, name string) *Variable {
	return t.lookupOrCreate(id, name, ScalarType)
}

// LookupOrCreateList is LookupOrCreateVariable for lists
func (t *Target) LookupOrCreateList(id, name string) *Variable {
	return t.lookupOrCreate(id, name, ListType)
}

func (t *Target) lookupOrCreate(id, name, typ string) *Variable {
	var v *Variable
	t.serialize(func() {
		if v = t.LookupVariableByID(id); v != nil {
			return
		}
		if v = t.LookupVariableByNameAndType(name, typ); v != nil {
			return
		}
		if id == "" {
			id = NewUID()
		}
		v = NewVariable(id, name, typ, false)
		t.addVariable(v)
	})
	return v
}

// LookupBroadcastMsg finds a broadcast message by id, or by name when no id
// is given. Mismatched names or types are logged but still returned.
func (t *Target) LookupBroadcastMsg(id, name string) *Variable {
	var msg *Variable
	switch {
	case id != "":
		msg = t.LookupVariableByID(id)
	case name != "":
		msg = t.LookupBroadcastByInputValue(name)
	default:
		logger.Error("cannot find broadcast message if neither id nor name are provided")
		return nil
	}
	if msg == nil {
		return nil
	}
	if name != "" && !strings.EqualFold(msg.Name, name) {
		logger.Errorf("found broadcast message with id %s, but its name %q did not match expected name %q", id, msg.Name, name)
	}
	if msg.Type != BroadcastMessageType {
		logger.Errorf("found variable with id %s, but its type %q is not %q", id, msg.Type, BroadcastMessageType)
	}
	return msg
}

// LookupBroadcastByInputValue finds a broadcast message by case-insensitive name
func (t *Target) LookupBroadcastByInputValue(name string) *Variable {
	var found *Variable
	t.serialize(func() {
		for _, id := range t.varOrder {
			if v := t.variables[id]; v.Type == BroadcastMessageType && strings.EqualFold(v.Name, name) {
				found = v
				return
			}
		}
	})
	return found
}

// AllVariableNamesInScopeByType lists variable names of one type
func (t *Target) AllVariableNamesInScopeByType(typ string) []string {
	var names []string
	t.serialize(func() {
		for _, id := range t.varOrder {
			if v := t.variables[id]; v.Type == typ {
				names = append(names, v.Name)
			}
		}
	})
	return names
}

// ---------------------------------------------------------------------------
// Edge-activated hat state
// ---------------------------------------------------------------------------

// updateEdgeActivatedValue stores the predicate value for a hat block and
// returns the previous one.
func (t *Target) updateEdgeActivatedValue(blockID string, v bool) bool {
	old := t.edgeValues[blockID]
	t.edgeValues[blockID] = v
	return old
}

// ClearEdgeActivatedValues forgets every edge-activated hat value
func (t *Target) ClearEdgeActivatedValues() {
	t.serialize(func() { clear(t.edgeValues) })
}

// Dispose releases the target's blocks and variables
func (t *Target) Dispose() {
	t.serialize(func() {
		if t.disposed {
			return
		}
		t.disposed = true
		t.variables = make(map[string]*Variable)
		t.varOrder = nil
		clear(t.edgeValues)
		t.Blocks = NewContainer()
	})
}

// Disposed reports whether Dispose has been called
func (t *Target) Disposed() bool {
	var disposed bool
	t.serialize(func() { disposed = t.disposed })
	return disposed
}
