package engine

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is a diagnostic view of a runtime between ticks
type Snapshot struct {
	Running   bool               `cbor:"running"`
	Ticks     uint64             `cbor:"ticks"`
	Threads   []ThreadSnapshot   `cbor:"threads"`
	Variables []VariableSnapshot `cbor:"variables"`
}

// ThreadSnapshot describes one thread in the thread list
type ThreadSnapshot struct {
	Serial     uint64   `cbor:"serial"`
	TopBlock   string   `cbor:"top"`
	Status     string   `cbor:"status"`
	Stack      []string `cbor:"stack"`
	StackClick bool     `cbor:"stackClick"`
	Killed     bool     `cbor:"killed"`
}

// VariableSnapshot is a variable and its value cast to a string. List
// variables also carry their items.
type VariableSnapshot struct {
	ID    string   `cbor:"id"`
	Name  string   `cbor:"name"`
	Type  string   `cbor:"type"`
	Value string   `cbor:"value"`
	Items []string `cbor:"items,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("engine: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot captures the thread list and the target's variables. Killed
// threads are included until the next tick removes them.
func (r *Runtime) Snapshot() (*Snapshot, error) {
	var snap *Snapshot
	err := r.do(func() { snap = r.snapshot() })
	return snap, err
}

func (r *Runtime) snapshot() *Snapshot {
	snap := &Snapshot{Running: r.running, Ticks: r.ticks}
	for _, t := range r.threads {
		snap.Threads = append(snap.Threads, ThreadSnapshot{
			Serial:     t.serial,
			TopBlock:   t.topBlock,
			Status:     t.status.String(),
			Stack:      t.Stack(),
			StackClick: t.stackClick,
			Killed:     t.isKilled,
		})
	}
	for _, v := range r.target.Variables() {
		snap.Variables = append(snap.Variables, variableSnapshot(v))
	}
	return snap
}

func variableSnapshot(v *Variable) VariableSnapshot {
	vs := VariableSnapshot{ID: v.ID, Name: v.Name, Type: v.Type, Value: v.Value.ToString()}
	if v.Value.Type == TypeList && v.Value.List != nil {
		for _, item := range v.Value.List.Items {
			vs.Items = append(vs.Items, item.ToString())
		}
	}
	return vs
}

// Variable returns a copy of the first variable on the runtime's target
// with the given name. Hosts use it instead of reading *Variable fields.
func (r *Runtime) Variable(name string) (VariableSnapshot, bool) {
	var (
		vs VariableSnapshot
		ok bool
	)
	_ = r.do(func() {
		for _, v := range r.target.Variables() {
			if v.Name == name {
				vs, ok = variableSnapshot(v), true
				return
			}
		}
	})
	return vs, ok
}

// Variable returns the snapshot of the variable with the given name
func (s *Snapshot) Variable(name string) (VariableSnapshot, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableSnapshot{}, false
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("engine: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
