package engine

import (
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"
)

// Result is what a primitive hands back to the evaluator: a Value, a
// *Promise, or nil for no value.
type Result interface {
	isResult()
}

// Primitive implements one opcode
type Primitive func(args Args, util *BlockUtility) (Result, error)

// HatMeta describes how a hat opcode reacts to triggers
type HatMeta struct {
	RestartExistingThreads bool
	EdgeActivated          bool
}

// Package is a named set of primitives
type Package interface {
	Name() string
	Primitives() map[string]Primitive
}

// HatProvider is implemented by packages that define hats
type HatProvider interface {
	Hats() map[string]HatMeta
}

// FieldRef names a variable, list or broadcast message by id and name
type FieldRef struct {
	ID   string
	Name string
}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

// Args holds the evaluated inputs and fields of a block
type Args struct {
	values   map[string]Value
	refs     map[string]FieldRef
	Mutation map[string]string
}

// NewArgs builds an argument set, mainly for calling primitives directly
func NewArgs(values map[string]Value, refs map[string]FieldRef) Args {
	return Args{values: values, refs: refs}
}

func (a *Args) set(name string, v Value) {
	if a.values == nil {
		a.values = make(map[string]Value)
	}
	a.values[name] = v
}

func (a *Args) setRef(name string, r FieldRef) {
	if a.refs == nil {
		a.refs = make(map[string]FieldRef)
	}
	a.refs[name] = r
}

// Value returns the named argument, or undefined
func (a Args) Value(name string) Value {
	if v, ok := a.values[name]; ok {
		return v
	}
	return Undefined()
}

// Number returns the named argument cast to a number
func (a Args) Number(name string) float64 {
	return a.Value(name).ToNumber()
}

// String returns the named argument cast to a string
func (a Args) String(name string) string {
	return a.Value(name).ToString()
}

// Bool returns the named argument cast to a boolean
func (a Args) Bool(name string) bool {
	return a.Value(name).ToBoolean()
}

// Ref returns a variable-like field reference
func (a Args) Ref(name string) (FieldRef, bool) {
	r, ok := a.refs[name]
	return r, ok
}

// Has reports whether the named argument or reference is present
func (a Args) Has(name string) bool {
	if _, ok := a.values[name]; ok {
		return true
	}
	_, ok := a.refs[name]
	return ok
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps opcodes to primitives and hat metadata. Packages are applied
// in the order given; a later package replaces an earlier package's opcode.
type Registry struct {
	primitives map[string]Primitive
	hats       map[string]HatMeta
	owners     map[string]string
	packages   []string
	edgeHats   []string
}

// NewRegistry registers packages in order
func NewRegistry(pkgs ...Package) (*Registry, error) {
	r := &Registry{
		primitives: make(map[string]Primitive),
		hats:       make(map[string]HatMeta),
		owners:     make(map[string]string),
	}
	for _, p := range pkgs {
		if err := r.register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(p Package) error {
	if p == nil {
		return fmt.Errorf("engine: register nil package")
	}
	name := p.Name()
	r.packages = append(r.packages, name)

	prims := p.Primitives()
	opcodes := make([]string, 0, len(prims))
	for op := range prims {
		opcodes = append(opcodes, op)
	}
	sort.Strings(opcodes)
	for _, op := range opcodes {
		if prev, ok := r.owners[op]; ok && prev != name {
			logger.Debugf("package %s overrides %s from %s", name, op, prev)
		}
		r.primitives[op] = prims[op]
		r.owners[op] = name
	}

	hp, ok := p.(HatProvider)
	if !ok {
		return nil
	}
	hats := hp.Hats()
	opcodes = opcodes[:0]
	for op := range hats {
		opcodes = append(opcodes, op)
	}
	sort.Strings(opcodes)
	for _, op := range opcodes {
		meta := hats[op]
		r.hats[op] = meta
		r.edgeHats = removeString(r.edgeHats, op)
		if meta.EdgeActivated {
			r.edgeHats = append(r.edgeHats, op)
		}
	}
	return nil
}

// Primitive returns the primitive for opcode
func (r *Registry) Primitive(opcode string) (Primitive, bool) {
	p, ok := r.primitives[opcode]
	return p, ok
}

// Hat returns the hat metadata for opcode
func (r *Registry) Hat(opcode string) (HatMeta, bool) {
	h, ok := r.hats[opcode]
	return h, ok
}

// IsHat reports whether opcode is a registered hat
func (r *Registry) IsHat(opcode string) bool {
	_, ok := r.hats[opcode]
	return ok
}

// Owner returns the name of the package that provides opcode
func (r *Registry) Owner(opcode string) string {
	return r.owners[opcode]
}

// Packages returns the package names in registration order
func (r *Registry) Packages() []string {
	out := make([]string, len(r.packages))
	copy(out, r.packages)
	return out
}

// EdgeActivatedHats returns edge-activated hat opcodes in registration order
func (r *Registry) EdgeActivatedHats() []string {
	out := make([]string, len(r.edgeHats))
	copy(out, r.edgeHats)
	return out
}

// Suggest returns the registered opcode closest to an unknown one, or ""
// if nothing is close enough to be a likely typo.
func (r *Registry) Suggest(opcode string) string {
	best, bestDist := "", len(opcode)/3+1
	for op := range r.primitives {
		d := levenshtein.ComputeDistance(opcode, op)
		if d < bestDist || (d == bestDist && best != "" && op < best) {
			best, bestDist = op, d
		}
	}
	return best
}
