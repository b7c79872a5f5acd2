package engine

import (
	"reflect"
	"testing"
)

type stubPackage struct {
	name  string
	prims map[string]Primitive
	hats  map[string]HatMeta
}

func (p stubPackage) Name() string                     { return p.name }
func (p stubPackage) Primitives() map[string]Primitive { return p.prims }

type stubHatPackage struct {
	stubPackage
}

func (p stubHatPackage) Hats() map[string]HatMeta { return p.hats }

func constant(v Value) Primitive {
	return func(Args, *BlockUtility) (Result, error) { return v, nil }
}

func TestRegistryOverride(t *testing.T) {
	first := stubPackage{name: "first", prims: map[string]Primitive{
		"looks_say":   constant(String("first")),
		"looks_think": constant(String("think")),
	}}
	second := stubPackage{name: "second", prims: map[string]Primitive{
		"looks_say": constant(String("second")),
	}}

	r, err := NewRegistry(first, second)
	if err != nil {
		t.Fatal(err)
	}
	prim, ok := r.Primitive("looks_say")
	if !ok {
		t.Fatal("looks_say not registered")
	}
	res, _ := prim(Args{}, nil)
	if res.(Value).ToString() != "second" {
		t.Errorf("looks_say = %v, want the later package to win", res)
	}
	if r.Owner("looks_say") != "second" || r.Owner("looks_think") != "first" {
		t.Errorf("owners = %q, %q", r.Owner("looks_say"), r.Owner("looks_think"))
	}
	if got := r.Packages(); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("Packages() = %v", got)
	}
}

func TestRegistryHats(t *testing.T) {
	events := stubHatPackage{stubPackage{name: "events", hats: map[string]HatMeta{
		"event_whenflagclicked": {RestartExistingThreads: true},
		"event_whenloud":        {EdgeActivated: true},
		"event_whentimer":       {EdgeActivated: true},
	}}}
	sensing := stubHatPackage{stubPackage{name: "sensing", hats: map[string]HatMeta{
		"event_whenloud": {},
		"sensing_whenon": {EdgeActivated: true},
	}}}

	r, err := NewRegistry(events, sensing)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsHat("event_whenflagclicked") || r.IsHat("looks_say") {
		t.Error("IsHat mismatch")
	}
	if meta, _ := r.Hat("event_whenflagclicked"); !meta.RestartExistingThreads {
		t.Error("flag hat should restart existing threads")
	}
	// event_whenloud was redefined as a plain hat, so it is no longer polled.
	if got := r.EdgeActivatedHats(); !reflect.DeepEqual(got, []string{"event_whentimer", "sensing_whenon"}) {
		t.Errorf("EdgeActivatedHats() = %v", got)
	}
}

func TestRegistryNilPackage(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Error("expected an error for a nil package")
	}
}

func TestRegistrySuggest(t *testing.T) {
	r, err := NewRegistry(stubPackage{name: "p", prims: map[string]Primitive{
		"control_repeat":  constant(Undefined()),
		"control_forever": constant(Undefined()),
		"data_variable":   constant(Undefined()),
	}})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		in, want string
	}{
		{"control_repaet", "control_repeat"},
		{"control_forevr", "control_forever"},
		{"motion_movesteps", ""},
	}
	for _, tt := range tests {
		if got := r.Suggest(tt.in); got != tt.want {
			t.Errorf("Suggest(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestArgs(t *testing.T) {
	args := NewArgs(
		map[string]Value{"NUM": String("4"), "FLAG": String("false")},
		map[string]FieldRef{"VARIABLE": {ID: "v1", Name: "score"}},
	)
	if args.Number("NUM") != 4 || args.Bool("FLAG") || args.String("NUM") != "4" {
		t.Error("value accessors mismatch")
	}
	if !args.Value("MISSING").IsUndefined() || args.Has("MISSING") {
		t.Error("missing argument should be undefined")
	}
	if ref, ok := args.Ref("VARIABLE"); !ok || ref.ID != "v1" || !args.Has("VARIABLE") {
		t.Errorf("Ref(VARIABLE) = %+v, %v", ref, ok)
	}
}
