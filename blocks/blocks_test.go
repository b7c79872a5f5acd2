package blocks

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/blockvm/engine"
)

// ---------------------------------------------------------------------------
// Time and probes
// ---------------------------------------------------------------------------

// fakeClock is an injectable time source. Every read advances it by step.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// probe adds a few instrumented blocks next to the standard packages
type probe struct {
	mu    sync.Mutex
	calls map[string]int
	clock *fakeClock
}

func (p *probe) hit(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[name]++
}

func (p *probe) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *probe) Name() string { return "probe" }

func (p *probe) Primitives() map[string]engine.Primitive {
	return map[string]engine.Primitive{
		"probe_redraw": command(func(args engine.Args, util *engine.BlockUtility) {
			p.hit(args.String("NAME"))
			util.Runtime().RequestRedraw()
		}),
		"probe_sleep": command(func(args engine.Args, _ *engine.BlockUtility) {
			p.hit(args.String("NAME"))
			p.clock.Advance(time.Duration(args.Number("MS")) * time.Millisecond)
		}),
		"probe_spin": command(func(args engine.Args, util *engine.BlockUtility) {
			p.hit(args.String("NAME"))
			util.YieldTick()
		}),
		"probe_ticks": command(func(args engine.Args, util *engine.BlockUtility) {
			p.hit(args.String("NAME"))
			loop := util.StackFrame().Loop()
			if !loop.Started {
				loop.Started = true
				loop.Counter = int(args.Number("TIMES"))
			}
			loop.Counter--
			if loop.Counter > 0 {
				util.YieldTick()
			}
		}),
	}
}

// ---------------------------------------------------------------------------
// Runtime harness
// ---------------------------------------------------------------------------

type harness struct {
	rt    *engine.Runtime
	clock *engine.ManualClock
	now   *fakeClock
	probe *probe
}

// newHarness builds a runtime with the standard packages. With step 0 the
// clock is frozen and only moves when a probe or the test advances it.
func newHarness(t *testing.T, step time.Duration, doc string, configure ...func(*engine.Options)) *harness {
	t.Helper()
	h := &harness{
		clock: engine.NewManualClock(),
		now:   &fakeClock{now: time.Unix(1_700_000_000, 0), step: step},
	}
	h.probe = &probe{calls: make(map[string]int), clock: h.now}
	opts := engine.Options{
		Packages:  append(Default(), h.probe),
		Workspace: func() ([]byte, error) { return []byte(doc), nil },
		Clock:     h.clock,
		Now:       h.now.Now,
		Strict:    true,
	}
	for _, f := range configure {
		f(&opts)
	}
	rt, err := engine.New(opts)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = rt.Dispose() })
	h.rt = rt
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if !h.clock.Tick() {
		t.Fatal("tick on a stopped runtime")
	}
}

// variable returns a variable's value as a string, or "<missing>"
func (h *harness) variable(t *testing.T, name string) string {
	t.Helper()
	snap, err := h.rt.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	v, ok := snap.Variable(name)
	if !ok {
		return "<missing>"
	}
	return v.Value
}

// ---------------------------------------------------------------------------
// Document builders
// ---------------------------------------------------------------------------

func xmlDoc(parts ...string) string {
	return "<xml>" + strings.Join(parts, "") + "</xml>"
}

func variables(decls ...string) string {
	return "<variables>" + strings.Join(decls, "") + "</variables>"
}

func scalarVar(id, name string) string {
	return fmt.Sprintf(`<variable type="" id="%s">%s</variable>`, id, name)
}

func listVar(id, name string) string {
	return fmt.Sprintf(`<variable type="list" id="%s">%s</variable>`, id, name)
}

func messageVar(id, name string) string {
	return fmt.Sprintf(`<variable type="broadcast_msg" id="%s">%s</variable>`, id, name)
}

func block(opcode string, parts ...string) string {
	return fmt.Sprintf(`<block type="%s">%s</block>`, opcode, strings.Join(parts, ""))
}

func field(name, value string) string {
	return fmt.Sprintf(`<field name="%s">%s</field>`, name, value)
}

func refField(name, id, value string) string {
	return fmt.Sprintf(`<field name="%s" id="%s">%s</field>`, name, id, value)
}

func numInput(name string, n float64) string {
	return fmt.Sprintf(`<value name="%s"><shadow type="math_number"><field name="NUM">%v</field></shadow></value>`, name, n)
}

func textInput(name, text string) string {
	return fmt.Sprintf(`<value name="%s"><shadow type="text"><field name="TEXT">%s</field></shadow></value>`, name, text)
}

func blockInput(name, blockXML string) string {
	return fmt.Sprintf(`<value name="%s">%s</value>`, name, blockXML)
}

func substack(name string, blocks ...string) string {
	return fmt.Sprintf(`<statement name="%s">%s</statement>`, name, script(blocks...))
}

// script links blocks through their next slots, first block on top
func script(blocks ...string) string {
	out := blocks[len(blocks)-1]
	for i := len(blocks) - 2; i >= 0; i-- {
		b := blocks[i]
		cut := strings.LastIndex(b, "</block>")
		out = b[:cut] + "<next>" + out + "</next>" + b[cut:]
	}
	return out
}

func flagScript(blocks ...string) string {
	return script(append([]string{block(WhenFlagClicked)}, blocks...)...)
}

// setVar and changeVar reference variables by id; the id doubles as the name.
func setVar(id string, value string) string {
	return block("data_setvariableto", refField("VARIABLE", id, id), value)
}

func changeVar(id string, by float64) string {
	return block("data_changevariableby", refField("VARIABLE", id, id), numInput("VALUE", by))
}

func readVar(id string) string {
	return block("data_variable", refField("VARIABLE", id, id))
}
