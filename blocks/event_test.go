package blocks

import (
	"fmt"
	"testing"
	"time"

	"github.com/chazu/blockvm/engine"
)

func broadcastMenu(id, name string) string {
	return fmt.Sprintf(`<value name="BROADCAST_INPUT"><shadow type="event_broadcast_menu">%s</shadow></value>`,
		refField(broadcastOptionField, id, name))
}

func whenReceived(id, name string) string {
	return block(WhenBroadcastReceived, refField(broadcastOptionField, id, name))
}

func TestBroadcast(t *testing.T) {
	h := newHarness(t, 0, xmlDoc(
		variables(messageVar("m1", "go"), scalarVar("x", "x")),
		flagScript(block("event_broadcast", broadcastMenu("m1", "go"))),
		script(whenReceived("m1", "go"), setVar("x", numInput("VALUE", 1))),
	))
	if n := h.clock.Drain(10); n != 1 {
		t.Errorf("broadcast run took %d ticks, want 1", n)
	}
	if got := h.variable(t, "x"); got != "1" {
		t.Errorf("x = %q, want 1", got)
	}
	if len(h.rt.Threads()) != 0 || h.rt.IsRunning() {
		t.Error("runtime should be idle once the receiver finished")
	}
}

func TestBroadcastByName(t *testing.T) {
	h := newHarness(t, 0, xmlDoc(
		variables(messageVar("m1", "go")),
		// A computed message name is looked up among the declared messages.
		flagScript(block("event_broadcast", blockInput("BROADCAST_INPUT",
			block("operator_join", textInput("STRING1", "g"), textInput("STRING2", "o"))))),
		// A message that was never declared is still delivered by name.
		flagScript(block("event_broadcast", broadcastMenu("", "Undeclared"))),
		script(whenReceived("m1", "go"), changeVar("declared", 1)),
		script(whenReceived("", "undeclared"), changeVar("undeclared", 1)),
		script(whenReceived("", "other"), changeVar("other", 1)),
	))
	h.clock.Drain(10)
	for name, want := range map[string]string{"declared": "1", "undeclared": "1", "other": "<missing>"} {
		if got := h.variable(t, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestBroadcastAndWait(t *testing.T) {
	h := newHarness(t, 0, xmlDoc(
		variables(messageVar("m1", "go"), scalarVar("x", "x")),
		flagScript(
			block("event_broadcastandwait", broadcastMenu("m1", "go")),
			setVar("x", numInput("VALUE", 1)),
		),
		script(whenReceived("m1", "go"), block("probe_ticks", field("NAME", "receiver"), numInput("TIMES", 3))),
	))
	for i := 1; i <= 3; i++ {
		h.tick(t)
		if got := h.variable(t, "x"); got != "0" {
			t.Fatalf("x = %q after tick %d, want the sender still waiting", got, i)
		}
	}
	if got := h.probe.count("receiver"); got != 3 {
		t.Errorf("receiver ran %d times, want 3", got)
	}
	h.tick(t)
	if got := h.variable(t, "x"); got != "1" {
		t.Errorf("x = %q after tick 4, want 1", got)
	}
}

func TestBroadcastAndWaitWithoutReceivers(t *testing.T) {
	h := newHarness(t, 0, xmlDoc(
		variables(messageVar("m1", "nobody")),
		flagScript(
			block("event_broadcastandwait", broadcastMenu("m1", "nobody")),
			setVar("x", numInput("VALUE", 1)),
		),
	))
	h.tick(t)
	if got := h.variable(t, "x"); got != "1" {
		t.Errorf("x = %q, a broadcast nobody receives should not wait", got)
	}
}

func TestBroadcastRestartsReceiver(t *testing.T) {
	h := newHarness(t, 0, xmlDoc(
		variables(messageVar("m1", "go")),
		script(whenReceived("m1", "go"), block("probe_ticks", field("NAME", "receiver"), numInput("TIMES", 3))),
		// Keeps the runtime alive while the test triggers the hat.
		flagScript(block("probe_spin", field("NAME", "keepalive"))),
	))
	first, err := h.rt.StartHats(WhenBroadcastReceived, map[string]string{broadcastOptionField: "go"}, nil)
	if err != nil || len(first) != 1 {
		t.Fatalf("StartHats = %v, %v", first, err)
	}
	h.tick(t)
	again, _ := h.rt.StartHats(WhenBroadcastReceived, map[string]string{broadcastOptionField: "GO"}, nil)
	if len(again) != 1 || again[0] == first[0] {
		t.Fatal("a second broadcast should restart the receiver")
	}
	h.clock.Drain(5)
	if got := h.probe.count("receiver"); got != 4 {
		t.Errorf("receiver ran %d times, want 1 before the restart and 3 after", got)
	}
}

func TestWhenKeyPressed(t *testing.T) {
	h := newHarness(t, 0, xmlDoc(
		script(block(WhenKeyPressed, field("KEY_OPTION", "space")), changeVar("presses", 1)),
		flagScript(block("probe_spin", field("NAME", "keepalive"))),
	))
	if got, _ := h.rt.StartHats(WhenKeyPressed, map[string]string{"KEY_OPTION": "a"}, nil); len(got) != 0 {
		t.Error("wrong key started the script")
	}
	if got, _ := h.rt.StartHats(WhenKeyPressed, map[string]string{"KEY_OPTION": "SPACE"}, nil); len(got) != 1 {
		t.Fatal("space did not start the script")
	}
	h.tick(t)
	if got := h.variable(t, "presses"); got != "1" {
		t.Errorf("presses = %q, want 1", got)
	}
}

func TestWhenTimerGreaterThan(t *testing.T) {
	h := newHarness(t, 0, xmlDoc(
		script(
			block(WhenGreaterThan, field("WHENGREATERTHANMENU", "TIMER"), numInput("VALUE", 1)),
			changeVar("fired", 1),
		),
		script(
			block(WhenGreaterThan, field("WHENGREATERTHANMENU", "LOUDNESS"), numInput("VALUE", 10)),
			changeVar("loud", 1),
		),
		flagScript(block("probe_spin", field("NAME", "keepalive"))),
	))

	fired := func() string { return h.variable(t, "fired") }
	h.tick(t)
	if fired() != "<missing>" {
		t.Fatal("timer hat fired before the threshold")
	}
	h.now.Advance(2 * time.Second)
	h.tick(t)
	h.tick(t)
	if fired() != "1" {
		t.Fatalf("fired = %q, want exactly one firing on the rising edge", fired())
	}

	if err := h.rt.GreenFlag(); err != nil {
		t.Fatal(err)
	}
	h.tick(t)
	if fired() != "1" {
		t.Fatal("timer should restart at the green flag")
	}
	h.now.Advance(2 * time.Second)
	h.tick(t)
	if fired() != "2" {
		t.Errorf("fired = %q after the timer passed the threshold again, want 2", fired())
	}
	if got := h.variable(t, "loud"); got != "<missing>" {
		t.Errorf("loudness hat fired without audio input: %q", got)
	}
}

func TestGreaterThanPredicate(t *testing.T) {
	prim := Event{}.Primitives()[WhenGreaterThan]
	res, err := prim(engine.NewArgs(map[string]engine.Value{
		"WHENGREATERTHANMENU": engine.String("LOUDNESS"),
		"VALUE":               engine.Number(-1),
	}, nil), nil)
	if err != nil || !res.(engine.Value).ToBoolean() {
		t.Errorf("loudness > -1 = %v, %v, want true", res, err)
	}
	res, _ = prim(engine.NewArgs(map[string]engine.Value{"WHENGREATERTHANMENU": engine.String("pitch")}, nil), nil)
	if res.(engine.Value).ToBoolean() {
		t.Error("unknown menu option should be false")
	}
}
