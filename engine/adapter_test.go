package engine

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Document builders shared by the package tests
// ---------------------------------------------------------------------------

func xmlDoc(parts ...string) string {
	return "<xml>" + strings.Join(parts, "") + "</xml>"
}

func block(opcode, id string, parts ...string) string {
	idAttr := ""
	if id != "" {
		idAttr = fmt.Sprintf(` id="%s"`, id)
	}
	return fmt.Sprintf(`<block type="%s"%s>%s</block>`, opcode, idAttr, strings.Join(parts, ""))
}

func field(name, value string) string {
	return fmt.Sprintf(`<field name="%s">%s</field>`, name, value)
}

func numInput(name string, n int) string {
	return fmt.Sprintf(`<value name="%s"><shadow type="math_number"><field name="NUM">%d</field></shadow></value>`, name, n)
}

func valueInput(name, blockXML string) string {
	return fmt.Sprintf(`<value name="%s">%s</value>`, name, blockXML)
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

// ---------------------------------------------------------------------------
// Adapter
// ---------------------------------------------------------------------------

const sampleDoc = `<xml xmlns="http://www.w3.org/1999/xhtml">
  <variables>
    <variable type="" id="var1" islocal="false" iscloud="false">score</variable>
    <variable type="list" id="list1" islocal="true" iscloud="false">items</variable>
    <variable type="broadcast_msg" id="msg1" islocal="false" iscloud="false">go</variable>
  </variables>
  <block type="event_whenflagclicked" id="hat" x="10" y="20">
    <next>
      <block type="control_repeat" id="loop">
        <value name="TIMES">
          <shadow type="math_whole_number" id="times"><field name="NUM">3</field></shadow>
        </value>
        <statement name="SUBSTACK">
          <block type="data_changevariableby" id="change">
            <field name="VARIABLE" id="var1" variabletype="">score</field>
            <value name="VALUE">
              <shadow type="math_number" id="by"><field name="NUM">1</field></shadow>
              <block type="data_variable" id="read">
                <field name="VARIABLE" id="var1" variabletype="">score</field>
              </block>
            </value>
          </block>
        </statement>
      </block>
    </next>
  </block>
  <block type="procedures_definition" id="def" x="200" y="20">
    <statement name="custom_block">
      <shadow type="procedures_prototype" id="proto">
        <mutation proccode="jump %s" argumentids='["arg1"]' argumentnames='["height"]' argumentdefaults='["10"]' warp="true"></mutation>
      </shadow>
    </statement>
    <comment id="note"></comment>
  </block>
</xml>`

func TestParseDocument(t *testing.T) {
	blocks, vars, err := ParseDocument(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	var ids []string
	byID := make(map[string]*Block)
	for _, b := range blocks {
		ids = append(ids, b.ID)
		byID[b.ID] = b
	}
	wantIDs := []string{"hat", "loop", "times", "change", "read", "by", "def", "proto"}
	if !reflect.DeepEqual(ids, wantIDs) {
		t.Fatalf("block order = %v, want %v", ids, wantIDs)
	}

	hat := byID["hat"]
	if !hat.TopLevel || hat.X != "10" || hat.Y != "20" || hat.Next != "loop" {
		t.Errorf("hat = %+v", hat)
	}
	loop := byID["loop"]
	if loop.TopLevel || loop.Parent != "hat" {
		t.Errorf("loop parent = %q, top level %v", loop.Parent, loop.TopLevel)
	}
	if in, ok := loop.Input("TIMES"); !ok || in.BlockID != "times" || in.ShadowID != "times" {
		t.Errorf("TIMES input = %+v", in)
	}
	if !byID["times"].Shadow {
		t.Error("times should be a shadow")
	}
	if in, ok := loop.Input("SUBSTACK"); !ok || in.BlockID != "change" || in.ShadowID != "" {
		t.Errorf("SUBSTACK input = %+v", in)
	}

	change := byID["change"]
	if in, _ := change.Input("VALUE"); in.BlockID != "read" || in.ShadowID != "by" {
		t.Errorf("VALUE input = %+v, want block read over shadow by", in)
	}
	if f, ok := change.Field("VARIABLE"); !ok || f.ID != "var1" || f.Value != "score" {
		t.Errorf("VARIABLE field = %+v", f)
	}
	if byID["by"].Parent != "change" {
		t.Errorf("shadow parent = %q", byID["by"].Parent)
	}

	def := byID["def"]
	if def.Comment != "note" {
		t.Errorf("comment = %q", def.Comment)
	}
	proto := byID["proto"]
	if proto.Mutation["proccode"] != "jump %s" || proto.Mutation["warp"] != "true" {
		t.Errorf("mutation = %v", proto.Mutation)
	}

	wantVars := []VariableDecl{
		{ID: "var1", Name: "score", Type: ""},
		{ID: "list1", Name: "items", Type: "list", IsLocal: true},
		{ID: "msg1", Name: "go", Type: "broadcast_msg"},
	}
	if !reflect.DeepEqual(vars, wantVars) {
		t.Errorf("vars = %+v, want %+v", vars, wantVars)
	}
}

func TestParseDocumentIdempotent(t *testing.T) {
	first, _, err := ParseDocument(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := ParseDocument(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) == 0 || first[0] == second[0] {
		t.Fatal("expected independently built blocks")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("parsing the same document twice gave different block graphs")
	}
}

func TestParseDocumentGeneratesMissingIDs(t *testing.T) {
	blocks, _, err := ParseDocument(strings.NewReader(xmlDoc(script(
		block("event_whenflagclicked", ""),
		block("control_forever", ""),
	))))
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].ID == "" || blocks[0].ID == blocks[1].ID {
		t.Errorf("ids = %q, %q", blocks[0].ID, blocks[1].ID)
	}
	if blocks[0].Next != blocks[1].ID {
		t.Errorf("next = %q, want %q", blocks[0].Next, blocks[1].ID)
	}
}

func TestParseDocumentSkipsEmptySlots(t *testing.T) {
	blocks, _, err := ParseDocument(strings.NewReader(xmlDoc(
		block("control_if", "if",
			`<value name="CONDITION"></value>`,
			`<statement name="SUBSTACK"></statement>`,
			`<next></next>`,
		),
	)))
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if len(blocks[0].Inputs) != 0 || blocks[0].Next != "" {
		t.Errorf("empty slots produced links: %+v", blocks[0])
	}
}

func TestParseDocumentBareBlock(t *testing.T) {
	blocks, _, err := ParseDocument(strings.NewReader(block("probe_count", "solo", field("NAME", "x"))))
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].ID != "solo" || !blocks[0].TopLevel {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestParseDocumentMalformed(t *testing.T) {
	doc := `<xml><block type="probe_count" id="a1"></block><block type="probe_count" id="b1" <</xml>`
	blocks, _, err := ParseDocument(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected an error for malformed XML")
	}
	if len(blocks) == 0 || blocks[0].ID != "a1" {
		t.Errorf("blocks parsed before the error should be kept, got %+v", blocks)
	}
}
