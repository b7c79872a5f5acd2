package engine

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

// BranchInputPrefix marks statement inputs that hold C-block branches.
// Branch inputs are never evaluated as arguments.
const BranchInputPrefix = "SUBSTACK"

// Input links a named slot on a block to the block plugged into it and,
// if one exists, the shadow that sits underneath.
type Input struct {
	Name     string
	BlockID  string
	ShadowID string
}

// Field is a literal value on a block. ID is set for variable-like fields.
type Field struct {
	Name         string
	ID           string
	Value        string
	VariableType string
}

// Block is a single node of the block graph.
type Block struct {
	ID       string
	Opcode   string
	Inputs   []Input // document order
	Fields   []Field // document order
	Mutation map[string]string
	Next     string
	TopLevel bool
	Parent   string
	Shadow   bool
	Comment  string
	X, Y     string
}

// Input returns the named input
func (b *Block) Input(name string) (Input, bool) {
	for _, in := range b.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Field returns the named field
func (b *Block) Field(name string) (Field, bool) {
	for _, f := range b.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (b *Block) setInput(in Input) {
	for i := range b.Inputs {
		if b.Inputs[i].Name == in.Name {
			b.Inputs[i] = in
			return
		}
	}
	b.Inputs = append(b.Inputs, in)
}

func (b *Block) setField(f Field) {
	for i := range b.Fields {
		if b.Fields[i].Name == f.Name {
			b.Fields[i] = f
			return
		}
	}
	b.Fields = append(b.Fields, f)
}

// ---------------------------------------------------------------------------
// Script cache
// ---------------------------------------------------------------------------

// ScriptCache describes one script rooted at a hat, with the hat's fields
// (and, for hats without fields, the fields of its input shadows) upper-cased
// for matching.
type ScriptCache struct {
	BlockID        string
	FieldsOfInputs map[string]Field
}

func newScriptCache(c *Container, scriptID string) *ScriptCache {
	sc := &ScriptCache{
		BlockID:        scriptID,
		FieldsOfInputs: make(map[string]Field),
	}
	block := c.Block(scriptID)
	if block == nil {
		return sc
	}
	for _, f := range block.Fields {
		sc.FieldsOfInputs[f.Name] = f
	}
	if len(block.Fields) == 0 {
		for _, in := range c.ValueInputs(block) {
			inputBlock := c.Block(in.BlockID)
			if inputBlock == nil {
				continue
			}
			for _, f := range inputBlock.Fields {
				sc.FieldsOfInputs[f.Name] = f
			}
		}
	}
	for name, f := range sc.FieldsOfInputs {
		f.Value = strings.ToUpper(f.Value)
		sc.FieldsOfInputs[name] = f
	}
	return sc
}

// ---------------------------------------------------------------------------
// Container
// ---------------------------------------------------------------------------

// Container owns every block of one target. It keeps blocks in creation
// order so that script iteration is deterministic.
type Container struct {
	blocks  map[string]*Block
	order   []string
	scripts []string

	// derived views, dropped on every structural change
	byOpcode map[string][]*ScriptCache
	procDefs map[string]string
}

// NewContainer creates an empty block container
func NewContainer() *Container {
	return &Container{
		blocks: make(map[string]*Block),
	}
}

func (c *Container) resetCache() {
	c.byOpcode = nil
	c.procDefs = nil
}

// CreateScripts parses a workspace document into this container and returns
// the variable declarations it carries.
func (c *Container) CreateScripts(r io.Reader) ([]VariableDecl, error) {
	blocks, vars, err := ParseDocument(r)
	for _, b := range blocks {
		c.CreateBlock(b)
	}
	return vars, err
}

// CreateBlock adds a block. Adding an id that already exists is a no-op.
func (c *Container) CreateBlock(b *Block) {
	if b == nil || b.ID == "" {
		return
	}
	if _, ok := c.blocks[b.ID]; ok {
		return
	}
	c.blocks[b.ID] = b
	c.order = append(c.order, b.ID)
	if b.TopLevel {
		c.scripts = append(c.scripts, b.ID)
	}
	c.resetCache()
}

// DeleteBlock removes a block together with everything reachable from its
// inputs and next link.
func (c *Container) DeleteBlock(id string) {
	b, ok := c.blocks[id]
	if !ok {
		return
	}
	for _, in := range b.Inputs {
		if in.BlockID != "" {
			c.DeleteBlock(in.BlockID)
		}
		if in.ShadowID != "" && in.ShadowID != in.BlockID {
			c.DeleteBlock(in.ShadowID)
		}
	}
	if b.Next != "" {
		c.DeleteBlock(b.Next)
	}
	delete(c.blocks, id)
	c.order = removeString(c.order, id)
	c.scripts = removeString(c.scripts, id)
	c.resetCache()
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Block returns the block with the given id, or nil
func (c *Container) Block(id string) *Block {
	if id == "" {
		return nil
	}
	return c.blocks[id]
}

// Len returns the number of blocks
func (c *Container) Len() int {
	return len(c.blocks)
}

// Blocks returns all blocks in creation order
func (c *Container) Blocks() []*Block {
	out := make([]*Block, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.blocks[id])
	}
	return out
}

// Opcode returns the opcode of a block, or "" for nil
func (c *Container) Opcode(b *Block) string {
	if b == nil {
		return ""
	}
	return b.Opcode
}

// Scripts returns the ids of all top-level blocks
func (c *Container) Scripts() []string {
	out := make([]string, len(c.scripts))
	copy(out, c.scripts)
	return out
}

// NextBlock returns the id of the block after id in its stack
func (c *Container) NextBlock(id string) string {
	b := c.Block(id)
	if b == nil {
		return ""
	}
	return b.Next
}

// Branch returns the first block of branch n (1-based) of a C-block
func (c *Container) Branch(id string, n int) string {
	b := c.Block(id)
	if b == nil {
		return ""
	}
	name := BranchInputPrefix
	if n > 1 {
		name += strconv.Itoa(n)
	}
	in, ok := b.Input(name)
	if !ok {
		return ""
	}
	return in.BlockID
}

// ValueInputs returns the inputs of a block that are evaluated as arguments,
// i.e. everything except branches.
func (c *Container) ValueInputs(b *Block) []Input {
	if b == nil {
		return nil
	}
	out := make([]Input, 0, len(b.Inputs))
	for _, in := range b.Inputs {
		if strings.HasPrefix(in.Name, BranchInputPrefix) {
			continue
		}
		out = append(out, in)
	}
	return out
}

// TopLevelScript walks parent links up to the root of the script holding id
func (c *Container) TopLevelScript(id string) string {
	b := c.Block(id)
	if b == nil {
		return ""
	}
	for b.Parent != "" {
		parent := c.Block(b.Parent)
		if parent == nil {
			break
		}
		b = parent
	}
	return b.ID
}

// ScriptsByOpcode returns the scripts whose root has the given opcode.
// The result is cached until the next structural change.
func (c *Container) ScriptsByOpcode(opcode string) []*ScriptCache {
	if c.byOpcode == nil {
		c.byOpcode = make(map[string][]*ScriptCache)
	}
	if scripts, ok := c.byOpcode[opcode]; ok {
		return scripts
	}
	scripts := make([]*ScriptCache, 0)
	for _, id := range c.scripts {
		if b := c.blocks[id]; b.Opcode == opcode {
			scripts = append(scripts, newScriptCache(c, id))
		}
	}
	c.byOpcode[opcode] = scripts
	return scripts
}

// ---------------------------------------------------------------------------
// Procedures
// ---------------------------------------------------------------------------

// ProcedureDefinition returns the id of the definition hat for proccode
func (c *Container) ProcedureDefinition(proccode string) string {
	if id, ok := c.procDefs[proccode]; ok {
		return id
	}
	for _, id := range c.order {
		b := c.blocks[id]
		if b.Opcode != "procedures_definition" {
			continue
		}
		in, ok := b.Input("custom_block")
		if !ok {
			continue
		}
		inner := c.Block(in.BlockID)
		if inner != nil && inner.Mutation["proccode"] == proccode {
			if c.procDefs == nil {
				c.procDefs = make(map[string]string)
			}
			c.procDefs[proccode] = id
			return id
		}
	}
	return ""
}

// ProcedurePrototype returns the prototype block for proccode
func (c *Container) ProcedurePrototype(proccode string) *Block {
	for _, id := range c.order {
		b := c.blocks[id]
		if b.Opcode == "procedures_prototype" && b.Mutation["proccode"] == proccode {
			return b
		}
	}
	return nil
}

// ProcedureParamNamesAndIDs returns the argument names and ids declared by
// the prototype of proccode. ok is false when no prototype exists.
func (c *Container) ProcedureParamNamesAndIDs(proccode string) (names, ids []string, ok bool) {
	proto := c.ProcedurePrototype(proccode)
	if proto == nil {
		return nil, nil, false
	}
	names = decodeStringList(proto.Mutation["argumentnames"])
	ids = decodeStringList(proto.Mutation["argumentids"])
	return names, ids, true
}

// ProcedureParamDefaults returns the default argument values declared by
// the prototype of proccode
func (c *Container) ProcedureParamDefaults(proccode string) []string {
	proto := c.ProcedurePrototype(proccode)
	if proto == nil {
		return nil
	}
	return decodeStringList(proto.Mutation["argumentdefaults"])
}

// ProcedureWarp reports whether the definition of proccode runs without
// screen refresh.
func (c *Container) ProcedureWarp(proccode string) bool {
	proto := c.ProcedurePrototype(proccode)
	if proto == nil {
		return false
	}
	warp, _ := strconv.ParseBool(proto.Mutation["warp"])
	return warp
}

func decodeStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		logger.Warningf("malformed procedure argument list %q: %v", s, err)
		return nil
	}
	return out
}
