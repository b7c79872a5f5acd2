package engine

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// VariableDecl is a variable declared by a workspace document
type VariableDecl struct {
	ID      string
	Name    string
	Type    string
	IsLocal bool
	IsCloud bool
}

// xmlNode is a minimal element tree; the document format only needs
// element names, attributes and text content.
type xmlNode struct {
	name     string
	attrs    []xml.Attr
	children []*xmlNode
	text     strings.Builder
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// textContent returns the concatenated text of the node and its descendants
func (n *xmlNode) textContent() string {
	if len(n.children) == 0 {
		return n.text.String()
	}
	var sb strings.Builder
	sb.WriteString(n.text.String())
	for _, c := range n.children {
		sb.WriteString(c.textContent())
	}
	return sb.String()
}

func parseXML(r io.Reader) (*xmlNode, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	root := &xmlNode{}
	stack := []*xmlNode{root}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return root, fmt.Errorf("engine: parse document: %w", err)
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: strings.ToLower(t.Name.Local), attrs: t.Copy().Attr}
			top.children = append(top.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top.text.Write(t)
		}
	}
	return root, nil
}

// ---------------------------------------------------------------------------
// Document adapter
// ---------------------------------------------------------------------------

type adapter struct {
	blocks map[string]*Block
	order  []string
}

func (a *adapter) add(b *Block) {
	if _, ok := a.blocks[b.ID]; !ok {
		a.order = append(a.order, b.ID)
	}
	a.blocks[b.ID] = b
}

// ParseDocument converts a workspace document into a flat list of blocks
// (parents before children) and the variables it declares. Missing
// attributes and empty slots are skipped; the only error is a document that
// is not XML at all, and even then whatever parsed before the error is
// returned.
func ParseDocument(r io.Reader) ([]*Block, []VariableDecl, error) {
	root, err := parseXML(r)
	a := &adapter{blocks: make(map[string]*Block)}
	var vars []VariableDecl

	top := root.children
	// A document is normally wrapped in <xml>, but accept a bare block too.
	if len(top) == 1 && top[0].name != "block" && top[0].name != "shadow" && top[0].name != "variables" {
		top = top[0].children
	}
	for _, n := range top {
		switch n.name {
		case "block", "shadow":
			a.domToBlock(n, true, "")
		case "variables":
			for _, v := range n.children {
				if v.name != "variable" {
					continue
				}
				vars = append(vars, VariableDecl{
					ID:      v.attr("id"),
					Name:    v.textContent(),
					Type:    v.attr("type"),
					IsLocal: v.attr("islocal") == "true",
					IsCloud: v.attr("iscloud") == "true",
				})
			}
		}
	}

	blocks := make([]*Block, 0, len(a.order))
	for _, id := range a.order {
		blocks = append(blocks, a.blocks[id])
	}
	return blocks, vars, err
}

// domToBlock builds the block for n and everything nested under it, and
// returns the new block's id.
func (a *adapter) domToBlock(n *xmlNode, topLevel bool, parent string) string {
	b := &Block{
		ID:       n.attr("id"),
		Opcode:   n.attr("type"),
		TopLevel: topLevel,
		Parent:   parent,
		Shadow:   n.name == "shadow",
		X:        n.attr("x"),
		Y:        n.attr("y"),
	}
	if b.ID == "" {
		b.ID = NewUID()
	}
	a.add(b)

	for _, child := range n.children {
		var blockNode, shadowNode *xmlNode
		for _, gc := range child.children {
			switch gc.name {
			case "block":
				blockNode = gc
			case "shadow":
				shadowNode = gc
			}
		}
		// Use the shadow only if there is no real block.
		if blockNode == nil && shadowNode != nil {
			blockNode = shadowNode
		}

		switch child.name {
		case "field":
			b.setField(Field{
				Name:         child.attr("name"),
				ID:           child.attr("id"),
				Value:        child.textContent(),
				VariableType: child.attr("variabletype"),
			})
		case "comment":
			b.Comment = child.attr("id")
		case "value", "statement":
			if blockNode == nil {
				continue
			}
			in := Input{Name: child.attr("name")}
			in.BlockID = a.domToBlock(blockNode, false, b.ID)
			if shadowNode != nil {
				if shadowNode == blockNode {
					in.ShadowID = in.BlockID
				} else {
					in.ShadowID = a.domToBlock(shadowNode, false, b.ID)
				}
			}
			b.setInput(in)
		case "next":
			if blockNode == nil {
				continue
			}
			b.Next = a.domToBlock(blockNode, false, b.ID)
		case "mutation":
			b.Mutation = make(map[string]string, len(child.attrs))
			for _, attr := range child.attrs {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				b.Mutation[attr.Name.Local] = attr.Value
			}
		}
	}
	return b.ID
}
