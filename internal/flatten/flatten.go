// Package flatten renders a document tree into a single flat, editable
// markdown-like surface. Rendering is one-directional and lossy: the output
// is handed to an external editor and later reconciled against the original
// text leaves by the diff package, never parsed back into a tree.
package flatten

import (
	"fmt"
	"strings"

	"github.com/dgallion1/pageedit/internal/doctree"
	"github.com/dgallion1/pageedit/internal/extract"
)

// Renderer produces the flat edit surface for a tree.
type Renderer struct {
	opaque doctree.TypeSet
}

// New creates a renderer. A nil type set means doctree.DefaultOpaqueTypes.
func New(opaque doctree.TypeSet) *Renderer {
	if opaque == nil {
		opaque = doctree.DefaultOpaqueTypes
	}
	return &Renderer{opaque: opaque}
}

// Placeholder is the inert token emitted where an opaque subtree was
// excluded from the edit surface. It parses as an HTML comment, which the
// diff segmentation skips, so edits around it never bleed into the macro.
func Placeholder(id string) string {
	return fmt.Sprintf("<!-- opaque: %s -->", id)
}

// Render flattens the tree: headings as #-prefixed lines, paragraphs as
// lines, lists as bulleted or numbered lines, code as fenced blocks, quotes
// with > prefixes. Under SkipOpaque, opaque subtrees collapse to a
// placeholder token; under IncludeOpaque their inner blocks render inline.
func (r *Renderer) Render(root *doctree.Node, mode extract.Mode) string {
	var lines []string
	r.block(root, mode, &lines)

	out := strings.Join(lines, "\n")
	out = strings.Trim(out, "\n")
	return out
}

func (r *Renderer) block(n *doctree.Node, mode extract.Mode, lines *[]string) {
	if n == nil {
		return
	}
	if r.opaque.IsOpaque(n) {
		*lines = append(*lines, Placeholder(doctree.OpaqueIdentifier(n)), "")
		if mode == extract.SkipOpaque {
			return
		}
	}

	switch n.Type {
	case "heading":
		level := intAttr(n.Attrs, "level", 1)
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		*lines = append(*lines, strings.Repeat("#", level)+" "+r.inlineText(n, mode), "")

	case "paragraph":
		t := r.inlineText(n, mode)
		if strings.TrimSpace(t) != "" {
			*lines = append(*lines, t, "")
		}

	case "bulletList", "orderedList":
		r.listItems(n, mode, lines, "")
		*lines = append(*lines, "")

	case "codeBlock":
		lang := strAttr(n.Attrs, "language")
		*lines = append(*lines, "```"+lang)
		*lines = append(*lines, strings.Split(r.inlineText(n, mode), "\n")...)
		*lines = append(*lines, "```", "")

	case "blockquote":
		for _, child := range n.Content {
			for _, line := range strings.Split(r.inlineText(child, mode), "\n") {
				*lines = append(*lines, "> "+line)
			}
		}
		*lines = append(*lines, "")

	default:
		// doc, tables, opaque containers in IncludeOpaque mode: recurse.
		for _, c := range n.Content {
			r.block(c, mode, lines)
		}
	}
}

// listItems renders one list level. Each item's block children are joined
// with single spaces so sibling paragraphs never run together; nested lists
// render as their own indented lines.
func (r *Renderer) listItems(list *doctree.Node, mode extract.Mode, lines *[]string, indent string) {
	for i, item := range list.Content {
		marker := "- "
		if list.Type == "orderedList" {
			marker = fmt.Sprintf("%d. ", i+1)
		}
		var parts []string
		var nested []*doctree.Node
		for _, child := range item.Content {
			switch child.Type {
			case "bulletList", "orderedList":
				nested = append(nested, child)
			default:
				if r.opaque.IsOpaque(child) && mode == extract.SkipOpaque {
					continue
				}
				if t := strings.TrimSpace(r.inlineText(child, mode)); t != "" {
					parts = append(parts, t)
				}
			}
		}
		*lines = append(*lines, indent+marker+strings.Join(parts, " "))
		for _, sub := range nested {
			r.listItems(sub, mode, lines, indent+"  ")
		}
	}
}

// inlineText concatenates the text leaves under n in document order.
// Hard breaks become newlines. Under SkipOpaque, inline opaque nodes
// contribute nothing.
func (r *Renderer) inlineText(n *doctree.Node, mode extract.Mode) string {
	var sb strings.Builder
	var walk func(*doctree.Node)
	walk = func(node *doctree.Node) {
		if node != n && r.opaque.IsOpaque(node) && mode == extract.SkipOpaque {
			return
		}
		switch node.Type {
		case "text":
			sb.WriteString(node.Text)
		case "hardBreak":
			sb.WriteString("\n")
		}
		for _, c := range node.Content {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func intAttr(attrs map[string]any, key string, fallback int) int {
	if attrs == nil {
		return fallback
	}
	switch v := attrs[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func strAttr(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	if s, ok := attrs[key].(string); ok {
		return s
	}
	return ""
}
