package extract

import (
	"strings"

	"github.com/dgallion1/pageedit/internal/doctree"
)

// Mode controls whether text inside opaque subtrees is part of the edit
// surface.
type Mode string

const (
	// SkipOpaque excludes every opaque subtree from extraction. Default.
	SkipOpaque Mode = "skip_opaque"
	// IncludeOpaque extracts text leaves inside opaque subtrees too,
	// tagged InsideOpaque. Requires operator confirmation upstream.
	IncludeOpaque Mode = "include_opaque"
)

// TextNode is one extracted text leaf, in document order.
type TextNode struct {
	Path         doctree.Path `json:"path"`
	Text         string       `json:"text"`
	InsideOpaque bool         `json:"inside_opaque"`
}

// TextChange records a text replacement for the leaf at Path. OldText is the
// text at extraction time and doubles as a drift check during apply.
type TextChange struct {
	Path    doctree.Path `json:"path"`
	OldText string       `json:"old_text"`
	NewText string       `json:"new_text"`
}

// Extractor walks a document tree and produces addressable text leaves.
type Extractor struct {
	opaque doctree.TypeSet
}

// New creates an extractor. A nil type set means doctree.DefaultOpaqueTypes.
func New(opaque doctree.TypeSet) *Extractor {
	if opaque == nil {
		opaque = doctree.DefaultOpaqueTypes
	}
	return &Extractor{opaque: opaque}
}

// Extract returns every non-blank text leaf in deterministic pre-order.
// Under SkipOpaque, subtrees rooted at opaque nodes are excluded entirely.
func (e *Extractor) Extract(root *doctree.Node, mode Mode) []TextNode {
	var nodes []TextNode
	e.walk(root, nil, mode, false, &nodes)
	return nodes
}

func (e *Extractor) walk(n *doctree.Node, p doctree.Path, mode Mode, insideOpaque bool, out *[]TextNode) {
	if n == nil {
		return
	}
	opaque := e.opaque.IsOpaque(n)
	if opaque && mode == SkipOpaque {
		return
	}
	if n.Type == "text" && strings.TrimSpace(n.Text) != "" {
		*out = append(*out, TextNode{
			Path:         p.Clone(),
			Text:         n.Text,
			InsideOpaque: insideOpaque,
		})
	}
	for i, c := range n.Content {
		e.walk(c, p.Child(i), mode, insideOpaque || opaque, out)
	}
}
