package doctree

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Node is a single node of a page document tree. Text-bearing nodes carry
// inline text in Text; container nodes carry children in Content. Marks are
// kept as raw JSON so a decode/patch/encode roundtrip never drops inline
// formatting the editor does not model.
type Node struct {
	Type    string          `json:"type"`
	Attrs   map[string]any  `json:"attrs,omitempty"`
	Content []*Node         `json:"content,omitempty"`
	Text    string          `json:"text,omitempty"`
	Marks   json.RawMessage `json:"marks,omitempty"`
}

// Path addresses a node as a sequence of child indices from the root.
// A path is only meaningful against the exact tree snapshot it was
// computed from.
type Path []int

func (p Path) String() string {
	if len(p) == 0 {
		return "(root)"
	}
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "/")
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Child returns a new path extended by one child index.
func (p Path) Child(i int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = i
	return out
}

// NodeAt resolves a path against root. It returns an error when any index
// falls outside the Content slice it addresses.
func NodeAt(root *Node, p Path) (*Node, error) {
	n := root
	for depth, idx := range p {
		if idx < 0 || idx >= len(n.Content) {
			return nil, fmt.Errorf("path %s: index %d out of range at depth %d (%d children)", p, idx, depth, len(n.Content))
		}
		n = n.Content[idx]
	}
	return n, nil
}

// DeepCopy returns a structurally independent copy of the node, including
// nested attrs values. Mutating the copy never affects the original.
func (n *Node) DeepCopy() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Type: n.Type,
		Text: n.Text,
	}
	if n.Attrs != nil {
		out.Attrs = copyAny(n.Attrs).(map[string]any)
	}
	if n.Marks != nil {
		out.Marks = append(json.RawMessage(nil), n.Marks...)
	}
	if n.Content != nil {
		out.Content = make([]*Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = c.DeepCopy()
		}
	}
	return out
}

// copyAny deep-copies JSON-shaped values (maps, slices, scalars).
func copyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = copyAny(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = copyAny(val)
		}
		return s
	default:
		return v
	}
}

// Marshal serializes a node to JSON. Map keys marshal in sorted order, so
// two structurally equal trees always produce identical bytes; this is what
// the opaque-identity checks compare.
func Marshal(n *Node) ([]byte, error) {
	return json.Marshal(n)
}

// TypeSet is the policy value deciding which node types are opaque. The
// traversal code consults it through IsOpaque; extending "what counts as
// opaque" means swapping the set, not touching traversal logic.
type TypeSet map[string]bool

// DefaultOpaqueTypes covers macro and extension nodes whose substructure the
// editor must preserve exactly.
var DefaultOpaqueTypes = TypeSet{
	"extension":       true,
	"inlineExtension": true,
	"bodiedExtension": true,
	"panel":           true,
	"expand":          true,
}

// IsOpaque reports whether a node is opaque: either its type is in the set,
// or it carries an extension/panel attribute marker.
func (s TypeSet) IsOpaque(n *Node) bool {
	if s[n.Type] {
		return true
	}
	if n.Attrs != nil {
		if _, ok := n.Attrs["extensionKey"]; ok {
			return true
		}
		if _, ok := n.Attrs["panelType"]; ok {
			return true
		}
	}
	return false
}

// InnerText concatenates the text of every text leaf under n, in document
// order, separated by single spaces.
func InnerText(n *Node) string {
	var parts []string
	var walk func(*Node)
	walk = func(node *Node) {
		if node.Type == "text" && node.Text != "" {
			parts = append(parts, node.Text)
		}
		for _, c := range node.Content {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

// CountTextLeaves counts non-blank text leaves under n.
func CountTextLeaves(n *Node) int {
	count := 0
	var walk func(*Node)
	walk = func(node *Node) {
		if node.Type == "text" && strings.TrimSpace(node.Text) != "" {
			count++
		}
		for _, c := range node.Content {
			walk(c)
		}
	}
	walk(n)
	return count
}
