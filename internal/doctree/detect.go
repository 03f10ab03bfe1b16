package doctree

// previewChars bounds the preview text shown when asking the operator to
// confirm include-opaque mode.
const previewChars = 50

// OpaqueInfo describes one opaque node that contains editable text. The
// session controller surfaces these so a human can decide whether the edit
// surface should include text inside opaque structures.
type OpaqueInfo struct {
	Path          Path   `json:"path"`
	Type          string `json:"type"`
	Preview       string `json:"preview"`
	TextLeafCount int    `json:"text_leaf_count"`
}

// ScanOpaque walks the tree and reports every outermost opaque node that
// contains at least one text leaf. Nested opaque nodes are covered by their
// outermost ancestor and not reported separately.
func ScanOpaque(root *Node, opaque TypeSet) []OpaqueInfo {
	if opaque == nil {
		opaque = DefaultOpaqueTypes
	}
	var infos []OpaqueInfo
	scanOpaque(root, nil, opaque, &infos)
	return infos
}

func scanOpaque(n *Node, p Path, opaque TypeSet, infos *[]OpaqueInfo) {
	if n == nil {
		return
	}
	if opaque.IsOpaque(n) {
		count := CountTextLeaves(n)
		if count > 0 {
			*infos = append(*infos, OpaqueInfo{
				Path:          p.Clone(),
				Type:          OpaqueIdentifier(n),
				Preview:       truncate(InnerText(n), previewChars),
				TextLeafCount: count,
			})
		}
		return
	}
	for i, c := range n.Content {
		scanOpaque(c, p.Child(i), opaque, infos)
	}
}

// OpaqueIdentifier picks the most specific name for an opaque node: its
// extension key, its panel type, or the node type itself.
func OpaqueIdentifier(n *Node) string {
	if n.Attrs != nil {
		if key, ok := n.Attrs["extensionKey"].(string); ok && key != "" {
			return key
		}
		if pt, ok := n.Attrs["panelType"].(string); ok && pt != "" {
			return pt
		}
	}
	return n.Type
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
