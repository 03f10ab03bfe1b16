package doctree

import "fmt"

// ValidationError describes one structural problem found in a tree.
type ValidationError struct {
	Path    Path
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// knownTypes lists every node type the editor recognizes. Anything else is
// flagged rather than silently carried through a patch.
var knownTypes = map[string]bool{
	"doc":             true,
	"paragraph":       true,
	"heading":         true,
	"text":            true,
	"bulletList":      true,
	"orderedList":     true,
	"listItem":        true,
	"codeBlock":       true,
	"blockquote":      true,
	"table":           true,
	"tableRow":        true,
	"tableCell":       true,
	"tableHeader":     true,
	"hardBreak":       true,
	"rule":            true,
	"mediaGroup":      true,
	"mediaSingle":     true,
	"media":           true,
	"inlineCard":      true,
	"status":          true,
	"date":            true,
	"emoji":           true,
	"mention":         true,
	"taskList":        true,
	"taskItem":        true,
	"extension":       true,
	"inlineExtension": true,
	"bodiedExtension": true,
	"panel":           true,
	"expand":          true,
	"nestedExpand":    true,
}

// Validate runs structural sanity checks over a tree. It is called twice per
// edit session: on the fetched tree before extraction, and on the patched
// tree before write.
func Validate(root *Node) []ValidationError {
	var errs []ValidationError
	if root == nil {
		return []ValidationError{{Message: "tree is nil"}}
	}
	if root.Type != "doc" {
		errs = append(errs, ValidationError{Message: fmt.Sprintf("root type must be %q, got %q", "doc", root.Type)})
	}
	if root.Content == nil {
		errs = append(errs, ValidationError{Message: "root has no content"})
	}
	validateNode(root, nil, &errs)
	return errs
}

func validateNode(n *Node, p Path, errs *[]ValidationError) {
	if n == nil {
		*errs = append(*errs, ValidationError{Path: p.Clone(), Message: "node is nil"})
		return
	}
	if n.Type == "" {
		*errs = append(*errs, ValidationError{Path: p.Clone(), Message: "node missing type"})
	} else if !knownTypes[n.Type] {
		*errs = append(*errs, ValidationError{Path: p.Clone(), Message: fmt.Sprintf("unrecognized node type %q", n.Type)})
	}

	if n.Type == "text" {
		if n.Text == "" {
			*errs = append(*errs, ValidationError{Path: p.Clone(), Message: "text node has empty text"})
		}
		if len(n.Content) > 0 {
			*errs = append(*errs, ValidationError{Path: p.Clone(), Message: "text node must not have children"})
		}
	} else if n.Text != "" {
		*errs = append(*errs, ValidationError{Path: p.Clone(), Message: fmt.Sprintf("%s node must not carry text", n.Type)})
	}

	// Opaque nodes need identifying attributes so they can be reported to
	// the operator and matched to their store-side macro definition.
	switch n.Type {
	case "extension", "inlineExtension", "bodiedExtension":
		if _, ok := n.Attrs["extensionKey"]; !ok {
			*errs = append(*errs, ValidationError{Path: p.Clone(), Message: fmt.Sprintf("%s node missing extensionKey attr", n.Type)})
		}
	case "panel":
		if _, ok := n.Attrs["panelType"]; !ok {
			*errs = append(*errs, ValidationError{Path: p.Clone(), Message: "panel node missing panelType attr"})
		}
	}

	for i, c := range n.Content {
		validateNode(c, p.Child(i), errs)
	}
}
