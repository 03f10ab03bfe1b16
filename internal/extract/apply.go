package extract

import (
	"fmt"

	"github.com/dgallion1/pageedit/internal/doctree"
)

// PathMismatchError means a change's path no longer resolves to the text
// leaf it was extracted from (snapshot drift). The change is skipped, never
// guessed.
type PathMismatchError struct {
	Path   doctree.Path
	Reason string
}

func (e *PathMismatchError) Error() string {
	return fmt.Sprintf("path mismatch at %s: %s", e.Path, e.Reason)
}

// ApplyChanges applies text changes to a deep copy of root and returns the
// new tree; the input tree is never mutated. Each change's target must still
// be a text leaf carrying exactly the extracted old text; a mismatched change
// is dropped and reported, the rest still apply.
func (e *Extractor) ApplyChanges(root *doctree.Node, changes []TextChange) (*doctree.Node, []error) {
	out := root.DeepCopy()
	var errs []error
	for _, ch := range changes {
		n, err := doctree.NodeAt(out, ch.Path)
		if err != nil {
			errs = append(errs, &PathMismatchError{Path: ch.Path.Clone(), Reason: err.Error()})
			continue
		}
		if n.Type != "text" {
			errs = append(errs, &PathMismatchError{Path: ch.Path.Clone(), Reason: fmt.Sprintf("expected text node, found %q", n.Type)})
			continue
		}
		if n.Text != ch.OldText {
			errs = append(errs, &PathMismatchError{Path: ch.Path.Clone(), Reason: "node text differs from extracted snapshot"})
			continue
		}
		n.Text = ch.NewText
	}
	return out, errs
}
