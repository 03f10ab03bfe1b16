package doctree

import (
	"strings"
	"testing"
)

func TestValidate_OK(t *testing.T) {
	if errs := Validate(sampleTree()); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		tree *Node
		want string
	}{
		{
			"non-doc root",
			&Node{Type: "paragraph", Content: []*Node{}},
			"root type",
		},
		{
			"missing content",
			&Node{Type: "doc"},
			"no content",
		},
		{
			"unrecognized type",
			&Node{Type: "doc", Content: []*Node{{Type: "widget"}}},
			"unrecognized node type",
		},
		{
			"text node with children",
			&Node{Type: "doc", Content: []*Node{
				{Type: "text", Text: "x", Content: []*Node{{Type: "text", Text: "y"}}},
			}},
			"must not have children",
		},
		{
			"empty text leaf",
			&Node{Type: "doc", Content: []*Node{{Type: "text"}}},
			"empty text",
		},
		{
			"container with text",
			&Node{Type: "doc", Content: []*Node{{Type: "paragraph", Text: "stray"}}},
			"must not carry text",
		},
		{
			"extension missing key",
			&Node{Type: "doc", Content: []*Node{{Type: "bodiedExtension"}}},
			"missing extensionKey",
		},
		{
			"panel missing panelType",
			&Node{Type: "doc", Content: []*Node{{Type: "panel"}}},
			"missing panelType",
		},
	}
	for _, tt := range tests {
		errs := Validate(tt.tree)
		if len(errs) == 0 {
			t.Errorf("%s: expected validation errors, got none", tt.name)
			continue
		}
		found := false
		for _, e := range errs {
			if strings.Contains(e.Error(), tt.want) {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: expected an error containing %q, got %v", tt.name, tt.want, errs)
		}
	}
}

func TestValidate_NilTree(t *testing.T) {
	errs := Validate(nil)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "nil") {
		t.Errorf("expected single nil-tree error, got %v", errs)
	}
}
