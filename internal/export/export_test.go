package export

import (
	"strings"
	"testing"
)

func convert(t *testing.T, body string) string {
	t.Helper()
	out, err := StorageToMarkdown(strings.NewReader(body))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	return out
}

func TestHeadingsAndParagraphs(t *testing.T) {
	out := convert(t, `<h1>Title</h1><p>First paragraph.</p><h2>Section</h2><p>Second   paragraph
with a wrapped line.</p>`)
	want := "# Title\n\nFirst paragraph.\n\n## Section\n\nSecond paragraph with a wrapped line."
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
}

func TestLists(t *testing.T) {
	out := convert(t, `<ul><li>alpha</li><li>beta</li></ul><ol><li>one</li><li>two</li></ol>`)
	want := "- alpha\n- beta\n\n1. one\n2. two"
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
}

func TestBlockquote(t *testing.T) {
	out := convert(t, `<blockquote>quoted words</blockquote>`)
	if out != "> quoted words" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCodeMacro(t *testing.T) {
	body := `<ac:structured-macro ac:name="code">` +
		`<ac:parameter ac:name="language">go</ac:parameter>` +
		`<ac:plain-text-body>x := 1
y := 2</ac:plain-text-body></ac:structured-macro>`
	out := convert(t, body)
	want := "```go\nx := 1\ny := 2\n```"
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
}

func TestAdmonitionMacro(t *testing.T) {
	body := `<ac:structured-macro ac:name="warning">` +
		`<ac:rich-text-body><p>Do not run this in production.</p></ac:rich-text-body>` +
		`</ac:structured-macro>`
	out := convert(t, body)
	if out != "> **warning**: Do not run this in production." {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUnknownMacroBecomesPlaceholder(t *testing.T) {
	out := convert(t, `<p>before</p><ac:structured-macro ac:name="jira"></ac:structured-macro><p>after</p>`)
	want := "before\n\n<!-- macro: jira -->\n\nafter"
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
}

func TestTable(t *testing.T) {
	out := convert(t, `<table><tr><th>Name</th><th>Role</th></tr><tr><td>ada</td><td>admin</td></tr></table>`)
	want := "| Name | Role |\n| --- | --- |\n| ada | admin |"
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
}

func TestPreBlock(t *testing.T) {
	out := convert(t, "<pre>$ make test\nok</pre>")
	want := "```\n$ make test\nok\n```"
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
}
