// Package export converts a page's storage (XHTML) body to markdown for
// read-only consumption. Unlike the flatten package this is not part of the
// edit roundtrip: the output keeps macro content inline and is never diffed
// back.
package export

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// admonitions are the macro names rendered as quoted callouts.
var admonitions = map[string]bool{
	"info":    true,
	"note":    true,
	"warning": true,
	"tip":     true,
}

// StorageToMarkdown converts storage-format XHTML to markdown. Code macros
// become fenced blocks, admonition macros become quotes, and any other macro
// is replaced by a placeholder comment.
func StorageToMarkdown(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse storage body: %w", err)
	}

	c := &converter{}
	if body := findBody(doc); body != nil {
		c.walk(body)
	} else {
		c.walk(doc)
	}
	return strings.Join(c.blocks, "\n\n"), nil
}

type converter struct {
	blocks []string
}

func (c *converter) add(block string) {
	if block != "" {
		c.blocks = append(c.blocks, block)
	}
}

func (c *converter) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if level := headingLevel(n.Data); level > 0 {
			c.add(strings.Repeat("#", level) + " " + textContent(n))
			return
		}
		switch n.Data {
		case "script", "style":
			return
		case "p":
			c.add(textContent(n))
			return
		case "ul":
			c.list(n, false)
			return
		case "ol":
			c.list(n, true)
			return
		case "pre":
			if t := strings.TrimRight(rawText(n), "\n"); t != "" {
				c.add("```\n" + t + "\n```")
			}
			return
		case "blockquote":
			if t := textContent(n); t != "" {
				c.add("> " + strings.ReplaceAll(t, "\n", "\n> "))
			}
			return
		case "table":
			c.table(n)
			return
		case "ac:structured-macro":
			c.macro(n)
			return
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child)
	}
}

func (c *converter) list(n *html.Node, ordered bool) {
	var lines []string
	i := 0
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || child.Data != "li" {
			continue
		}
		i++
		if ordered {
			lines = append(lines, fmt.Sprintf("%d. %s", i, textContent(child)))
		} else {
			lines = append(lines, "- "+textContent(child))
		}
	}
	c.add(strings.Join(lines, "\n"))
}

func (c *converter) table(n *html.Node) {
	var rows []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for td := n.FirstChild; td != nil; td = td.NextSibling {
				if td.Type == html.ElementNode && (td.Data == "td" || td.Data == "th") {
					cells = append(cells, textContent(td))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
				if len(rows) == 1 {
					rows = append(rows, "|"+strings.Repeat(" --- |", len(cells)))
				}
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	c.add(strings.Join(rows, "\n"))
}

func (c *converter) macro(n *html.Node) {
	name := attrVal(n, "ac:name")
	switch {
	case name == "code":
		lang := ""
		if p := findParam(n, "language"); p != nil {
			lang = textContent(p)
		}
		body := ""
		if b := findElement(n, "ac:plain-text-body"); b != nil {
			body = strings.TrimRight(rawText(b), "\n")
		}
		c.add("```" + lang + "\n" + body + "\n```")
	case admonitions[name]:
		content := ""
		if b := findElement(n, "ac:rich-text-body"); b != nil {
			content = textContent(b)
		}
		c.add(fmt.Sprintf("> **%s**: %s", name, content))
	default:
		c.add(fmt.Sprintf("<!-- macro: %s -->", name))
	}
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// textContent collapses an element's text, normalizing whitespace runs.
func textContent(n *html.Node) string {
	var buf strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// rawText preserves whitespace, for code bodies. CDATA sections survive the
// HTML parser as comment nodes, so those are unwrapped too.
func rawText(n *html.Node) string {
	var buf strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
		case html.CommentNode:
			if d, ok := strings.CutPrefix(n.Data, "[CDATA["); ok {
				buf.WriteString(strings.TrimSuffix(d, "]]"))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return buf.String()
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findParam locates an ac:parameter child with the given ac:name.
func findParam(n *html.Node, name string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "ac:parameter" && attrVal(c, "ac:name") == name {
			return c
		}
	}
	return nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
