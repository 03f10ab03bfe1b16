// Package diff reconciles externally edited flat text against the original
// extracted text leaves. Because the editing actor may paraphrase, merge, or
// reorder prose, pairing is fuzzy: each original block is matched by word
// overlap inside a bounded window around its expected slot. The bias is
// firmly conservative: a block with no confident match is left unchanged,
// never deleted, and new paragraphs never create tree nodes.
package diff

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dgallion1/pageedit/internal/extract"
)

const (
	// OverlapThreshold is the minimum word-set overlap for accepting a
	// match. Empirical; below it the leaf is treated as unchanged.
	OverlapThreshold = 0.30

	// MatchWindow is how many slots either side of a block's expected
	// position are searched. Empirical, like the threshold.
	MatchWindow = 8
)

// Diff matches the original text against the segmented edited text and
// returns a change for every confidently matched block whose text differs.
// Matching runs at block granularity: a paragraph whose text is split across
// several leaves (inline marks, mentions) renders as one segment, so the
// comparison must happen against the joined leaf text. Only single-leaf
// blocks are ever patched; an edit to a multi-leaf block cannot be
// attributed to one leaf without guessing, so it is left unchanged.
func Diff(original []extract.TextNode, edited string) []extract.TextChange {
	segs := Segments(edited)
	blocks := groupBlocks(original)
	if len(blocks) == 0 || len(segs) == 0 {
		return nil
	}

	used := make([]bool, len(segs))
	var changes []extract.TextChange

	for i, b := range blocks {
		joined := b.text()
		expected := i * len(segs) / len(blocks)
		lo := max(expected-MatchWindow, 0)
		hi := min(expected+MatchWindow, len(segs)-1)

		best, bestScore := -1, 0.0
		for j := lo; j <= hi; j++ {
			if used[j] {
				continue
			}
			score := wordOverlap(joined, segs[j])
			if score >= OverlapThreshold && score > bestScore {
				best, bestScore = j, score
			}
		}
		if best < 0 {
			// No segment above threshold: leave the block as-is.
			continue
		}
		used[best] = true
		if segs[best] == joined || len(b.leaves) != 1 {
			continue
		}
		leaf := b.leaves[0]
		changes = append(changes, extract.TextChange{
			Path:    leaf.Path.Clone(),
			OldText: leaf.Text,
			NewText: segs[best],
		})
	}
	return changes
}

// block groups the consecutive text leaves that share a parent node and so
// render into a single flat segment.
type block struct {
	parent string
	leaves []extract.TextNode
}

func (b block) text() string {
	var sb strings.Builder
	for _, leaf := range b.leaves {
		sb.WriteString(leaf.Text)
	}
	return sb.String()
}

func groupBlocks(nodes []extract.TextNode) []block {
	var blocks []block
	for _, n := range nodes {
		parent := n.Path[:max(len(n.Path)-1, 0)].String()
		if len(blocks) == 0 || blocks[len(blocks)-1].parent != parent {
			blocks = append(blocks, block{parent: parent})
		}
		last := &blocks[len(blocks)-1]
		last.leaves = append(last.leaves, n)
	}
	return blocks
}

// Segments splits edited flat text back into the ordered slot sequence the
// renderer produced: one entry per heading, paragraph, list item, or code
// block. Markdown syntax is stripped by walking the goldmark AST; HTML
// blocks, which include the opaque placeholder comments, yield no slots.
func Segments(edited string) []string {
	src := []byte(edited)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var segs []string
	collect(doc, src, &segs)
	return segs
}

func collect(n ast.Node, src []byte, segs *[]string) {
	switch n.(type) {
	case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
		if t := strings.TrimSpace(inlineText(n, src)); t != "" {
			*segs = append(*segs, t)
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if t := strings.TrimRight(rawText(n, src), "\n"); strings.TrimSpace(t) != "" {
			*segs = append(*segs, t)
		}
	case *ast.HTMLBlock, *ast.RawHTML:
		// Placeholder tokens are inert, not editable slots.
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			collect(c, src, segs)
		}
	}
}

// inlineText extracts the plain text of a block's inline children, keeping
// line breaks as newlines so multi-line leaves survive the roundtrip.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		} else {
			buf.WriteString(inlineText(c, src))
		}
	}
	return buf.String()
}

// rawText returns the raw source lines of a code block.
func rawText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return buf.String()
}

// wordOverlap computes the lowercase word-set overlap (Jaccard) of two
// texts.
func wordOverlap(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
