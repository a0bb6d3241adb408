package digest

import "strings"

// BlockKind is the rendering of one summary block.
type BlockKind string

const (
	Heading   BlockKind = "heading"
	Paragraph BlockKind = "paragraph"
	List      BlockKind = "list"
	Rule      BlockKind = "rule"
)

// Block is one chunk of summary text.
type Block struct {
	Kind  BlockKind
	Text  string
	Items []string
}

// ParseBlocks splits the markdown-flavoured summary the model writes into
// headings, bullet lists and paragraphs. Anything else is kept as text.
func ParseBlocks(text string) []Block {
	var blocks []Block
	var para []string
	var list []string

	flushPara := func() {
		if len(para) > 0 {
			blocks = append(blocks, Block{Kind: Paragraph, Text: strings.Join(para, " ")})
			para = nil
		}
	}
	flushList := func() {
		if len(list) > 0 {
			blocks = append(blocks, Block{Kind: List, Items: list})
			list = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flushPara()
			flushList()
		case line == "---" || line == "***":
			flushPara()
			flushList()
			blocks = append(blocks, Block{Kind: Rule})
		case strings.HasPrefix(line, "#"):
			flushPara()
			flushList()
			blocks = append(blocks, Block{Kind: Heading, Text: stripEmphasis(strings.TrimLeft(line, "# "))})
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• "):
			flushPara()
			_, item, _ := strings.Cut(line, " ")
			list = append(list, stripEmphasis(strings.TrimSpace(item)))
		default:
			flushList()
			para = append(para, stripEmphasis(line))
		}
	}
	flushPara()
	flushList()
	return blocks
}

func stripEmphasis(s string) string {
	return strings.ReplaceAll(s, "**", "")
}
