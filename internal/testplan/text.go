package testplan

import "strings"

// indentUnit is the per-level indentation JMeter uses when saving plans.
const indentUnit = "  "

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeText(s string) string {
	return xmlEscaper.Replace(s)
}

// lineIndent returns the text between the start of pos's line and pos, and
// whether that text is pure indentation.
func lineIndent(doc string, pos int) (string, bool) {
	start := strings.LastIndexByte(doc[:pos], '\n') + 1
	prefix := doc[start:pos]
	return prefix, strings.TrimLeft(prefix, " \t") == ""
}

// lineEnding returns the line terminator used at pos: the one ending the
// previous line, or the first one in doc when pos is on the first line.
func lineEnding(doc string, pos int) string {
	nl := strings.LastIndexByte(doc[:pos], '\n')
	if nl < 0 {
		nl = strings.IndexByte(doc, '\n')
	}
	if nl > 0 && doc[nl-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// insertBlock places lines in front of the tag starting at pos. When the tag
// opens its own line the block is indented one level deeper than the tag and
// the tag keeps its original indentation.
func insertBlock(doc string, pos int, lines []string) string {
	indent, own := lineIndent(doc, pos)
	eol := lineEnding(doc, pos)

	var b strings.Builder
	b.Grow(len(doc) + 64*len(lines))
	b.WriteString(doc[:pos])
	if !own {
		for _, l := range lines {
			b.WriteString(strings.TrimLeft(l, " "))
		}
		b.WriteString(doc[pos:])
		return b.String()
	}
	for i, l := range lines {
		if i == 0 {
			b.WriteString(indentUnit)
		} else {
			b.WriteString(indent)
			b.WriteString(indentUnit)
		}
		b.WriteString(l)
		b.WriteString(eol)
	}
	b.WriteString(indent)
	b.WriteString(doc[pos:])
	return b.String()
}
