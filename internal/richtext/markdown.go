package richtext

import "strings"

// Markdown projects doc onto CommonMark with inline HTML for styles. Every ASCII punctuation
// character of the text is escaped so user content can never open markup. Line indentation
// is dropped to keep indented lines out of code blocks.
func Markdown(doc Document) string {
	runes := []rune(doc.text)
	styles := doc.styles()

	var builder strings.Builder
	lineStart := 0
	for index := 0; index <= len(runes); index++ {
		if index < len(runes) && runes[index] != '\n' {
			continue
		}
		writeLine(&builder, runes[lineStart:index], styles[lineStart:index])
		if index < len(runes) {
			builder.WriteByte('\n')
		}
		lineStart = index + 1
	}
	return builder.String()
}

func writeLine(builder *strings.Builder, runes []rune, styles []Style) {
	indent := 0
	for indent < len(runes) && (runes[indent] == ' ' || runes[indent] == '\t') {
		indent++
	}
	runes, styles = runes[indent:], styles[indent:]

	for start := 0; start < len(runes); {
		end := start
		for end < len(runes) && styles[end] == styles[start] {
			end++
		}
		writeSegment(builder, runes[start:end], styles[start])
		start = end
	}
}

var styleTags = []struct {
	flag Style
	tag  string
}{
	{flag: StyleUnderline, tag: "u"},
	{flag: StyleBold, tag: "strong"},
	{flag: StyleItalic, tag: "em"},
}

func writeSegment(builder *strings.Builder, runes []rune, style Style) {
	for _, styleTag := range styleTags {
		if style.Has(styleTag.flag) {
			builder.WriteString("<" + styleTag.tag + ">")
		}
	}
	for _, r := range runes {
		if isASCIIPunctuation(r) {
			builder.WriteByte('\\')
		}
		builder.WriteRune(r)
	}
	for index := len(styleTags) - 1; index >= 0; index-- {
		if style.Has(styleTags[index].flag) {
			builder.WriteString("</" + styleTags[index].tag + ">")
		}
	}
}

func isASCIIPunctuation(r rune) bool {
	return (r >= '!' && r <= '/') || (r >= ':' && r <= '@') || (r >= '[' && r <= '`') || (r >= '{' && r <= '~')
}
