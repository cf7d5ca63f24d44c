package richtext

import "strings"

// BulletMarker prefixes every bulleted line.
const BulletMarker = "• "

// ToggleBold flips bold across selection.
func ToggleBold(doc Document, selection Range) (Document, error) {
	return toggleStyle(doc, selection, StyleBold)
}

// ToggleItalic flips italics across selection.
func ToggleItalic(doc Document, selection Range) (Document, error) {
	return toggleStyle(doc, selection, StyleItalic)
}

// ToggleUnderline flips underline across selection.
func ToggleUnderline(doc Document, selection Range) (Document, error) {
	return toggleStyle(doc, selection, StyleUnderline)
}

// toggleStyle removes flag when every selected character carries it and applies it to all of
// them otherwise. An empty selection is a no-op.
func toggleStyle(doc Document, selection Range, flag Style) (Document, error) {
	runes := []rune(doc.text)
	if err := selection.validate(len(runes)); err != nil {
		return doc, err
	}
	if selection.Length == 0 {
		return doc, nil
	}

	styles := doc.styles()
	uniform := true
	for index := selection.Start; index < selection.End(); index++ {
		if !styles[index].Has(flag) {
			uniform = false
			break
		}
	}
	for index := selection.Start; index < selection.End(); index++ {
		if uniform {
			styles[index] &^= flag
		} else {
			styles[index] |= flag
		}
	}
	return build(runes, styles), nil
}

// ToggleBulletForParagraph prefixes every line of the paragraph touched by selection with
// BulletMarker. Lines that already start with the marker (after indentation) are left alone.
func ToggleBulletForParagraph(doc Document, selection Range) (Document, error) {
	runes := []rune(doc.text)
	if err := selection.validate(len(runes)); err != nil {
		return doc, err
	}
	styles := doc.styles()

	start := selection.Start
	for start > 0 && runes[start-1] != '\n' {
		start--
	}
	end := selection.End()
	if selection.Length > 0 && runes[end-1] == '\n' {
		end--
	}
	for end < len(runes) && runes[end] != '\n' {
		end++
	}

	marker := []rune(BulletMarker)
	outRunes := make([]rune, 0, len(runes)+len(marker))
	outStyles := make([]Style, 0, len(runes)+len(marker))
	outRunes = append(outRunes, runes[:start]...)
	outStyles = append(outStyles, styles[:start]...)

	lineStart := start
	for index := start; index <= end; index++ {
		if index < end && runes[index] != '\n' {
			continue
		}
		line := runes[lineStart:index]
		if !hasBullet(line) {
			var markerStyle Style
			if len(line) > 0 {
				markerStyle = styles[lineStart]
			}
			for range marker {
				outStyles = append(outStyles, markerStyle)
			}
			outRunes = append(outRunes, marker...)
		}
		outRunes = append(outRunes, line...)
		outStyles = append(outStyles, styles[lineStart:index]...)
		if index < end {
			outRunes = append(outRunes, '\n')
			outStyles = append(outStyles, styles[index])
		}
		lineStart = index + 1
	}

	outRunes = append(outRunes, runes[end:]...)
	outStyles = append(outStyles, styles[end:]...)
	return build(outRunes, outStyles), nil
}

func hasBullet(line []rune) bool {
	return strings.HasPrefix(strings.TrimLeft(string(line), " \t"), BulletMarker)
}

// Replace substitutes the characters in target with insert. Inserted characters take the
// style of the first replaced character, or of the character before the insertion point.
func Replace(doc Document, target Range, insert string) (Document, error) {
	runes := []rune(doc.text)
	if err := target.validate(len(runes)); err != nil {
		return doc, err
	}
	styles := doc.styles()

	var insertStyle Style
	switch {
	case target.Length > 0:
		insertStyle = styles[target.Start]
	case target.Start > 0:
		insertStyle = styles[target.Start-1]
	case len(styles) > 0:
		insertStyle = styles[0]
	}

	inserted := []rune(insert)
	outRunes := make([]rune, 0, len(runes)-target.Length+len(inserted))
	outStyles := make([]Style, 0, cap(outRunes))
	outRunes = append(outRunes, runes[:target.Start]...)
	outStyles = append(outStyles, styles[:target.Start]...)
	outRunes = append(outRunes, inserted...)
	for range inserted {
		outStyles = append(outStyles, insertStyle)
	}
	outRunes = append(outRunes, runes[target.End():]...)
	outStyles = append(outStyles, styles[target.End():]...)
	return build(outRunes, outStyles), nil
}
