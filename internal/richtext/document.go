package richtext

import (
	"errors"
	"fmt"
)

// Style is a set of independent character styles.
type Style uint8

const (
	// StyleBold renders characters in bold.
	StyleBold Style = 1 << iota
	// StyleItalic renders characters in italics.
	StyleItalic
	// StyleUnderline underlines characters.
	StyleUnderline
)

const styleMask = StyleBold | StyleItalic | StyleUnderline

// Has reports whether every flag in flag is set.
func (s Style) Has(flag Style) bool {
	return s&flag == flag
}

// ErrRangeOutOfBounds indicates a range that does not fit the document.
var ErrRangeOutOfBounds = errors.New("richtext: range out of bounds")

// Range addresses characters (runes) of a document.
type Range struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// End returns the exclusive end offset.
func (r Range) End() int {
	return r.Start + r.Length
}

func (r Range) validate(size int) error {
	if r.Start < 0 || r.Length < 0 || r.End() > size {
		return fmt.Errorf("%w: [%d,%d) in %d characters", ErrRangeOutOfBounds, r.Start, r.End(), size)
	}
	return nil
}

// Run is a maximal contiguous range sharing one style.
type Run struct {
	Range
	Style Style `json:"style"`
}

// Document is an immutable styled-text value. Runs always cover the text exactly,
// are ordered, and adjacent runs never share a style.
type Document struct {
	text string
	runs []Run
}

// Empty returns a document without text.
func Empty() Document {
	return Document{}
}

// New returns unstyled text.
func New(text string) Document {
	runes := []rune(text)
	return build(runes, make([]Style, len(runes)))
}

// Text returns the document's characters without styling.
func (d Document) Text() string {
	return d.text
}

// Len returns the number of characters.
func (d Document) Len() int {
	return len([]rune(d.text))
}

// Runs returns a copy of the style runs.
func (d Document) Runs() []Run {
	if len(d.runs) == 0 {
		return nil
	}
	return append([]Run(nil), d.runs...)
}

// StyleAt returns the style of the character at index.
func (d Document) StyleAt(index int) (Style, error) {
	for _, run := range d.runs {
		if index >= run.Start && index < run.End() {
			return run.Style, nil
		}
	}
	return 0, fmt.Errorf("%w: index %d", ErrRangeOutOfBounds, index)
}

// Equal reports whether both documents carry the same text and the same style per character.
func (d Document) Equal(other Document) bool {
	if d.text != other.text || len(d.runs) != len(other.runs) {
		return false
	}
	for index := range d.runs {
		if d.runs[index] != other.runs[index] {
			return false
		}
	}
	return true
}

// PlainText strips all styling. Used for word counting and titles only.
func PlainText(doc Document) string {
	return doc.text
}

func (d Document) styles() []Style {
	styles := make([]Style, 0, d.Len())
	for _, run := range d.runs {
		for offset := 0; offset < run.Length; offset++ {
			styles = append(styles, run.Style)
		}
	}
	return styles
}

func build(runes []rune, styles []Style) Document {
	var runs []Run
	for index, style := range styles {
		style &= styleMask
		last := len(runs) - 1
		if last >= 0 && runs[last].Style == style {
			runs[last].Length++
			continue
		}
		runs = append(runs, Run{Range: Range{Start: index, Length: 1}, Style: style})
	}
	return Document{text: string(runes), runs: runs}
}
