package render

import (
	"bytes"
	"fmt"

	"github.com/MarcoPoloResearchLab/intentions/internal/richtext"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// HTMLRenderer turns styled documents into sanitized HTML for export.
type HTMLRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewHTMLRenderer builds a renderer. Raw inline HTML is enabled in goldmark because style runs
// are projected as inline tags; the sanitizer policy is what keeps the output safe.
func NewHTMLRenderer() *HTMLRenderer {
	markdown := goldmark.New(
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithUnsafe(),
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("u", "strong", "em")

	return &HTMLRenderer{markdown: markdown, policy: policy}
}

// Markdown returns the CommonMark projection of doc.
func (r *HTMLRenderer) Markdown(doc richtext.Document) string {
	return richtext.Markdown(doc)
}

// Render converts doc to sanitized HTML.
func (r *HTMLRenderer) Render(doc richtext.Document) (string, error) {
	var buffer bytes.Buffer
	if err := r.markdown.Convert([]byte(richtext.Markdown(doc)), &buffer); err != nil {
		return "", fmt.Errorf("render: convert markdown: %w", err)
	}
	return r.policy.Sanitize(buffer.String()), nil
}
