package ui

import (
	"regexp"

	markdown "github.com/MichaelMure/go-term-markdown"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
)

var mdLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)

// preprocessLinks strips markdown link syntax [text](url) down to the bare
// url, so terminal emulators handle URL detection and clickability.
func preprocessLinks(content string) string {
	return mdLinkRegex.ReplaceAllString(content, "$2")
}

// renderMarkdown renders a settled assistant message for the viewport.
// Autolink stays disabled so plain URLs pass through untouched.
func renderMarkdown(content string, width int) string {
	if width < 10 {
		width = 10
	}
	content = preprocessLinks(content)

	ext := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(ext)
	r := markdown.NewRenderer(width, 0)
	doc := p.Parse([]byte(content))
	return string(gomarkdown.Render(doc, r))
}
