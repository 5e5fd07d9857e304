package render

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// md renders untrusted model output, so raw HTML stays escaped.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML converts Markdown produced by the summarizer to HTML.
func HTML(markdown string) (string, error) {
	if markdown == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
