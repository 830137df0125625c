package pipeline

import (
	"regexp"

	"github.com/JakeFAU/widget-forge/internal/widget"
)

var htmlFence = regexp.MustCompile("(?is)```html\\s*(.*?)\\s*```")

// ExtractFencedHTML returns the interior of the first ```html fenced block in
// raw. found is false when there is none.
func ExtractFencedHTML(raw string) (html string, found bool) {
	m := htmlFence.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractArtifact builds the artifact for raw generation output. Without a
// fenced block the raw text is used unchanged.
func ExtractArtifact(raw string) widget.Artifact {
	if html, ok := ExtractFencedHTML(raw); ok {
		return widget.Artifact{Raw: raw, HTML: html, Fenced: true}
	}
	return widget.Artifact{Raw: raw, HTML: raw}
}
