// Package detector decides when a static fetch must be replaced by a headless render.
package detector

import (
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/widget-forge/internal/widget"
)

// Default quality gate settings.
const (
	DefaultMinChars = 800
)

// DefaultBlockedPhrases are lowercase markers of maintenance, bot-wall, and
// access-denied pages.
var DefaultBlockedPhrases = []string{
	"maintenance",
	"access denied",
	"robot",
}

// QualityGate rejects static content that is empty, too short, or looks like a
// block page.
type QualityGate struct {
	MinChars       int
	BlockedPhrases []string
}

// NewQualityGate creates a new detector. Zero values fall back to the defaults;
// phrases are matched case-insensitively.
func NewQualityGate(minChars int, phrases []string) *QualityGate {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	if len(phrases) == 0 {
		phrases = DefaultBlockedPhrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &QualityGate{MinChars: minChars, BlockedPhrases: lowered}
}

// ShouldPromote reports whether the probe content fails the gate.
func (g *QualityGate) ShouldPromote(resp widget.FetchResponse) bool {
	body := resp.Body
	if strings.TrimSpace(body) == "" {
		return true
	}
	if utf8.RuneCountInString(body) < g.MinChars {
		return true
	}
	return g.Blocked(body)
}

// Blocked reports whether content contains any blocked phrase.
func (g *QualityGate) Blocked(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range g.BlockedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
