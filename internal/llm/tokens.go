package llm

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when NewTokenCounter gets an empty name.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts prompt tokens with a tiktoken encoding. A nil counter
// falls back to EstimateTokens.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding. Loading may need network access
// on first use.
func NewTokenCounter(name string) (*TokenCounter, error) {
	if name == "" {
		name = DefaultEncoding
	}
	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TokenCounter{encoding: encoding}, nil
}

// CountTokens returns the token count of text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages sums CountTokens over every message.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += tc.CountTokens(m.Content)
	}
	return total
}

// EstimateTokens approximates the token count as one token per four
// characters.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
