// Package tokens provides approximate token counting for context-window management.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter estimates the number of tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k encoding. Counts for non-OpenAI models are approximate.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktoken creates a counter backed by the GPT-4 encoding.
func NewTiktoken() (*TiktokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TiktokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text, falling back to len/4 on codec errors.
func (tc *TiktokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return Estimate(text)
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return Estimate(text)
	}
	return n
}

// Estimate is the character-based approximation (4 chars ≈ 1 token).
func Estimate(text string) int {
	return (len(text) + 3) / 4
}

// EstimateCounter implements Counter with Estimate.
type EstimateCounter struct{}

// Count implements Counter.
func (EstimateCounter) Count(text string) int { return Estimate(text) }

//nolint:gochecknoglobals // lazily shared codec
var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns a process-wide tiktoken counter, or the estimator if the codec cannot load.
func Default() Counter {
	defaultOnce.Do(func() {
		tc, err := NewTiktoken()
		if err != nil {
			defaultCounter = EstimateCounter{}
			return
		}
		defaultCounter = tc
	})
	return defaultCounter
}

// Truncate shortens text to roughly limit tokens, proportionally by characters.
func Truncate(c Counter, text string, limit int) string {
	current := c.Count(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	if charLimit < 0 {
		charLimit = 0
	}
	return text[:charLimit] + "..."
}
