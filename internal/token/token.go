// Package token provides token counting backed by tiktoken-go. It lazily
// initializes the cl100k_base encoding on first use and falls back to a
// character-based heuristic if initialization fails.
package token

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func init() {
	// Eager initialization so the first call doesn't pay the latency.
	initEncoding()
}

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// Count returns an accurate token count using cl100k_base encoding. If
// tiktoken is unavailable, it falls back to EstimateFast.
func Count(text string) int {
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns a heuristic token estimate: max(runes/4, word_count).
// Use this only where the tiktoken overhead is unacceptable.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// Truncate cuts text to approximately maxTokens, appending an ellipsis when
// anything was removed.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if encoding != nil {
		tokens := encoding.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return encoding.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
