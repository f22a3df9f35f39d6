package contextasm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter wraps a cached tiktoken encoding, grounded on
// kadirpekel-hector/pkg/utils/tokens.go's TokenCounter (encoding cache,
// cl100k_base fallback). Context assembly only needs raw text counting
// and truncation, so CountMessages/FitWithinLimit are not carried over.
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

func newTokenCounter(model string) (*tokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &tokenCounter{encoding: enc}, nil
}

// count returns the number of BPE tokens text encodes to.
func (tc *tokenCounter) count(text string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoding.Encode(text, nil, nil))
}

// truncate trims text to fit within maxTokens, decoding back to a
// string. A non-positive maxTokens truncates to the empty string.
func (tc *tokenCounter) truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tc.encoding.Decode(tokens[:maxTokens])
}
