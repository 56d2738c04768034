// Package tokens estimates token counts for backends that do not report
// usage on every response.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
)

// Estimator counts tokens with the cl100k_base encoding, falling back to a
// characters/4 heuristic when the codec is unavailable. Estimates are for
// accounting only; backends that report usage always win.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewEstimator creates a lazy-initialized estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count returns the estimated token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}

	e.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			e.codec = codec
		}
	})

	if e.codec != nil {
		if ids, _, err := e.codec.Encode(text); err == nil {
			return len(ids)
		}
	}

	// Rough heuristic: about 4 characters per token for English text.
	n := (len(text) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateUsage fills a normalized usage shape from prompt and completion
// text when the backend omitted its own counts.
func (e *Estimator) EstimateUsage(prompt, completion string) domain.TokenUsage {
	p := e.Count(prompt)
	c := e.Count(completion)
	return domain.TokenUsage{Prompt: p, Completion: c, Total: p + c}
}
