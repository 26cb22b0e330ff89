// Package tokens estimates token usage for runs whose stream carried no
// usage side-channel. Counts are tiktoken-based where a codec is available
// and a characters/4 heuristic otherwise; they are estimates for display
// and accounting hints, not billing.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/helixworks/bioagent-client/internal/domain"
)

// Estimator counts tokens for prompt and completion text.
type Estimator struct {
	mu    sync.Mutex
	codec tokenizer.Codec
	model string
}

// NewEstimator creates an estimator for the given model name. An unknown
// model falls back to the cl100k_base encoding, and to a character
// heuristic if even that is unavailable.
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

// Estimate returns usage for a prompt history and the accumulated
// completion text.
func (e *Estimator) Estimate(history []domain.Message, completion string) domain.Usage {
	var prompt int
	for _, msg := range history {
		prompt += e.Count(msg.Content)
	}
	out := e.Count(completion)
	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}

// Count returns the token count for one string.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if codec := e.getCodec(); codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	// Rough heuristic used across providers when no codec applies.
	return (len(text) + 3) / 4
}

func (e *Estimator) getCodec() tokenizer.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.codec != nil {
		return e.codec
	}
	if codec, err := tokenizer.ForModel(tokenizer.Model(e.model)); err == nil {
		e.codec = codec
		return e.codec
	}
	if codec, err := tokenizer.Get(tokenizer.Cl100kBase); err == nil {
		e.codec = codec
	}
	return e.codec
}
