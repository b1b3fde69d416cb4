// Package tokenizer estimates token counts for routing decisions.
//
// DESIGN: Exact counts are a non-goal; routing only needs the right order of
// magnitude for context-window filtering and the large-context override.
// When the cl100k_base encoding can be loaded we use it, otherwise we fall
// back to the chars-per-token ratio. Both paths are deterministic.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/config"
)

// Estimator counts approximate tokens in text.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator returns a lazy estimator. The encoding is loaded on first use
// so construction never blocks startup on the BPE download path.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Debug().Err(err).Msg("tokenizer: encoding unavailable, using char ratio")
			return
		}
		e.enc = enc
	})
	return e.enc
}

// Estimate returns the approximate token count of text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return ApproxByLength(len(text))
}

// EstimateAll sums the estimate across several texts.
func (e *Estimator) EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Estimate(t)
	}
	return total
}

// ApproxByLength converts a character count to a token estimate.
func ApproxByLength(chars int) int {
	if chars <= 0 {
		return 0
	}
	n := chars / config.TokenEstimateRatio
	if n == 0 {
		n = 1
	}
	return n
}
