// Package budget provides deterministic token-cost estimation and
// budget-bounded trimming of conversation message lists.
package budget

import (
	"github.com/flemzord/chatpilot/internal/provider"
)

// messageOverhead is the fixed per-message cost covering role tokens and
// wire formatting.
const messageOverhead = 4

// Estimator estimates the token cost of a string. Estimates must be
// deterministic (same input, same result) and monotone (more characters
// never estimate cheaper); fidelity to any vendor's real tokenizer is
// explicitly not required.
type Estimator interface {
	Estimate(text string) int
}

// CharClassEstimator estimates tokens with a character-class heuristic:
// dense scripts (CJK) cost one token per rune, everything else roughly
// one token per four runes. It is the default estimator.
type CharClassEstimator struct{}

// Estimate returns the estimated token count for the given text.
func (CharClassEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	dense := 0
	total := 0
	for _, r := range text {
		total++
		if r >= 0x4E00 && r <= 0x9FFF {
			dense++
		}
	}
	sparse := total - dense
	sparseTokens := 0
	if sparse > 0 {
		sparseTokens = sparse / 4
		if sparseTokens == 0 {
			sparseTokens = 1
		}
	}
	return dense + sparseTokens
}

// EstimateMessage returns the estimated cost of a single message,
// including the fixed per-message overhead.
func EstimateMessage(e Estimator, msg provider.Message) int {
	return e.Estimate(msg.Content) + messageOverhead
}

// EstimateMessages returns the total estimated cost of a message list.
func EstimateMessages(e Estimator, msgs []provider.Message) int {
	total := 0
	for i := range msgs {
		total += EstimateMessage(e, msgs[i])
	}
	return total
}
