// Package tokens provides approximate token counting for context budgeting.
//
// The estimate uses a fixed 4-characters-per-token ratio, which is
// conservative for English prose. The pipeline only needs estimates that are
// consistent and err on the high side, so truncation triggers slightly early
// rather than overflowing the model's context window.
package tokens

// charsPerToken is the assumed average characters per token.
const charsPerToken = 4

// Estimate returns the approximate token count for text.
// It is deterministic, side-effect free, and returns 0 for the empty string.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EstimateAll returns the sum of the estimates for each text.
func EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
