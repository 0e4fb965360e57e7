package memory

import "github.com/openagentd/agentd/pkg/models"

// Token estimation is a deliberate heuristic, not a tokenizer: compression
// thresholds must be model-independent and cheap on every append. CJK
// characters count as ~1/1.5 token, everything else as ~1/4.
const (
	cjkCharsPerToken   = 1.5
	otherCharsPerToken = 4.0
)

// EstimateTokens returns the estimated token count of a string.
func EstimateTokens(s string) int {
	var cjk, other int
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	est := float64(cjk)/cjkCharsPerToken + float64(other)/otherCharsPerToken
	// Round up so a non-empty string never estimates to zero.
	n := int(est)
	if est > float64(n) {
		n++
	}
	return n
}

// EstimateMessageTokens estimates the token count of a single message,
// including a small per-message framing overhead.
func EstimateMessageTokens(m models.Message) int {
	const framingOverhead = 4
	n := EstimateTokens(m.Content) + framingOverhead
	for _, tc := range m.ToolCalls {
		n += EstimateTokens(tc.Function) + EstimateTokens(tc.Arguments)
	}
	return n
}

// EstimateTotalTokens estimates the token count of a message sequence.
func EstimateTotalTokens(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}

// isCJK reports whether a rune falls in the common CJK ranges.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // full-width forms
		return true
	case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // hangul
		return true
	}
	return false
}
