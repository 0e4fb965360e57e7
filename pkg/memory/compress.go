package memory

import (
	"fmt"
	"strings"

	"github.com/openagentd/agentd/pkg/models"
)

// summaryPrefix marks the synthetic system message that replaces compressed
// history. A prior summary found during a later fold is merged into the new
// one, never treated as the conversation's system prompt.
const summaryPrefix = "[historical summary:"

// truncationMarker is appended where an oversized tool result tail was cut.
const truncationMarker = " ... [content truncated]"

// CompressPolicy bounds memory growth.
type CompressPolicy struct {
	// MaxTotalTokens is the estimated token budget; compression triggers
	// when the estimate exceeds it.
	MaxTotalTokens int
	// PreserveRecent is how many recent non-system messages survive
	// compression verbatim.
	PreserveRecent int
	// MaxResultTokens caps any individual tool result before compression
	// runs; larger results get their tail replaced with an ellipsis marker.
	MaxResultTokens int
}

// DefaultCompressPolicy returns the stock policy.
func DefaultCompressPolicy() CompressPolicy {
	return CompressPolicy{
		MaxTotalTokens:  32768,
		PreserveRecent:  10,
		MaxResultTokens: 4096,
	}
}

// Compress bounds a message sequence to the policy's token budget:
//
//  1. The latest system message is preserved verbatim.
//  2. The last PreserveRecent non-system messages are preserved verbatim.
//  3. Everything older is folded into one synthetic system message carrying
//     a "[historical summary: N messages, ~T tokens]" header plus the most
//     recent of the folded messages truncated to the remaining budget.
//  4. Oversized tool results are tail-truncated first.
//
// Compress is idempotent at rest: re-invoking it on compressed output
// returns the input unchanged. When later appends push the estimate back
// over budget the fold runs again, and the prior summary's counts are
// merged into the new header.
func Compress(msgs []models.Message, policy CompressPolicy) []models.Message {
	if EstimateTotalTokens(msgs) <= policy.MaxTotalTokens {
		return msgs
	}

	msgs = capToolResults(msgs, policy.MaxResultTokens)

	// Split out the latest real system message; a prior summary is dropped
	// here and its counts carried into the next fold.
	priorMsgs, priorTokens := 0, 0
	var latestSystem *models.Message
	nonSystem := make([]models.Message, 0, len(msgs))
	for i := range msgs {
		if msgs[i].Role != models.RoleSystem {
			nonSystem = append(nonSystem, msgs[i])
			continue
		}
		if n, tok, ok := parseSummaryHeader(msgs[i].Content); ok {
			priorMsgs += n
			priorTokens += tok
			continue
		}
		sys := msgs[i]
		latestSystem = &sys
	}

	keep := policy.PreserveRecent
	if keep > len(nonSystem) {
		keep = len(nonSystem)
	}
	recent := nonSystem[len(nonSystem)-keep:]
	older := nonSystem[:len(nonSystem)-keep]
	if len(older) == 0 {
		// Nothing to fold; the preserved tail alone exceeds the budget.
		// Compression cannot shrink further without losing recent turns.
		return msgs
	}

	out := make([]models.Message, 0, keep+2)
	used := 0
	if latestSystem != nil {
		out = append(out, *latestSystem)
		used += EstimateMessageTokens(*latestSystem)
	}
	for _, m := range recent {
		used += EstimateMessageTokens(m)
	}

	out = append(out, buildSummary(older, priorMsgs, priorTokens, policy.MaxTotalTokens-used))
	return append(out, recent...)
}

// parseSummaryHeader reads the counts back out of a summary message. ok is
// true for any message carrying the summary prefix; counts are zero when
// the header does not parse.
func parseSummaryHeader(content string) (msgs, tokens int, ok bool) {
	if !strings.HasPrefix(content, summaryPrefix) {
		return 0, 0, false
	}
	head, _, _ := strings.Cut(content, "]")
	_, _ = fmt.Sscanf(head[len(summaryPrefix):], " %d messages, ~%d tokens", &msgs, &tokens)
	return msgs, tokens, true
}

// buildSummary folds the older messages into a single synthetic system
// message: the summary header plus the most recent older message truncated
// to fit what remains of the token budget. Counts from a previously folded
// summary are added into the header.
func buildSummary(older []models.Message, priorMsgs, priorTokens, remainingTokens int) models.Message {
	header := fmt.Sprintf("%s %d messages, ~%d tokens]",
		summaryPrefix, priorMsgs+len(older), priorTokens+EstimateTotalTokens(older))

	content := header
	if remainingTokens > EstimateTokens(header) {
		tailBudget := remainingTokens - EstimateTokens(header)
		tail := truncateToTokens(older[len(older)-1].Content, tailBudget)
		if tail != "" {
			content = header + "\n" + tail
		}
	}
	return models.Message{Role: models.RoleSystem, Content: content}
}

// capToolResults tail-truncates any tool result above maxTokens.
func capToolResults(msgs []models.Message, maxTokens int) []models.Message {
	if maxTokens <= 0 {
		return msgs
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Role != models.RoleTool {
			continue
		}
		if EstimateTokens(out[i].Content) > maxTokens {
			out[i].Content = truncateToTokens(out[i].Content, maxTokens) + truncationMarker
		}
	}
	return out
}

// truncateToTokens cuts s so its estimate fits within budget tokens.
// The cut lands on a rune boundary; a negative or zero budget yields "".
func truncateToTokens(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(s) <= budget {
		return s
	}
	var b strings.Builder
	used := 0.0
	for _, r := range s {
		cost := 1.0 / otherCharsPerToken
		if isCJK(r) {
			cost = 1.0 / cjkCharsPerToken
		}
		if used+cost > float64(budget) {
			break
		}
		used += cost
		b.WriteRune(r)
	}
	return b.String()
}
