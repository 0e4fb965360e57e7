package tools

import (
	"strings"
	"unicode"

	"github.com/openagentd/agentd/pkg/models"
)

// Default size caps for tool results before they enter memory or the event
// stream.
const (
	DefaultMaxFieldBytes = 16 * 1024
	DefaultMaxTotalBytes = 64 * 1024
)

// truncatedMarker is appended where a string field was cut.
const truncatedMarker = " ... [content truncated]"

// SizeLimiter bounds tool result payloads: individual string fields are
// truncated at a word/sentence boundary, and nested dicts/lists are walked
// against a shared byte budget.
type SizeLimiter struct {
	maxFieldBytes int
	maxTotalBytes int
}

// NewSizeLimiter creates a limiter with the given per-field and total caps.
func NewSizeLimiter(maxFieldBytes, maxTotalBytes int) *SizeLimiter {
	return &SizeLimiter{maxFieldBytes: maxFieldBytes, maxTotalBytes: maxTotalBytes}
}

// LimitResult returns a copy of the result with its message and data payload
// bounded. The input is not mutated.
func (l *SizeLimiter) LimitResult(r *models.ToolResult) *models.ToolResult {
	if r == nil {
		return nil
	}
	budget := l.maxTotalBytes
	out := &models.ToolResult{Success: r.Success}
	out.Message = l.limitString(r.Message, &budget)
	out.Data = l.limitValue(r.Data, &budget)
	return out
}

// limitValue walks a decoded JSON value, truncating strings and sharing the
// remaining byte budget across nested containers.
func (l *SizeLimiter) limitValue(v any, budget *int) any {
	switch t := v.(type) {
	case string:
		return l.limitString(t, budget)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if *budget <= 0 {
				out[k] = truncatedMarker
				continue
			}
			out[k] = l.limitValue(val, budget)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			if *budget <= 0 {
				out = append(out, truncatedMarker)
				break
			}
			out = append(out, l.limitValue(val, budget))
		}
		return out
	default:
		return v
	}
}

// limitString truncates s to the smaller of the per-field cap and the shared
// budget, cutting at a word or sentence boundary, and charges the budget.
func (l *SizeLimiter) limitString(s string, budget *int) string {
	cap := l.maxFieldBytes
	if *budget < cap {
		cap = *budget
	}
	if cap < 0 {
		cap = 0
	}
	if len(s) <= cap {
		*budget -= len(s)
		return s
	}
	cut := truncateAtBoundary(s, cap)
	*budget -= len(cut)
	return cut + truncatedMarker
}

// truncateAtBoundary cuts s to at most n bytes, preferring a sentence end,
// then any whitespace, then a hard rune-safe cut.
func truncateAtBoundary(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary first.
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	prefix := s[:n]

	if idx := strings.LastIndexAny(prefix, ".!?\n"); idx > n/2 {
		return prefix[:idx+1]
	}
	if idx := strings.LastIndexFunc(prefix, unicode.IsSpace); idx > n/2 {
		return prefix[:idx]
	}
	return prefix
}

// utf8Start reports whether b can begin a UTF-8 encoded rune.
func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
