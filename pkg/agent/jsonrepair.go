package agent

import (
	"strings"
)

// RepairJSON makes a best effort at turning LLM output into parseable JSON:
// it strips code fences and surrounding prose, normalizes Python-style
// literals, drops trailing commas, and closes unterminated strings, objects
// and arrays. It never guarantees valid JSON — callers must still check the
// unmarshal result.
func RepairJSON(s string) string {
	s = stripFences(s)
	s = extractJSONBody(s)
	s = replaceBareLiterals(s)
	s = removeTrailingCommas(s)
	return closeUnterminated(s)
}

// stripFences removes ``` / ```json fence lines.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// extractJSONBody cuts prose before the first '{' or '[' and after the
// matching close bracket (when one exists).
func extractJSONBody(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return s
}

// replaceBareLiterals converts Python literals the source model may emit.
func replaceBareLiterals(s string) string {
	replacer := strings.NewReplacer(
		": True", ": true",
		": False", ": false",
		": None", ": null",
		":True", ":true",
		":False", ":false",
		":None", ":null",
	)
	return replacer.Replace(s)
}

// removeTrailingCommas drops commas directly before a closing bracket.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		if c == '\\' && inString {
			escaped = true
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if c == ',' && !inString {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // skip the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closeUnterminated appends the closers for any open string, object or array
// (a truncated LLM response is the common case).
func closeUnterminated(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
