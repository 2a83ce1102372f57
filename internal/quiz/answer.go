package quiz

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"quizpilot/internal/domain"
)

// Normalize coerces raw model output to a canonical submission value.
//
// Parse precedence is deliberate: a structured document wins over everything
// (a numeric-looking string inside JSON stays structured), a bare boolean
// literal wins over string, then a numeric literal, then the trimmed text
// itself. Normalize never fails; the string fallback always applies.
func Normalize(rawModelText string) domain.Answer {
	text := strings.TrimSpace(stripCodeFence(rawModelText))

	if raw, ok := parseStructured(text); ok {
		return domain.StructuredAnswer(raw)
	}

	switch strings.ToLower(text) {
	case "true", "yes":
		return domain.BooleanAnswer(true)
	case "false", "no":
		return domain.BooleanAnswer(false)
	}

	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return domain.NumberAnswer(n)
	}

	return domain.StringAnswer(text)
}

// parseStructured accepts only JSON objects and arrays. Bare JSON scalars
// ("42", "true") fall through to the later, more specific checks.
func parseStructured(text string) (json.RawMessage, bool) {
	if len(text) == 0 || (text[0] != '{' && text[0] != '[') {
		return nil, false
	}
	if !json.Valid([]byte(text)) {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(text)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

// stripCodeFence unwraps a markdown code block around the whole response.
// Models asked for "only the answer" still fence JSON output now and then.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language hint line (```json).
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
