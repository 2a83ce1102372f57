package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AnswerType tags the inferred type of a normalized answer.
type AnswerType string

const (
	AnswerBoolean    AnswerType = "boolean"
	AnswerNumber     AnswerType = "number"
	AnswerString     AnswerType = "string"
	AnswerStructured AnswerType = "structured"
)

// Answer is the normalized model output as a tagged variant. Exactly one of
// the value fields is meaningful, selected by Type, so submission-formatting
// code can switch exhaustively instead of reflecting on an untyped value.
type Answer struct {
	Type       AnswerType      `json:"type"`
	Bool       bool            `json:"-"`
	Number     float64         `json:"-"`
	Text       string          `json:"-"`
	Structured json.RawMessage `json:"-"`
}

// BooleanAnswer builds a boolean-typed answer.
func BooleanAnswer(v bool) Answer {
	return Answer{Type: AnswerBoolean, Bool: v}
}

// NumberAnswer builds a number-typed answer.
func NumberAnswer(v float64) Answer {
	return Answer{Type: AnswerNumber, Number: v}
}

// StringAnswer builds a string-typed answer.
func StringAnswer(v string) Answer {
	return Answer{Type: AnswerString, Text: v}
}

// StructuredAnswer builds a structured answer from a valid JSON document.
func StructuredAnswer(raw json.RawMessage) Answer {
	return Answer{Type: AnswerStructured, Structured: raw}
}

// Value returns the submission value as the quiz server should receive it.
func (a Answer) Value() any {
	switch a.Type {
	case AnswerBoolean:
		return a.Bool
	case AnswerNumber:
		return a.Number
	case AnswerStructured:
		var v any
		if err := json.Unmarshal(a.Structured, &v); err != nil {
			return string(a.Structured)
		}
		return v
	default:
		return a.Text
	}
}

// MarshalJSON emits the bare submission value, not the variant wrapper.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case AnswerBoolean:
		return json.Marshal(a.Bool)
	case AnswerNumber:
		return json.Marshal(a.Number)
	case AnswerStructured:
		return append([]byte(nil), a.Structured...), nil
	default:
		return json.Marshal(a.Text)
	}
}

// String renders the answer for logs and archive rows.
func (a Answer) String() string {
	switch a.Type {
	case AnswerBoolean:
		return strconv.FormatBool(a.Bool)
	case AnswerNumber:
		return strconv.FormatFloat(a.Number, 'f', -1, 64)
	case AnswerStructured:
		return string(a.Structured)
	default:
		return a.Text
	}
}

// GoString aids debugging output in tests.
func (a Answer) GoString() string {
	return fmt.Sprintf("Answer{%s: %s}", a.Type, a.String())
}
