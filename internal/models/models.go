// Package models defines the core data structures shared by AskFlow components.
//
// It includes questions, interactions, sessions, flow results and the API
// response envelope used by the HTTP server.
package models

import "strings"

// QuestionKind identifies how a question expects to be answered.
type QuestionKind string

const (
	// QuestionKindOpenText accepts any free-text answer.
	QuestionKindOpenText QuestionKind = "open_text"
	// QuestionKindMultipleChoice accepts one of the question's variants.
	QuestionKindMultipleChoice QuestionKind = "multiple_choice"
)

// Question is a single prompt in a flow. Variants are present only for
// multiple choice questions.
type Question struct {
	Text     string       `json:"question_text" yaml:"question_text"`
	Kind     QuestionKind `json:"type,omitempty" yaml:"type,omitempty"`
	Variants []string     `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// Normalize returns a copy of q where Kind and Variants agree.
//
// A question without an explicit type but with variants is treated as multiple
// choice. A multiple choice question without variants degrades to open text,
// and open text questions never carry variants.
func (q Question) Normalize() Question {
	out := Question{Text: strings.TrimSpace(q.Text), Kind: q.Kind}
	variants := make([]string, 0, len(q.Variants))
	for _, v := range q.Variants {
		if v = strings.TrimSpace(v); v != "" {
			variants = append(variants, v)
		}
	}
	if out.Kind == "" && len(variants) > 0 {
		out.Kind = QuestionKindMultipleChoice
	}
	if out.Kind == QuestionKindMultipleChoice && len(variants) > 0 {
		out.Variants = variants
		return out
	}
	out.Kind = QuestionKindOpenText
	return out
}

// IsMultipleChoice reports whether the question restricts answers to its variants.
func (q Question) IsMultipleChoice() bool {
	return q.Kind == QuestionKindMultipleChoice && len(q.Variants) > 0
}

// HasVariant reports whether answer is one of the question's variants.
func (q Question) HasVariant(answer string) bool {
	for _, v := range q.Variants {
		if v == answer {
			return true
		}
	}
	return false
}

// NormalizeQuestions normalizes every question and drops entries with empty text.
func NormalizeQuestions(qs []Question) []Question {
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		n := q.Normalize()
		if n.Text == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// QuestionTexts returns the text of every question in order.
func QuestionTexts(qs []Question) []string {
	texts := make([]string, len(qs))
	for i, q := range qs {
		texts[i] = q.Text
	}
	return texts
}

// Interaction is one recorded question/answer pair.
type Interaction struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// APIStatus represents the status value of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every HTTP endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
