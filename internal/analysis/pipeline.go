// Package analysis turns user answers into follow-up questions and rewritten
// text by prompting a language model.
//
// Every entry point fails open: a model or parsing error is logged and comes
// back as an empty question list or an empty string, never as an error, so
// callers only need to handle "nothing to do".
package analysis

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// Generator produces a completion for a system and user prompt.
// *genai.Client satisfies it.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// QuestionPurpose selects a question-generation prompt.
type QuestionPurpose string

const (
	PurposeGoal         QuestionPurpose = "goal_questions"
	PurposeProfileGaps  QuestionPurpose = "profile_gaps"
	PurposeDeepAnalysis QuestionPurpose = "deep_analysis"
	PurposeIkigai       QuestionPurpose = "ikigai_questions"
	PurposeShadow       QuestionPurpose = "shadow_questions"
)

// RewritePurpose selects a text-producing prompt.
type RewritePurpose string

const (
	PurposeGoalRewrite    RewritePurpose = "goal_rewrite"
	PurposeProfileUpdate  RewritePurpose = "profile_update"
	PurposeIkigaiAnalysis RewritePurpose = "ikigai_analysis"
	PurposeShadowAnalysis RewritePurpose = "shadow_analysis"
)

// Request carries the context a prompt may reference.
type Request struct {
	Input        string
	OriginalText string
	Profile      string
	Interactions []models.Interaction
}

const systemPrompt = "You are a thoughtful personal coach helping one user understand themselves. " +
	"Follow the output format exactly."

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// Pipeline runs prompts against a Generator.
type Pipeline struct {
	gen Generator
}

// NewPipeline returns a pipeline backed by gen.
func NewPipeline(gen Generator) *Pipeline {
	return &Pipeline{gen: gen}
}

// GenerateQuestions asks the model for questions. It returns nil on any failure.
func (p *Pipeline) GenerateQuestions(ctx context.Context, purpose QuestionPurpose, req Request) []models.Question {
	out, err := p.run(ctx, string(purpose), req)
	if err != nil {
		slog.Error("Pipeline.GenerateQuestions: generation failed", "purpose", purpose, "error", err)
		return nil
	}
	qs, err := ParseQuestions(out)
	if err != nil {
		slog.Error("Pipeline.GenerateQuestions: unparseable model output", "purpose", purpose, "error", err, "output_length", len(out))
		return nil
	}
	slog.Debug("Pipeline.GenerateQuestions", "purpose", purpose, "count", len(qs))
	return qs
}

// Rewrite asks the model for free text. It returns "" on any failure.
func (p *Pipeline) Rewrite(ctx context.Context, purpose RewritePurpose, req Request) string {
	out, err := p.run(ctx, string(purpose), req)
	if err != nil {
		slog.Error("Pipeline.Rewrite: generation failed", "purpose", purpose, "error", err)
		return ""
	}
	return strings.TrimSpace(stripFence(out))
}

func (p *Pipeline) run(ctx context.Context, name string, req Request) (string, error) {
	if p == nil || p.gen == nil {
		return "", fmt.Errorf("no generator configured")
	}
	userPrompt, err := renderPrompt(name, req)
	if err != nil {
		return "", err
	}
	return p.gen.Complete(ctx, systemPrompt, userPrompt)
}

func renderPrompt(name string, req Request) (string, error) {
	interactions, err := json.MarshalIndent(req.Interactions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode interactions: %w", err)
	}
	data := map[string]string{
		"Input":            req.Input,
		"OriginalText":     req.OriginalText,
		"Profile":          req.Profile,
		"History":          FormatHistory(req.Interactions),
		"InteractionsJSON": string(interactions),
	}
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// FormatHistory renders answers as one "- Q: ... A: ..." line each.
func FormatHistory(interactions []models.Interaction) string {
	var sb strings.Builder
	for i, it := range interactions {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- Q: %q A: %q", it.Question, it.Answer)
	}
	return sb.String()
}

// ParseQuestions decodes a JSON array of questions from model output, tolerating
// a surrounding markdown fence or prose before and after the array.
func ParseQuestions(output string) ([]models.Question, error) {
	body := stripFence(output)
	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in output")
	}
	var raw []models.Question
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid questions JSON: %w", err)
	}
	return models.NormalizeQuestions(raw), nil
}

// stripFence removes a leading ``` or ```json fence and its closing fence.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = ""
	}
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
