package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/AskFlow/internal/models"
)

type fakeGenerator struct {
	out        string
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	return f.out, f.err
}

func TestParseQuestions(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    int
		wantErr bool
	}{
		{"bare array", `[{"question_text":"a"},{"question_text":"b","variants":["x","y"]}]`, 2, false},
		{"json fence", "```json\n[{\"question_text\":\"a\"}]\n```", 1, false},
		{"prose around", "Here you go:\n[{\"question_text\":\"a\"}]\nGood luck", 1, false},
		{"not json", "sorry, I cannot help", 0, true},
		{"broken json", `[{"question_text":}]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := ParseQuestions(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(qs) != tt.want {
				t.Errorf("got %d questions, want %d", len(qs), tt.want)
			}
		})
	}
}

func TestParseQuestionsNormalizesKinds(t *testing.T) {
	qs, err := ParseQuestions(`[{"question_text":"a","variants":["x"]},{"question_text":"b","type":"multiple_choice"}]`)
	if err != nil {
		t.Fatalf("ParseQuestions failed: %v", err)
	}
	if !qs[0].IsMultipleChoice() {
		t.Error("question with variants and no type should be multiple choice")
	}
	if qs[1].Kind != models.QuestionKindOpenText {
		t.Error("multiple choice question without variants should degrade to open text")
	}
}

func TestGenerateQuestionsFailsOpen(t *testing.T) {
	ctx := context.Background()
	if qs := NewPipeline(&fakeGenerator{err: errors.New("quota")}).GenerateQuestions(ctx, PurposeGoal, Request{}); qs != nil {
		t.Errorf("expected nil on generator error, got %+v", qs)
	}
	if qs := NewPipeline(&fakeGenerator{out: "nope"}).GenerateQuestions(ctx, PurposeGoal, Request{}); qs != nil {
		t.Errorf("expected nil on bad output, got %+v", qs)
	}
	if qs := NewPipeline(nil).GenerateQuestions(ctx, PurposeGoal, Request{}); qs != nil {
		t.Errorf("expected nil without generator, got %+v", qs)
	}
}

func TestGenerateQuestionsRendersPrompt(t *testing.T) {
	gen := &fakeGenerator{out: `[{"question_text":"Why?"}]`}
	qs := NewPipeline(gen).GenerateQuestions(context.Background(), PurposeGoal, Request{Input: "run a marathon", Profile: "likes sport"})
	if len(qs) != 1 || qs[0].Text != "Why?" {
		t.Fatalf("unexpected questions: %+v", qs)
	}
	if !strings.Contains(gen.lastUser, "run a marathon") || !strings.Contains(gen.lastUser, "likes sport") {
		t.Errorf("prompt missing request fields:\n%s", gen.lastUser)
	}
	if gen.lastSystem == "" {
		t.Error("system prompt not sent")
	}
}

func TestRewrite(t *testing.T) {
	gen := &fakeGenerator{out: "```markdown\n# Profile\nupdated\n```"}
	req := Request{Profile: "old", Interactions: []models.Interaction{{Question: "q", Answer: "a"}}}
	got := NewPipeline(gen).Rewrite(context.Background(), PurposeProfileUpdate, req)
	if got != "# Profile\nupdated" {
		t.Errorf("Rewrite = %q", got)
	}
	if !strings.Contains(gen.lastUser, `"question": "q"`) {
		t.Errorf("interactions JSON missing from prompt:\n%s", gen.lastUser)
	}

	if got := NewPipeline(&fakeGenerator{err: errors.New("down")}).Rewrite(context.Background(), PurposeGoalRewrite, req); got != "" {
		t.Errorf("Rewrite on error = %q, want empty", got)
	}
}

func TestEveryPurposeHasPrompt(t *testing.T) {
	for _, p := range []QuestionPurpose{PurposeGoal, PurposeProfileGaps, PurposeDeepAnalysis, PurposeIkigai, PurposeShadow} {
		if _, err := renderPrompt(string(p), Request{}); err != nil {
			t.Errorf("question purpose %s: %v", p, err)
		}
	}
	for _, p := range []RewritePurpose{PurposeGoalRewrite, PurposeProfileUpdate, PurposeIkigaiAnalysis, PurposeShadowAnalysis} {
		if _, err := renderPrompt(string(p), Request{}); err != nil {
			t.Errorf("rewrite purpose %s: %v", p, err)
		}
	}
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]models.Interaction{{Question: "a", Answer: "1"}, {Question: "b", Answer: "2"}})
	if got != "- Q: \"a\" A: \"1\"\n- Q: \"b\" A: \"2\"" {
		t.Errorf("FormatHistory = %q", got)
	}
}
