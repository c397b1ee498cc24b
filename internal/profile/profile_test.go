package profile

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
)

func TestFileStoreReadWriteBackup(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

	got, err := s.Read(ctx, "+15551234")
	if err != nil || got != "" {
		t.Fatalf("Read of missing profile = %q, %v", got, err)
	}
	if path, err := s.Backup(ctx, "+15551234"); err != nil || path != "" {
		t.Fatalf("Backup of missing profile = %q, %v", path, err)
	}

	if err := s.Write(ctx, "+15551234", "hello"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got, _ := s.Read(ctx, "+15551234"); got != "hello" {
		t.Errorf("Read = %q, want hello", got)
	}

	path, err := s.Backup(ctx, "+15551234")
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if !strings.HasSuffix(path, "+15551234_20260506070809_backup.md") {
		t.Errorf("unexpected backup path %q", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello" {
		t.Errorf("backup content = %q", data)
	}
}

func TestFileNameSanitized(t *testing.T) {
	s := &FileStore{dir: "/tmp/p"}
	if got := s.Path("../../etc/passwd"); strings.Contains(got, "/etc/") {
		t.Errorf("path escapes store dir: %s", got)
	}
}

func TestBuildInitialProfile(t *testing.T) {
	interactions := []models.Interaction{
		{Question: "How old are you?", Answer: " 34 "},
		{Question: "What is your field of work?", Answer: "Design"},
		{Question: "Unrelated question", Answer: "ignored"},
	}
	doc := BuildInitialProfile(DefaultTemplate(), interactions, DefaultRules)

	if !strings.Contains(doc, "### 1. IDENTITY\n* **Age**: 34\n") {
		t.Errorf("age not inserted under identity:\n%s", doc)
	}
	if !strings.Contains(doc, "### 4. OCCUPATION\n* **Field**: Design\n") {
		t.Errorf("field not inserted under occupation:\n%s", doc)
	}
	if strings.Contains(doc, "ignored") {
		t.Error("unmatched answer should be skipped")
	}
}

func TestExtractSection(t *testing.T) {
	doc := "# P\n\n### 9. TASKS\n- write\n- ship\n\n### 10. ADDITIONAL CONTEXT\nmore\n"
	if got := ExtractSection(doc, TasksHeader); got != "- write\n- ship" {
		t.Errorf("ExtractSection = %q", got)
	}
	if got := ExtractSection(doc, IkigaiHeader); got != "" {
		t.Errorf("missing section = %q, want empty", got)
	}
	if got := ExtractSection("### 9. TASKS\n### 10. X\n", TasksHeader); got != "" {
		t.Errorf("empty section = %q, want empty", got)
	}
}

func TestReplaceSection(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "middle section",
			doc:  "### 16. IKIGAI BLUEPRINT\nold\nstuff\n\n### 17. SHADOW ARCHETYPE\nkeep\n",
			want: "### 16. IKIGAI BLUEPRINT\nnew body\n\n### 17. SHADOW ARCHETYPE\nkeep\n",
		},
		{
			name: "last section",
			doc:  "### 1. IDENTITY\nx\n\n### 16. IKIGAI BLUEPRINT\nold\n",
			want: "### 1. IDENTITY\nx\n\n### 16. IKIGAI BLUEPRINT\nnew body\n",
		},
		{
			name: "header at end without newline",
			doc:  "### 16. IKIGAI BLUEPRINT",
			want: "### 16. IKIGAI BLUEPRINT\nnew body\n",
		},
		{
			name: "missing section appended",
			doc:  "### 1. IDENTITY\nx\n",
			want: "### 1. IDENTITY\nx\n\n### 16. IKIGAI BLUEPRINT\nnew body\n",
		},
		{
			name: "empty document",
			doc:  "",
			want: "### 16. IKIGAI BLUEPRINT\nnew body\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplaceSection(tt.doc, IkigaiHeader, "  new body \n"); got != tt.want {
				t.Errorf("ReplaceSection =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestReplaceSectionIgnoresInlineMention(t *testing.T) {
	doc := "see ### 16. IKIGAI BLUEPRINT later\n### 16. IKIGAI BLUEPRINT\nold\n"
	got := ReplaceSection(doc, IkigaiHeader, "new")
	if !strings.HasPrefix(got, "see ### 16. IKIGAI BLUEPRINT later\n") || !strings.HasSuffix(got, "BLUEPRINT\nnew\n") {
		t.Errorf("unexpected result %q", got)
	}
}
