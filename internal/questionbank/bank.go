// Package questionbank loads static question lists from JSON or YAML files.
//
// Banks back the flows whose questions are not generated: the onboarding
// greeting questions and the telos questions used by CONTINUING batches.
package questionbank

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/AskFlow/internal/models"
	"gopkg.in/yaml.v3"
)

// Bank is an immutable, normalized list of questions.
type Bank struct {
	path      string
	questions []models.Question
}

// Load reads a bank from path. Files ending in .yaml or .yml are decoded with
// YAML, everything else as JSON. An empty bank is an error.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question bank %s: %w", path, err)
	}
	qs, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse question bank %s: %w", path, err)
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("question bank %s contains no questions", path)
	}
	slog.Debug("questionbank.Load", "path", path, "questions", len(qs))
	return &Bank{path: path, questions: qs}, nil
}

// New builds a bank from questions already in memory.
func New(questions []models.Question) *Bank {
	return &Bank{questions: models.NormalizeQuestions(questions)}
}

// Parse decodes a bank document. ext selects the format (".yaml", ".yml" or JSON).
func Parse(data []byte, ext string) ([]models.Question, error) {
	var raw []models.Question
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return models.NormalizeQuestions(raw), nil
}

// Path returns the file the bank was loaded from, if any.
func (b *Bank) Path() string {
	return b.path
}

// Len returns the number of questions in the bank.
func (b *Bank) Len() int {
	return len(b.questions)
}

// All returns a copy of every question in bank order.
func (b *Bank) All() []models.Question {
	out := make([]models.Question, len(b.questions))
	copy(out, b.questions)
	return out
}

// Unanswered returns up to limit questions whose text is not in answered,
// in bank order. A limit <= 0 means no cap.
func (b *Bank) Unanswered(answered []string, limit int) []models.Question {
	return FilterUnanswered(b.questions, answered, limit)
}

// FilterUnanswered drops questions whose text appears in answered and caps
// the result at limit entries (no cap when limit <= 0).
func FilterUnanswered(questions []models.Question, answered []string, limit int) []models.Question {
	seen := make(map[string]bool, len(answered))
	for _, a := range answered {
		seen[a] = true
	}
	var out []models.Question
	for _, q := range questions {
		if seen[q.Text] {
			continue
		}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
