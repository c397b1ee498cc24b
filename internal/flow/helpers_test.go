package flow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/questionbank"
	"github.com/BTreeMap/AskFlow/internal/store"
)

type sentMessage struct {
	To       string
	Body     string
	Keyboard *models.Keyboard
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *recordingMessenger) SendMessage(ctx context.Context, to, body string, kb *models.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{To: to, Body: body, Keyboard: kb})
	return nil
}

func (m *recordingMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *recordingMessenger) last() sentMessage {
	msgs := m.messages()
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

func (m *recordingMessenger) contains(substr string) bool {
	for _, msg := range m.messages() {
		if strings.Contains(msg.Body, substr) {
			return true
		}
	}
	return false
}

type fakeAnalyst struct {
	mu        sync.Mutex
	questions map[analysis.QuestionPurpose][]models.Question
	rewrites  map[analysis.RewritePurpose]string
	calls     []string
	requests  []analysis.Request
}

func newFakeAnalyst() *fakeAnalyst {
	return &fakeAnalyst{
		questions: make(map[analysis.QuestionPurpose][]models.Question),
		rewrites:  make(map[analysis.RewritePurpose]string),
	}
}

func (a *fakeAnalyst) GenerateQuestions(ctx context.Context, purpose analysis.QuestionPurpose, req analysis.Request) []models.Question {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, string(purpose))
	a.requests = append(a.requests, req)
	return append([]models.Question(nil), a.questions[purpose]...)
}

func (a *fakeAnalyst) Rewrite(ctx context.Context, purpose analysis.RewritePurpose, req analysis.Request) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, string(purpose))
	a.requests = append(a.requests, req)
	return a.rewrites[purpose]
}

func (a *fakeAnalyst) called(purpose string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == purpose {
			n++
		}
	}
	return n
}

type memProfiles struct {
	mu      sync.Mutex
	docs    map[string]string
	backups int
}

func newMemProfiles() *memProfiles {
	return &memProfiles{docs: make(map[string]string)}
}

func (p *memProfiles) Read(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.docs[userID], nil
}

func (p *memProfiles) Write(ctx context.Context, userID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[userID] = text
	return nil
}

func (p *memProfiles) Backup(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backups++
	return userID + "_backup.md", nil
}

func (p *memProfiles) get(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.docs[userID]
}

type testEnv struct {
	orch      *Orchestrator
	messenger *recordingMessenger
	analyst   *fakeAnalyst
	profiles  *memProfiles
	store     *store.InMemoryStore
	now       time.Time
}

var testNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func openQuestions(texts ...string) []models.Question {
	qs := make([]models.Question, len(texts))
	for i, t := range texts {
		qs[i] = models.Question{Text: t, Kind: models.QuestionKindOpenText}
	}
	return qs
}

// newTestEnv builds an orchestrator over in-memory collaborators. modify may
// adjust the dependencies before construction.
func newTestEnv(t *testing.T, modify func(*Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		messenger: &recordingMessenger{},
		analyst:   newFakeAnalyst(),
		profiles:  newMemProfiles(),
		store:     store.NewInMemoryStore(),
		now:       testNow,
	}
	d := Deps{
		Messenger: env.messenger,
		Analyst:   env.analyst,
		Profiles:  env.profiles,
		Store:     env.store,
		Greetings: questionbank.New(openQuestions("How old are you?", "What is your field of work?")),
		Telos:     questionbank.New(openQuestions("T1", "T2", "T3")),
		WebAppURL: "https://example.org/app",
		Location:  time.UTC,
		Now:       func() time.Time { return env.now },
	}
	if modify != nil {
		modify(&d)
	}
	orch, err := New(d)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	env.orch = orch
	return env
}
