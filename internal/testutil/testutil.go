// Package testutil provides shared helpers for AskFlow tests: HTTP assertions
// and a ready-to-use orchestrator backed by in-memory collaborators.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/flow"
	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/profile"
	"github.com/BTreeMap/AskFlow/internal/store"
)

// TB is the subset of testing.TB the assertions use.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus fails the test when actual differs from expected.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an APIResponse envelope and checks its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field")
		return response
	}
	if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// CreateHTTPRequest builds a request whose body is body marshaled as JSON.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		buf.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals v and fails the test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// Message is one outbound message seen by RecordingMessenger.
type Message struct {
	To       string
	Body     string
	Keyboard *models.Keyboard
}

// RecordingMessenger stores every message instead of delivering it.
type RecordingMessenger struct {
	mu       sync.Mutex
	messages []Message
}

func (m *RecordingMessenger) SendMessage(ctx context.Context, to, body string, kb *models.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{To: to, Body: body, Keyboard: kb})
	return nil
}

// Messages returns a copy of what was sent.
func (m *RecordingMessenger) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// StubAnalyst returns canned questions per purpose and canned rewrites.
type StubAnalyst struct {
	Questions map[analysis.QuestionPurpose][]models.Question
	Rewrites  map[analysis.RewritePurpose]string
}

func (a *StubAnalyst) GenerateQuestions(ctx context.Context, purpose analysis.QuestionPurpose, req analysis.Request) []models.Question {
	return a.Questions[purpose]
}

func (a *StubAnalyst) Rewrite(ctx context.Context, purpose analysis.RewritePurpose, req analysis.Request) string {
	return a.Rewrites[purpose]
}

// Env is a wired orchestrator over in-memory persistence.
type Env struct {
	Orchestrator *flow.Orchestrator
	Messenger    *RecordingMessenger
	Analyst      *StubAnalyst
	Store        *store.InMemoryStore
}

// NewOrchestrator builds an orchestrator with a recording messenger, a stub
// analyst, an in-memory store and profiles under a temp directory.
func NewOrchestrator(t testing.TB) *Env {
	t.Helper()
	profiles, err := profile.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("profile store: %v", err)
	}
	env := &Env{
		Messenger: &RecordingMessenger{},
		Analyst: &StubAnalyst{
			Questions: map[analysis.QuestionPurpose][]models.Question{},
			Rewrites:  map[analysis.RewritePurpose]string{},
		},
		Store: store.NewInMemoryStore(),
	}
	orch, err := flow.New(flow.Deps{
		Messenger: env.Messenger,
		Analyst:   env.Analyst,
		Profiles:  profiles,
		Store:     env.Store,
	})
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	env.Orchestrator = orch
	return env
}
