package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/models"
)

// mockTestingT records failures; Fatalf stops the caller with a panic.
type mockTestingT struct {
	failed   bool
	errorMsg string
}

type fatal struct{}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.Errorf(format, args...)
	panic(fatal{})
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{"matching status codes", 200, 200, false},
		{"different status codes", 200, 404, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "ctx")
			if mockT.failed != tt.shouldFail {
				t.Errorf("failed = %v, want %v", mockT.failed, tt.shouldFail)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		shouldFail bool
	}{
		{"matching status", `{"status":"ok","result":1}`, false},
		{"different status", `{"status":"error"}`, true},
		{"invalid JSON", `{"status":}`, true},
		{"missing status", `{"result":1}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.body)
			func() {
				defer func() {
					if r := recover(); r != nil {
						if _, ok := r.(fatal); !ok {
							panic(r)
						}
					}
				}()
				AssertJSONResponse(mockT, rr, "ok")
			}()
			if mockT.failed != tt.shouldFail {
				t.Errorf("failed = %v (%s), want %v", mockT.failed, mockT.errorMsg, tt.shouldFail)
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, "POST", "/webapp/submit", models.StructuredPayload{UserID: "u"})
	if req.Method != "POST" || req.URL.Path != "/webapp/submit" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", req.Header.Get("Content-Type"))
	}

	empty := CreateHTTPRequest(t, "GET", "/health", nil)
	if empty.Header.Get("Content-Type") != "" {
		t.Error("GET without body should not set a content type")
	}
}

func TestNewOrchestrator(t *testing.T) {
	env := NewOrchestrator(t)
	env.Analyst.Questions[analysis.PurposeGoal] = []models.Question{{Text: "a"}, {Text: "b"}, {Text: "c"}}

	if err := env.Orchestrator.HandleText(context.Background(), "15551234567", "learn go"); err != nil {
		t.Fatalf("HandleText failed: %v", err)
	}
	if env.Orchestrator.Sessions().Len() != 1 {
		t.Fatalf("expected one session, got %d", env.Orchestrator.Sessions().Len())
	}
	if len(env.Messenger.Messages()) == 0 {
		t.Error("expected the first question to be sent")
	}
}
