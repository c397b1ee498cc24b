package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/flow"
	"github.com/BTreeMap/AskFlow/internal/messaging"
	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/scheduler"
	"github.com/BTreeMap/AskFlow/internal/testutil"
	"github.com/BTreeMap/AskFlow/internal/twiliowhatsapp"
	"github.com/BTreeMap/AskFlow/internal/whatsapp"
)

const testUser = "15551234567"

func newTestServer(t *testing.T) (*Server, *testutil.Env) {
	t.Helper()
	env := testutil.NewOrchestrator(t)
	svc := messaging.NewWhatsAppService(whatsapp.NewMockClient())
	return NewServer(svc, env.Orchestrator, ""), env
}

// startProfiling opens a PROFILING session for testUser.
func startProfiling(t *testing.T, env *testutil.Env) {
	t.Helper()
	env.Analyst.Questions[analysis.PurposeProfileGaps] = []models.Question{{Text: "Q1"}, {Text: "Q2"}}
	if err := env.Orchestrator.HandleText(context.Background(), testUser, "/profile"); err != nil {
		t.Fatalf("/profile failed: %v", err)
	}
	if _, ok := env.Orchestrator.Sessions().Get(testUser); !ok {
		t.Fatal("expected a profiling session")
	}
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /health")
	testutil.AssertJSONResponse(t, rr, "ok")

	rr = serve(s, httptest.NewRequest(http.MethodPost, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "POST /health")
	if rr.Header().Get("Allow") != http.MethodGet {
		t.Errorf("Allow = %q", rr.Header().Get("Allow"))
	}
}

func TestSessionsHandler(t *testing.T) {
	s, env := newTestServer(t)
	startProfiling(t, env)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /sessions")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("result missing: %v", resp)
	}
	if result["count"] != float64(1) {
		t.Errorf("count = %v", result["count"])
	}
	modes := result["modes"].(map[string]interface{})
	if modes[string(models.ModeProfiling)] != float64(1) {
		t.Errorf("modes = %v", modes)
	}
}

func TestWebappSubmitStructuredPayload(t *testing.T) {
	s, env := newTestServer(t)
	startProfiling(t, env)

	payload := models.StructuredPayload{
		UserID:  "+1 555 123 4567",
		Answers: []models.Interaction{{Question: "Q1", Answer: "a1"}, {Question: "Q2", Answer: "a2"}},
	}
	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/webapp/submit", payload))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit")
	testutil.AssertJSONResponse(t, rr, "ok")

	if env.Orchestrator.Sessions().Len() != 0 {
		t.Error("session should be removed after dispatch")
	}
	results, _ := env.Store.ListResults(testUser)
	if len(results) != 1 || results[0].Mode != models.ModeProfiling || len(results[0].Interactions) != 2 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestWebappSubmitBareArray(t *testing.T) {
	s, env := newTestServer(t)
	startProfiling(t, env)

	body := `[{"question":"Q1","answer":"x"},{"question":"","answer":"dropped"}]`
	req := httptest.NewRequest(http.MethodPost, "/webapp/submit?user="+url.QueryEscape(testUser), strings.NewReader(body))
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit array")

	results, _ := env.Store.ListResults(testUser)
	if len(results) != 1 || len(results[0].Interactions) != 1 || results[0].Interactions[0].Answer != "x" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestWebappSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "/webapp/submit", "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "/webapp/submit", `{"user_id":`, http.StatusBadRequest},
		{"missing user", http.MethodPost, "/webapp/submit", `[]`, http.StatusBadRequest},
		{"no session", http.MethodPost, "/webapp/submit", `{"user_id":"15550000000","answers":[]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			rr := serve(s, httptest.NewRequest(tt.method, tt.target, bytes.NewBufferString(tt.body)))
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestWebappSubmitWhileDispatching(t *testing.T) {
	s, env := newTestServer(t)
	startProfiling(t, env)
	if err := env.Orchestrator.Sessions().Update(testUser, func(sess *models.Session) error {
		sess.Status = models.SessionStatusDispatching
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rr := serve(s, httptest.NewRequest(http.MethodPost, "/webapp/submit", strings.NewReader(`{"user_id":"`+testUser+`","answers":[]}`)))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "dispatching")
}

func TestTwilioWebhookRouteOnlyForTwilio(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, httptest.NewRequest(http.MethodPost, "/twilio/webhook", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "whatsapp transport")

	env := testutil.NewOrchestrator(t)
	tw := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	ts := NewServer(tw, env.Orchestrator, ":0")

	form := url.Values{"From": {"whatsapp:+" + testUser}, "Body": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = serve(ts, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "twilio webhook")

	select {
	case msg := <-tw.Responses():
		if msg.From != testUser || msg.Text != "hello" {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook message not forwarded")
	}

	rr = serve(ts, httptest.NewRequest(http.MethodGet, "/twilio/webhook", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET webhook")
}

func TestBuildOptsDefaults(t *testing.T) {
	cfg := buildOpts(nil)
	if cfg.Addr != DefaultAddr || cfg.DailySchedule != scheduler.DefaultDailySchedule || cfg.Transport != TransportWhatsApp {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	cfg = buildOpts([]Option{WithAddr(":9090"), WithDailySchedule("0 9 * * *"), WithTransport(TransportTwilio), WithBatchSize(3), WithSessionTimeout(time.Minute)})
	if cfg.Addr != ":9090" || cfg.DailySchedule != "0 9 * * *" || cfg.Transport != TransportTwilio || cfg.BatchSize != 3 || cfg.SessionTimeout != time.Minute {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	err := Run(nil, nil, nil, nil, []Option{WithDailySchedule("not a cron")})
	if err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}

func TestNewMessagingServiceUnknownTransport(t *testing.T) {
	if _, err := newMessagingService("carrier-pigeon", nil, nil); err == nil {
		t.Fatal("expected an error for an unknown transport")
	}
}

func TestLoadBank(t *testing.T) {
	if _, err := loadBank("GREETING_QUESTIONS", ""); err == nil || !strings.Contains(err.Error(), "GREETING_QUESTIONS") {
		t.Fatalf("unset path: err = %v", err)
	}
	if _, err := loadBank("TELOS_QUESTIONS", "/nonexistent/bank.json"); err == nil {
		t.Fatal("expected error for a missing bank")
	}

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadBank("TELOS_QUESTIONS", empty); err == nil {
		t.Fatal("expected error for an empty bank")
	}

	good := filepath.Join(dir, "telos.json")
	if err := os.WriteFile(good, []byte(`[{"question_text":"T1"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	bank, err := loadBank("TELOS_QUESTIONS", good)
	if err != nil || bank.Len() != 1 {
		t.Fatalf("good bank: bank=%v err=%v", bank, err)
	}
}

func TestRunRequiresQuestionBanks(t *testing.T) {
	err := Run(nil, nil, nil, nil, []Option{WithDailySchedule(scheduler.DefaultDailySchedule)})
	if err == nil || !strings.Contains(err.Error(), "GREETING_QUESTIONS") {
		t.Fatalf("Run without banks: err = %v", err)
	}
}

type ctxKey struct{}

// ctxRecorder captures the context a submission is dispatched with.
type ctxRecorder struct {
	err   error
	value interface{}
}

func (c *ctxRecorder) HandleStructured(ctx context.Context, payload models.StructuredPayload) error {
	c.err = ctx.Err()
	c.value = ctx.Value(ctxKey{})
	return nil
}

func (c *ctxRecorder) Sessions() *flow.SessionStore { return flow.NewSessionStore() }

func TestWebappSubmitSurvivesClientDisconnect(t *testing.T) {
	rec := &ctxRecorder{}
	s := NewServer(messaging.NewWhatsAppService(whatsapp.NewMockClient()), rec, "")

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "request"))
	cancel()
	payload := models.StructuredPayload{UserID: testUser, Answers: []models.Interaction{{Question: "Q1", Answer: "A1"}}}
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/webapp/submit", payload).WithContext(ctx)

	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit after disconnect")
	if rec.err != nil {
		t.Errorf("dispatch context cancelled with the request: %v", rec.err)
	}
	if rec.value != "request" {
		t.Errorf("dispatch context lost request values: %v", rec.value)
	}
}
