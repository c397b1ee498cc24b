package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
)

func TestUserQueuesKeepsPerSenderOrder(t *testing.T) {
	var mu sync.Mutex
	got := make(map[string][]string)
	q := newUserQueues(func(msg models.InboundMessage) {
		mu.Lock()
		got[msg.From] = append(got[msg.From], msg.Text)
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		for _, from := range []string{"u1", "u2", "u3"} {
			q.push(models.InboundMessage{From: from, Text: fmt.Sprint(i)})
		}
	}
	q.wait()

	for _, from := range []string{"u1", "u2", "u3"} {
		texts := got[from]
		if len(texts) != 100 {
			t.Fatalf("%s: handled %d messages, want 100", from, len(texts))
		}
		for i, text := range texts {
			if text != fmt.Sprint(i) {
				t.Fatalf("%s: message %d = %q, want %d", from, i, text, i)
			}
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) != 0 {
		t.Errorf("drained queues left behind: %v", q.pending)
	}
}

func TestRunAppliesBurstInArrivalOrder(t *testing.T) {
	const answers = 50
	for trial := 0; trial < 5; trial++ {
		env := newTestEnv(t, func(d *Deps) { d.WebAppURL = "" })
		texts := make([]string, answers+1)
		for i := range texts {
			texts[i] = fmt.Sprintf("Q%d", i)
		}
		if _, err := StartFlow(env.orch.Sessions(), "u1", models.ModeAnalysis, openQuestions(texts...), nil, testNow); err != nil {
			t.Fatalf("StartFlow: %v", err)
		}

		src := make(chanSource, answers)
		for i := 0; i < answers; i++ {
			src <- models.InboundMessage{From: "u1", Text: fmt.Sprintf("a%d", i)}
		}
		close(src)

		done := make(chan struct{})
		go func() {
			env.orch.Run(context.Background(), src)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
		}

		sess, ok := env.orch.Sessions().Get("u1")
		if !ok {
			t.Fatal("session disappeared before its last question")
		}
		if len(sess.Interactions) != answers {
			t.Fatalf("trial %d: %d interactions, want %d", trial, len(sess.Interactions), answers)
		}
		for i, in := range sess.Interactions {
			if in.Question != fmt.Sprintf("Q%d", i) || in.Answer != fmt.Sprintf("a%d", i) {
				t.Fatalf("trial %d: interaction %d = %+v", trial, i, in)
			}
		}
	}
}
