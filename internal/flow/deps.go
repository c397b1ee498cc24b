package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/profile"
	"github.com/BTreeMap/AskFlow/internal/questionbank"
	"github.com/BTreeMap/AskFlow/internal/store"
	"github.com/BTreeMap/AskFlow/internal/webapp"
)

// Messenger delivers text, with an optional keyboard, to a user.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string, kb *models.Keyboard) error
}

// Analyst generates questions and rewritten text. *analysis.Pipeline
// satisfies it; both methods fail open.
type Analyst interface {
	GenerateQuestions(ctx context.Context, purpose analysis.QuestionPurpose, req analysis.Request) []models.Question
	Rewrite(ctx context.Context, purpose analysis.RewritePurpose, req analysis.Request) string
}

// Persistence is the subset of store.Store the flows use.
type Persistence interface {
	store.ProgressRepo
	store.ResultRepo
	store.FireRepo
}

var _ Analyst = (*analysis.Pipeline)(nil)

// Limits on generated question batches.
const (
	// DefaultBatchSize caps CONTINUING batches.
	DefaultBatchSize = 10
	// MaxAnalysisQuestions caps deep analysis batches.
	MaxAnalysisQuestions = 5
	// MinGoalQuestions is the smallest decomposition that starts a DEFAULT flow.
	MinGoalQuestions = 3
)

// Deps wires the flow engine to its collaborators.
type Deps struct {
	Sessions  *SessionStore
	Messenger Messenger
	Analyst   Analyst
	Profiles  profile.Store
	Store     Persistence
	// Jobs receives deferred profile updates. When nil they run inline.
	Jobs store.JobRepo

	Greetings *questionbank.Bank
	Telos     *questionbank.Bank

	// WebAppURL is the question front end. When empty, batch flows are
	// asked one question at a time instead.
	WebAppURL       string
	ProfileTemplate string
	ProfileRules    []profile.Rule
	BatchSize       int
	Location        *time.Location
	Now             func() time.Time
}

// core is the shared plumbing behind the orchestrator, the completion
// handlers and the recurring trigger.
type core struct {
	Deps
	locks *keyedMutex
	// profileLocks serializes read-modify-write of each user's profile.
	// It is separate from locks because completion handlers and profile
	// jobs run after the session lock is released.
	profileLocks *keyedMutex
}

func newCore(d Deps) *core {
	if d.Sessions == nil {
		d.Sessions = NewSessionStore()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.ProfileTemplate == "" {
		d.ProfileTemplate = profile.DefaultTemplate()
	}
	if d.ProfileRules == nil {
		d.ProfileRules = profile.DefaultRules
	}
	return &core{Deps: d, locks: newKeyedMutex(), profileLocks: newKeyedMutex()}
}

// send delivers a message and logs delivery failures.
func (c *core) send(ctx context.Context, userID, body string, kb *models.Keyboard) {
	if c.Messenger == nil {
		return
	}
	if err := c.Messenger.SendMessage(ctx, userID, body, kb); err != nil {
		slog.Error("flow.send: failed to deliver message", "userID", userID, "error", err)
	}
}

func (c *core) readProfile(ctx context.Context, userID string) string {
	if c.Profiles == nil {
		return ""
	}
	doc, err := c.Profiles.Read(ctx, userID)
	if err != nil {
		slog.Error("flow.readProfile: failed to read profile", "userID", userID, "error", err)
		return ""
	}
	return doc
}

// askCurrent sends the prompt for the session's current question.
func (c *core) askCurrent(ctx context.Context, sess models.Session) {
	body, kb := Prompt(sess)
	if body == "" {
		return
	}
	c.send(ctx, sess.UserID, body, kb)
}

// startBatch starts a flow and invites the user to answer it. With a web app
// configured the whole batch is sent as one link button; otherwise the first
// question is asked directly.
func (c *core) startBatch(ctx context.Context, userID string, mode models.Mode, questions []models.Question, intro, button string) (models.Session, error) {
	questions = models.NormalizeQuestions(questions)
	var kb *models.Keyboard
	if c.WebAppURL != "" {
		link, err := webapp.EncodeURL(c.WebAppURL, questions)
		if err != nil {
			return models.Session{}, err
		}
		kb = &models.Keyboard{Buttons: []models.Button{{Text: button, WebAppURL: link}}}
	}
	sess, err := StartFlow(c.Sessions, userID, mode, questions, nil, c.Now())
	if err != nil {
		return models.Session{}, err
	}
	slog.Info("flow.startBatch: flow started", "userID", userID, "mode", mode, "sessionID", sess.ID, "questions", len(sess.Questions))
	if kb != nil {
		c.send(ctx, userID, intro, kb)
		return sess, nil
	}
	c.send(ctx, userID, intro, nil)
	c.askCurrent(ctx, sess)
	return sess, nil
}

// recordResult appends a finished flow to the results log.
func (c *core) recordResult(sess models.Session, finalText string) error {
	if c.Store == nil {
		return nil
	}
	return c.Store.AppendResult(models.FlowResult{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		Mode:         sess.Mode,
		OriginalText: sess.OriginalText(),
		Interactions: sess.Interactions,
		FinalText:    finalText,
		Timestamp:    c.Now(),
	})
}

// editProfile rewrites userID's profile under the profile lock. edit gets
// the current document and returns the replacement; ok false leaves the
// document untouched.
func (c *core) editProfile(ctx context.Context, userID string, edit func(current string) (doc string, ok bool, err error)) (bool, error) {
	if c.Profiles == nil {
		return false, nil
	}
	unlock := c.profileLocks.Lock(userID)
	defer unlock()
	current, err := c.Profiles.Read(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read profile: %w", err)
	}
	doc, ok, err := edit(current)
	if err != nil || !ok {
		return false, err
	}
	if err := c.Profiles.Write(ctx, userID, doc); err != nil {
		return false, fmt.Errorf("write profile: %w", err)
	}
	return true, nil
}

// updateProfile folds interactions into the user's profile document. An
// empty rewrite leaves the profile as it is.
func (c *core) updateProfile(ctx context.Context, userID string, interactions []models.Interaction) error {
	if c.Analyst == nil || len(interactions) == 0 {
		return nil
	}
	_, err := c.editProfile(ctx, userID, func(current string) (string, bool, error) {
		updated := c.Analyst.Rewrite(ctx, analysis.PurposeProfileUpdate, analysis.Request{Profile: current, Interactions: interactions})
		if strings.TrimSpace(updated) == "" {
			slog.Warn("flow.updateProfile: empty rewrite, profile unchanged", "userID", userID)
			return "", false, nil
		}
		return updated, true, nil
	})
	return err
}

// keyedMutex serializes work per user id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
