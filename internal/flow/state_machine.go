package flow

import (
	"fmt"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/util"
)

// SkipToken advances past the current question without recording an answer.
const SkipToken = "Next question"

// Result is the outcome of submitting one answer.
type Result int

const (
	// Rejected leaves the session unchanged; the same question must be asked again.
	Rejected Result = iota
	// Accepted means the session moved to the next step.
	Accepted
)

func (r Result) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "rejected"
}

// StartFlow creates a fresh session for userID and stores it, discarding any
// session the user already had. Only DEFAULT flows may carry a goal seed.
func StartFlow(store *SessionStore, userID string, mode models.Mode, questions []models.Question, goal *models.GoalSeed, now time.Time) (models.Session, error) {
	if userID == "" {
		return models.Session{}, fmt.Errorf("%w: user id is required", models.ErrInvalidFlow)
	}
	if !mode.IsValid() {
		return models.Session{}, fmt.Errorf("%w: unknown mode %q", models.ErrInvalidFlow, mode)
	}
	if goal != nil && mode != models.ModeDefault {
		return models.Session{}, fmt.Errorf("%w: goal seed is only valid for %s flows", models.ErrInvalidFlow, models.ModeDefault)
	}
	qs := models.NormalizeQuestions(questions)
	if len(qs) == 0 {
		return models.Session{}, fmt.Errorf("%w: no questions", models.ErrInvalidFlow)
	}
	sess := models.Session{
		ID:           util.NewSessionID(),
		UserID:       userID,
		Mode:         mode,
		Questions:    qs,
		Interactions: []models.Interaction{},
		LastActivity: now,
		Status:       models.SessionStatusActive,
	}
	if goal != nil {
		g := *goal
		sess.Goal = &g
	}
	store.Put(sess)
	return sess.Clone(), nil
}

// SubmitAnswer records raw against the current question and advances the
// session. A multiple choice answer that is neither a variant nor SkipToken
// is rejected and leaves s untouched, as is any input for a finished or
// dispatching session.
func SubmitAnswer(s *models.Session, raw string, now time.Time) Result {
	q, ok := CurrentQuestion(*s)
	if !ok || s.Status == models.SessionStatusDispatching {
		return Rejected
	}
	skip := raw == SkipToken
	if q.IsMultipleChoice() && !skip && !q.HasVariant(raw) {
		return Rejected
	}
	if !skip {
		s.Interactions = append(s.Interactions, models.Interaction{Question: q.Text, Answer: raw})
	}
	s.Step++
	s.LastActivity = now
	return Accepted
}

// IsComplete reports whether every question of s has been stepped past.
func IsComplete(s models.Session) bool {
	return s.IsComplete()
}

// CurrentQuestion returns the question at the session's step.
func CurrentQuestion(s models.Session) (models.Question, bool) {
	if s.Step < 0 || s.Step >= len(s.Questions) {
		return models.Question{}, false
	}
	return s.Questions[s.Step], true
}

// Prompt renders the current question as "Question i/N: text" together with
// a one-time keyboard of its variants and the skip button.
func Prompt(s models.Session) (string, *models.Keyboard) {
	q, ok := CurrentQuestion(s)
	if !ok {
		return "", nil
	}
	kb := &models.Keyboard{OneTime: true}
	for _, v := range q.Variants {
		kb.Buttons = append(kb.Buttons, models.Button{Text: v})
	}
	kb.Buttons = append(kb.Buttons, models.Button{Text: SkipToken})
	return fmt.Sprintf("Question %d/%d: %s", s.Step+1, len(s.Questions), q.Text), kb
}
