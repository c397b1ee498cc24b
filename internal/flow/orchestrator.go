package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/profile"
)

// User-facing replies shared by several paths.
const (
	msgStillProcessing = "I'm still processing your previous answers, please wait a moment."
	msgSessionNotFound = "Session not found."
	msgChooseVariant   = "Please choose one of the options."
	msgHelp            = "Hi! Use /greeting to get acquainted, /profile to work on your profile, " +
		"/analysis, /ikigai or /shadow for deeper sessions, /continue for the next questions and /tasks for your plan."
)

// Responses is the inbound side of a transport.
type Responses interface {
	Responses() <-chan models.InboundMessage
}

// Orchestrator routes user input into flows and dispatches finished ones.
type Orchestrator struct {
	*core
	dispatcher *Dispatcher
	recurring  *RecurringTrigger
}

// New builds an orchestrator with the standard completion handlers.
func New(d Deps) (*Orchestrator, error) {
	if d.Messenger == nil {
		return nil, fmt.Errorf("flow: messenger is required")
	}
	if d.Analyst == nil {
		return nil, fmt.Errorf("flow: analyst is required")
	}
	c := newCore(d)
	return &Orchestrator{
		core:       c,
		dispatcher: NewDispatcher(c.Sessions, newHandlers(c)),
		recurring:  &RecurringTrigger{core: c},
	}, nil
}

// Sessions returns the live session store.
func (o *Orchestrator) Sessions() *SessionStore { return o.core.Sessions }

// Recurring returns the daily CONTINUING trigger.
func (o *Orchestrator) Recurring() *RecurringTrigger { return o.recurring }

// Run handles inbound messages until ctx is cancelled or the channel closes.
// Messages from one sender are handled one after another in arrival order;
// different senders are handled concurrently.
func (o *Orchestrator) Run(ctx context.Context, src Responses) {
	queues := newUserQueues(func(msg models.InboundMessage) {
		if err := o.HandleText(ctx, msg.From, msg.Text); err != nil {
			slog.Debug("Orchestrator.Run: message not handled", "from", msg.From, "error", err)
		}
	})
	defer queues.wait()

	ch := src.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			queues.push(msg)
		}
	}
}

// HandleText processes one text message from userID: a command, an answer
// to the current question, or a new goal that seeds a DEFAULT flow.
func (o *Orchestrator) HandleText(ctx context.Context, userID, text string) error {
	text = strings.TrimSpace(text)
	if userID == "" || text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return o.handleCommand(ctx, userID, text)
	}

	unlock := o.locks.Lock(userID)
	var finished *models.Session
	err := o.Sessions().Update(userID, func(s *models.Session) error {
		if s.Status == models.SessionStatusDispatching {
			return models.ErrSessionDispatching
		}
		if SubmitAnswer(s, text, o.Now()) == Rejected {
			return errRejected
		}
		if s.IsComplete() {
			s.Status = models.SessionStatusDispatching
			done := s.Clone()
			finished = &done
		}
		return nil
	})
	switch {
	case errors.Is(err, models.ErrNoActiveSession):
		err = o.seedGoal(ctx, userID, text)
		unlock()
		return err
	case errors.Is(err, models.ErrSessionDispatching):
		unlock()
		o.send(ctx, userID, msgStillProcessing, nil)
		return err
	case errors.Is(err, errRejected):
		sess, _ := o.Sessions().Get(userID)
		unlock()
		o.send(ctx, userID, msgChooseVariant, nil)
		o.askCurrent(ctx, sess)
		return nil
	case err != nil:
		unlock()
		return err
	}
	if finished == nil {
		sess, _ := o.Sessions().Get(userID)
		unlock()
		o.askCurrent(ctx, sess)
		return nil
	}
	unlock()
	return o.dispatcher.Dispatch(ctx, userID, *finished)
}

var errRejected = errors.New("answer rejected")

// HandleStructured completes the user's session with a full answer batch from
// the web front end.
func (o *Orchestrator) HandleStructured(ctx context.Context, payload models.StructuredPayload) error {
	userID := payload.UserID
	if userID == "" {
		return models.ErrNoActiveSession
	}
	unlock := o.locks.Lock(userID)
	var finished models.Session
	err := o.Sessions().Update(userID, func(s *models.Session) error {
		if s.Status == models.SessionStatusDispatching {
			return models.ErrSessionDispatching
		}
		s.Interactions = append([]models.Interaction{}, payload.Answers...)
		s.Step = len(s.Questions)
		s.LastActivity = o.Now()
		s.Status = models.SessionStatusDispatching
		finished = s.Clone()
		return nil
	})
	unlock()
	switch {
	case errors.Is(err, models.ErrNoActiveSession):
		o.send(ctx, userID, msgSessionNotFound, nil)
		return err
	case errors.Is(err, models.ErrSessionDispatching):
		o.send(ctx, userID, msgStillProcessing, nil)
		return err
	case err != nil:
		return err
	}
	slog.Info("Orchestrator.HandleStructured: batch received", "userID", userID, "mode", finished.Mode, "answers", len(finished.Interactions))
	return o.dispatcher.Dispatch(ctx, userID, finished)
}

func (o *Orchestrator) handleCommand(ctx context.Context, userID, text string) error {
	cmd := strings.ToLower(strings.Fields(text)[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	if cmd == "/continue" {
		if o.busy(ctx, userID) {
			return models.ErrSessionDispatching
		}
		err := o.recurring.Continue(ctx, userID)
		if errors.Is(err, errAllAnswered) || errors.Is(err, errBankMissing) {
			return nil
		}
		return err
	}

	unlock := o.locks.Lock(userID)
	defer unlock()
	if o.busy(ctx, userID) {
		return models.ErrSessionDispatching
	}
	slog.Debug("Orchestrator.handleCommand", "userID", userID, "command", cmd)

	switch cmd {
	case "/start":
		return o.cmdStart(ctx, userID)
	case "/greeting", "/greetings":
		o.send(ctx, userID, "Opening the questionnaire...", nil)
		return o.startOnboarding(ctx, userID, "Questions are ready! Tap the button below.")
	case "/tasks":
		return o.cmdTasks(ctx, userID)
	case "/profile":
		o.send(ctx, userID, "Analyzing your profile... Please wait 10-15 seconds.", nil)
		return o.startGenerated(ctx, userID, models.ModeProfiling, analysis.PurposeProfileGaps, 0,
			"I found some interesting topics to discuss. Tap the button below.", "FILL IN PROFILE",
			"Your profile is already detailed enough!")
	case "/analysis":
		o.send(ctx, userID, "Starting a deep analysis of your profile...", nil)
		return o.startGenerated(ctx, userID, models.ModeAnalysis, analysis.PurposeDeepAnalysis, MaxAnalysisQuestions,
			"Analysis complete. I prepared %d questions.", "START EXPLORING",
			"Your profile does not need a deep analysis yet.")
	case "/ikigai":
		o.send(ctx, userID, "Let's begin the search for your Ikigai...", nil)
		return o.startGenerated(ctx, userID, models.ModeIkigai, analysis.PurposeIkigai, 0,
			"The questions are ready. Switch off logic, switch on feelings.", "IKIGAI PATH",
			"Could not start the Ikigai session.")
	case "/shadow":
		o.send(ctx, userID, "Let's look behind the curtain of your usual self. This practice can be uncomfortable; answer only when you feel ready.", nil)
		return o.startGenerated(ctx, userID, models.ModeShadow, analysis.PurposeShadow, 0,
			"I prepared %d mirror questions. Tap the button when you are ready.", "ENTER THE SHADOW",
			"The fog is too thick today. Try again later.")
	case "/cancel":
		if _, ok := o.Sessions().Get(userID); !ok {
			o.send(ctx, userID, "There is nothing to cancel.", nil)
			return nil
		}
		o.Sessions().Remove(userID)
		o.send(ctx, userID, "Session cancelled.", nil)
		return nil
	default:
		o.send(ctx, userID, msgHelp, nil)
		return nil
	}
}

// busy reports, and tells the user, when their finished flow is still being handled.
func (o *Orchestrator) busy(ctx context.Context, userID string) bool {
	cur, ok := o.Sessions().Get(userID)
	if !ok || cur.Status != models.SessionStatusDispatching {
		return false
	}
	o.send(ctx, userID, msgStillProcessing, nil)
	return true
}

func (o *Orchestrator) cmdStart(ctx context.Context, userID string) error {
	o.Sessions().Remove(userID)
	o.registerUser(userID)
	if strings.TrimSpace(o.readProfile(ctx, userID)) != "" {
		o.send(ctx, userID, msgHelp, nil)
		return nil
	}
	o.send(ctx, userID, "Hi! Looks like we haven't met yet. Preparing your personal questionnaire...", nil)
	n := 0
	if o.Greetings != nil {
		n = o.Greetings.Len()
	}
	return o.startOnboarding(ctx, userID, fmt.Sprintf("Your questionnaire is ready! Tap the button below to take a quick personality test (%d questions).", n))
}

func (o *Orchestrator) startOnboarding(ctx context.Context, userID, intro string) error {
	if o.Greetings == nil || o.Greetings.Len() == 0 {
		o.send(ctx, userID, "Could not load the questions. Please try /start again.", nil)
		return fmt.Errorf("%w: greeting bank is empty", models.ErrInvalidFlow)
	}
	if _, err := o.startBatch(ctx, userID, models.ModeOnboarding, o.Greetings.All(), intro, "OPEN QUESTIONNAIRE"); err != nil {
		o.send(ctx, userID, "Something went wrong while preparing the questionnaire.", nil)
		return err
	}
	o.registerUser(userID)
	return nil
}

// startGenerated asks the analyst for a question batch and starts a flow with
// it. An empty batch is not a failure; the user gets the empty reply instead.
// intro may contain a single %d for the batch size.
func (o *Orchestrator) startGenerated(ctx context.Context, userID string, mode models.Mode, purpose analysis.QuestionPurpose, limit int, intro, button, empty string) error {
	qs := o.Analyst.GenerateQuestions(ctx, purpose, analysis.Request{Profile: o.readProfile(ctx, userID)})
	if len(qs) == 0 {
		o.send(ctx, userID, empty, nil)
		return nil
	}
	if limit > 0 && len(qs) > limit {
		qs = qs[:limit]
	}
	if strings.Contains(intro, "%d") {
		intro = fmt.Sprintf(intro, len(qs))
	}
	if _, err := o.startBatch(ctx, userID, mode, qs, intro, button); err != nil {
		o.send(ctx, userID, "Sorry, something went wrong while preparing your questions.", nil)
		return err
	}
	return nil
}

func (o *Orchestrator) cmdTasks(ctx context.Context, userID string) error {
	o.send(ctx, userID, "Loading your current task plan...", nil)
	tasks := profile.ExtractSection(o.readProfile(ctx, userID), profile.TasksHeader)
	if tasks == "" {
		o.send(ctx, userID, "Your task list is empty for now. Tell me about a goal and I will help you plan it!", nil)
		return nil
	}
	o.send(ctx, userID, "**Your current plan:**\n"+tasks, nil)
	return nil
}

// seedGoal decomposes free text into questions and starts a DEFAULT flow
// asked one question at a time. Caller holds the user lock.
func (o *Orchestrator) seedGoal(ctx context.Context, userID, text string) error {
	o.send(ctx, userID, "Analyzing your request...", nil)
	qs := models.NormalizeQuestions(o.Analyst.GenerateQuestions(ctx, analysis.PurposeGoal, analysis.Request{
		Input:   text,
		Profile: o.readProfile(ctx, userID),
	}))
	if len(qs) < MinGoalQuestions {
		o.send(ctx, userID, "Could not analyze the request.", nil)
		return nil
	}
	sess, err := StartFlow(o.Sessions(), userID, models.ModeDefault, qs, &models.GoalSeed{OriginalText: text}, o.Now())
	if err != nil {
		o.send(ctx, userID, "Could not analyze the request.", nil)
		return err
	}
	slog.Info("Orchestrator.seedGoal: default flow started", "userID", userID, "sessionID", sess.ID, "questions", len(sess.Questions))
	o.askCurrent(ctx, sess)
	return nil
}

func (o *Orchestrator) registerUser(userID string) {
	if o.Store == nil {
		return
	}
	if err := o.Store.RegisterUser(userID); err != nil {
		slog.Warn("Orchestrator.registerUser: failed", "userID", userID, "error", err)
	}
}
