package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// CompletionHandler post-processes a finished flow.
type CompletionHandler interface {
	HandleCompletion(ctx context.Context, userID string, sess models.Session) error
}

// Handlers holds one completion handler per mode.
type Handlers struct {
	Onboarding CompletionHandler
	Profiling  CompletionHandler
	Analysis   CompletionHandler
	Ikigai     CompletionHandler
	Shadow     CompletionHandler
	Continuing CompletionHandler
	Default    CompletionHandler
}

// Dispatcher hands finished sessions to the handler for their mode and then
// removes them from the session store.
type Dispatcher struct {
	sessions *SessionStore
	handlers Handlers
}

// NewDispatcher creates a dispatcher over sessions.
func NewDispatcher(sessions *SessionStore, handlers Handlers) *Dispatcher {
	return &Dispatcher{sessions: sessions, handlers: handlers}
}

func (d *Dispatcher) handlerFor(mode models.Mode) (CompletionHandler, error) {
	var h CompletionHandler
	switch mode {
	case models.ModeOnboarding:
		h = d.handlers.Onboarding
	case models.ModeProfiling:
		h = d.handlers.Profiling
	case models.ModeAnalysis:
		h = d.handlers.Analysis
	case models.ModeIkigai:
		h = d.handlers.Ikigai
	case models.ModeShadow:
		h = d.handlers.Shadow
	case models.ModeContinuing:
		h = d.handlers.Continuing
	case models.ModeDefault:
		h = d.handlers.Default
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownMode, mode)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: no handler registered for %q", models.ErrUnknownMode, mode)
	}
	return h, nil
}

// Dispatch runs the completion handler for sess exactly once. The session is
// removed afterwards whatever the handler returns, unless the handler has
// already replaced it with a follow-on flow.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, sess models.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion handler panicked: %v", r)
			slog.Error("Dispatcher.Dispatch: handler panicked", "userID", userID, "mode", sess.Mode, "panic", r)
		}
		if d.sessions.RemoveIf(userID, sess.ID) {
			slog.Debug("Dispatcher.Dispatch: session removed", "userID", userID, "sessionID", sess.ID)
		}
	}()

	h, err := d.handlerFor(sess.Mode)
	if err != nil {
		slog.Error("Dispatcher.Dispatch: no handler", "userID", userID, "mode", sess.Mode, "error", err)
		return err
	}
	slog.Info("Dispatcher.Dispatch: dispatching", "userID", userID, "mode", sess.Mode, "sessionID", sess.ID, "interactions", len(sess.Interactions))
	if err := h.HandleCompletion(ctx, userID, sess.Clone()); err != nil {
		slog.Error("Dispatcher.Dispatch: handler failed", "userID", userID, "mode", sess.Mode, "error", err)
		return err
	}
	return nil
}
