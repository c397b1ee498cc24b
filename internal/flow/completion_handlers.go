package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/profile"
)

// newHandlers builds the standard completion handler for every mode.
func newHandlers(c *core) Handlers {
	return Handlers{
		Onboarding: &onboardingHandler{c},
		Profiling:  &profilingHandler{c},
		Analysis:   &analysisHandler{c},
		Ikigai: &reportHandler{core: c, purpose: analysis.PurposeIkigaiAnalysis, header: profile.IkigaiHeader,
			intro: "Answers received. Reflecting on your Ikigai...", title: "YOUR IKIGAI BLUEPRINT",
			saved: "This analysis is now saved in your profile."},
		Shadow: &reportHandler{core: c, purpose: analysis.PurposeShadowAnalysis, header: profile.ShadowHeader,
			intro: "Session complete. Taking a quiet moment to reflect on your words...", title: "YOUR SHADOW ARCHETYPE",
			saved: "This part of your Shadow is now lit up and saved in your profile."},
		Continuing: &continuingHandler{c},
		Default:    &defaultHandler{c},
	}
}

type onboardingHandler struct{ *core }

func (h *onboardingHandler) HandleCompletion(ctx context.Context, userID string, sess models.Session) error {
	h.send(ctx, userID, "Thank you for your answers! Creating your personal profile...", nil)
	_, err := h.editProfile(ctx, userID, func(existing string) (string, bool, error) {
		if strings.TrimSpace(existing) != "" {
			path, err := h.Profiles.Backup(ctx, userID)
			if err != nil {
				return "", false, fmt.Errorf("failed to back up profile: %w", err)
			}
			slog.Info("onboardingHandler: previous profile backed up", "userID", userID, "backup", path)
		}
		return profile.BuildInitialProfile(h.ProfileTemplate, sess.Interactions, h.ProfileRules), true, nil
	})
	if err != nil {
		h.send(ctx, userID, "Sorry, I could not save your profile. Please try /greeting again later.", nil)
		return fmt.Errorf("failed to write initial profile: %w", err)
	}
	h.send(ctx, userID, "Your profile is ready! Use /profile to extend it, or simply tell me about a goal.", nil)
	return h.recordResult(sess, "Initial profile created from onboarding answers.")
}

type profilingHandler struct{ *core }

func (h *profilingHandler) HandleCompletion(ctx context.Context, userID string, sess models.Session) error {
	h.send(ctx, userID, "Thank you for your answers! Updating your profile...", nil)
	if err := h.recordResult(sess, "Answered profile deepening questions."); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return h.scheduleProfileUpdate(ctx, sess)
}

type analysisHandler struct{ *core }

func (h *analysisHandler) HandleCompletion(ctx context.Context, userID string, sess models.Session) error {
	h.send(ctx, userID, "Thank you for your openness. This is valuable information.", nil)
	h.send(ctx, userID, "Updating your profile with the new facets of your personality...", nil)
	if err := h.updateProfile(ctx, userID, sess.Interactions); err != nil {
		slog.Error("analysisHandler: profile update failed", "userID", userID, "error", err)
	}
	return h.recordResult(sess, "Deep analysis answers folded into the profile.")
}

// reportHandler turns answers into an analysis text, shows it to the user
// and stores it in its own profile section.
type reportHandler struct {
	*core
	purpose analysis.RewritePurpose
	header  string
	intro   string
	title   string
	saved   string
}

func (h *reportHandler) HandleCompletion(ctx context.Context, userID string, sess models.Session) error {
	h.send(ctx, userID, h.intro, nil)
	current := h.readProfile(ctx, userID)
	text := h.Analyst.Rewrite(ctx, h.purpose, analysis.Request{Profile: current, Interactions: sess.Interactions})
	if text == "" {
		h.send(ctx, userID, "Sorry, I could not complete the analysis right now. Please try again later.", nil)
		return h.recordResult(sess, "")
	}
	h.send(ctx, userID, fmt.Sprintf("**%s:**\n\n%s", h.title, text), nil)

	// The section goes into the document as it is now, not the one the
	// analysis was computed from.
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), h.header))
	saved, err := h.editProfile(ctx, userID, func(latest string) (string, bool, error) {
		return profile.ReplaceSection(latest, h.header, body), true, nil
	})
	switch {
	case err != nil:
		slog.Error("reportHandler: failed to store analysis", "userID", userID, "purpose", h.purpose, "error", err)
	case saved:
		h.send(ctx, userID, h.saved, nil)
	}
	return h.recordResult(sess, text)
}

type continuingHandler struct{ *core }

func (h *continuingHandler) HandleCompletion(ctx context.Context, userID string, sess models.Session) error {
	h.send(ctx, userID, "Answers received! Updating your progress and profile...", nil)
	answered := make([]string, 0, len(sess.Interactions))
	for _, it := range sess.Interactions {
		answered = append(answered, it.Question)
	}
	if h.Store != nil {
		if err := h.Store.AppendProgress(userID, answered); err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}
	}
	if err := h.scheduleProfileUpdate(ctx, sess); err != nil {
		slog.Error("continuingHandler: failed to schedule profile update", "userID", userID, "error", err)
	}
	h.send(ctx, userID, "Progress saved! The next set of questions will arrive tomorrow, or use /continue.", nil)
	return h.recordResult(sess, "Continued the base profile questionnaire.")
}

type defaultHandler struct{ *core }

func (h *defaultHandler) HandleCompletion(ctx context.Context, userID string, sess models.Session) error {
	h.send(ctx, userID, "Thanks for your answers. Processing them and updating your profile...", nil)
	current := h.readProfile(ctx, userID)
	final := h.Analyst.Rewrite(ctx, analysis.PurposeGoalRewrite, analysis.Request{
		OriginalText: sess.OriginalText(),
		Profile:      current,
		Interactions: sess.Interactions,
	})
	if final != "" {
		h.send(ctx, userID, final, nil)
	}
	if err := h.updateProfile(ctx, userID, sess.Interactions); err != nil {
		slog.Error("defaultHandler: profile update failed", "userID", userID, "error", err)
	}
	if err := h.recordResult(sess, final); err != nil {
		slog.Error("defaultHandler: failed to record result", "userID", userID, "error", err)
	}

	h.send(ctx, userID, "Profile updated. Now let me run a deeper analysis to consolidate it...", nil)
	qs := h.Analyst.GenerateQuestions(ctx, analysis.PurposeDeepAnalysis, analysis.Request{Profile: h.readProfile(ctx, userID)})
	if len(qs) == 0 {
		h.send(ctx, userID, "There are no more questions at this stage.", nil)
		return nil
	}
	if len(qs) > MaxAnalysisQuestions {
		qs = qs[:MaxAnalysisQuestions]
	}
	intro := fmt.Sprintf("I prepared %d deeper questions to refine your portrait.", len(qs))
	if _, err := h.startBatch(ctx, userID, models.ModeAnalysis, qs, intro, "START EXPLORING"); err != nil {
		h.send(ctx, userID, "Something went wrong while preparing follow-up questions.", nil)
		return fmt.Errorf("failed to start analysis flow: %w", err)
	}
	return nil
}
