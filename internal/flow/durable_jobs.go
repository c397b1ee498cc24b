package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/store"
)

// JobKindProfileUpdate folds a finished flow's answers into the user's
// profile in the background.
const JobKindProfileUpdate = "profile_update"

// ProfileUpdatePayload is the JSON payload for profile_update jobs.
type ProfileUpdatePayload struct {
	UserID       string               `json:"user_id"`
	SessionID    string               `json:"session_id,omitempty"`
	Interactions []models.Interaction `json:"interactions"`
}

// RegisterJobHandlers registers the flow job handlers with runner.
func (o *Orchestrator) RegisterJobHandlers(runner *store.JobRunner) {
	runner.RegisterHandler(JobKindProfileUpdate, makeProfileUpdateHandler(o.core))
}

func makeProfileUpdateHandler(c *core) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p ProfileUpdatePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("invalid profile_update payload: %w", err)
		}
		if p.UserID == "" {
			return fmt.Errorf("invalid profile_update payload: missing user_id")
		}
		slog.Info("flow.profileUpdateJob: executing", "jobID", job.ID, "userID", p.UserID, "interactions", len(p.Interactions))
		if err := c.updateProfile(ctx, p.UserID, p.Interactions); err != nil {
			return fmt.Errorf("profile update failed: %w", err)
		}
		return nil
	}
}

// scheduleProfileUpdate enqueues one profile_update job per session, or runs the update
// inline when no job repository is configured.
func (c *core) scheduleProfileUpdate(ctx context.Context, sess models.Session) error {
	userID := sess.UserID
	if len(sess.Interactions) == 0 {
		return nil
	}
	if c.Jobs == nil {
		return c.updateProfile(ctx, userID, sess.Interactions)
	}
	data, err := json.Marshal(ProfileUpdatePayload{UserID: userID, SessionID: sess.ID, Interactions: sess.Interactions})
	if err != nil {
		return fmt.Errorf("failed to encode profile_update payload: %w", err)
	}
	id, err := c.Jobs.EnqueueJob(JobKindProfileUpdate, c.Now(), string(data), JobKindProfileUpdate+":"+sess.ID)
	if err != nil {
		return fmt.Errorf("failed to enqueue profile_update: %w", err)
	}
	slog.Debug("flow.scheduleProfileUpdate: enqueued", "userID", userID, "jobID", id)
	return nil
}
