package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/scheduler"
)

// Outcomes of a single CONTINUING trigger.
var (
	errAllAnswered  = errors.New("all questions answered")
	errBankMissing  = errors.New("question bank unavailable")
	errAlreadyFired = errors.New("already triggered today")
	errUserBusy     = errors.New("session is dispatching")
)

// RecurringTrigger starts a CONTINUING flow for every known user on a cron
// schedule, drawing each batch from the telos bank minus the questions the
// user has already answered.
type RecurringTrigger struct {
	*core
}

// FireKey identifies the scheduled trigger for userID on day.
func FireKey(userID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", models.ModeContinuing, userID, day.Format("2006-01-02"))
}

// Register adds the daily trigger to s under expr. Runs use ctx, so
// cancelling it stops a run that is still in progress.
func (t *RecurringTrigger) Register(ctx context.Context, s *scheduler.Scheduler, expr string) error {
	if expr == "" {
		expr = scheduler.DefaultDailySchedule
	}
	return s.AddJob(expr, t.scheduledRun(ctx))
}

func (t *RecurringTrigger) scheduledRun(ctx context.Context) func() {
	return func() {
		if ctx.Err() != nil {
			slog.Info("RecurringTrigger: shutting down, scheduled run skipped")
			return
		}
		t.Fire(ctx, t.Now())
	}
}

// Fire runs the scheduled trigger for every known user concurrently and
// waits for all of them. It returns how many flows were started.
func (t *RecurringTrigger) Fire(ctx context.Context, now time.Time) int {
	if t.Store == nil {
		return 0
	}
	users, err := t.Store.ListUsers()
	if err != nil {
		slog.Error("RecurringTrigger.Fire: failed to list users", "error", err)
		return 0
	}
	slog.Info("RecurringTrigger.Fire: triggering", "users", len(users))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for _, userID := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("RecurringTrigger.Fire: trigger panicked", "userID", userID, "panic", r)
				}
			}()
			if err := t.trigger(ctx, userID, now, false); err != nil {
				slog.Debug("RecurringTrigger.Fire: skipped user", "userID", userID, "reason", err)
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
		}(userID)
	}
	wg.Wait()
	return started
}

// Continue runs the trigger for one user on request and tells them when
// there is nothing to send. The daily fire key is not consumed.
func (t *RecurringTrigger) Continue(ctx context.Context, userID string) error {
	err := t.trigger(ctx, userID, t.Now(), true)
	switch {
	case err == nil:
	case errors.Is(err, errAllAnswered):
		t.send(ctx, userID, "You have answered every question of the base profile!", nil)
	case errors.Is(err, errBankMissing):
		t.send(ctx, userID, "Could not load the questions.", nil)
	case errors.Is(err, errUserBusy):
		t.send(ctx, userID, "I'm still processing your previous answers, please wait a moment.", nil)
	default:
		t.send(ctx, userID, "Something went wrong, please try again later.", nil)
	}
	return err
}

func (t *RecurringTrigger) trigger(ctx context.Context, userID string, now time.Time, manual bool) error {
	unlock := t.locks.Lock(userID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Telos == nil || t.Telos.Len() == 0 {
		return errBankMissing
	}
	if cur, ok := t.Sessions.Get(userID); ok && cur.Status == models.SessionStatusDispatching {
		return errUserBusy
	}
	var answered []string
	if t.Store != nil {
		var err error
		if answered, err = t.Store.GetProgress(userID); err != nil {
			return fmt.Errorf("failed to load progress: %w", err)
		}
	}
	batch := t.Telos.Unanswered(answered, t.BatchSize)
	if len(batch) == 0 {
		return errAllAnswered
	}

	intro := "Here is the next set of questions."
	if !manual {
		intro = "It's time to continue your profile."
		key := FireKey(userID, now.In(t.Location))
		claimed, err := t.Store.ClaimFire(key)
		if err != nil {
			return fmt.Errorf("failed to claim %s: %w", key, err)
		}
		if !claimed {
			return errAlreadyFired
		}
	}
	if _, err := t.startBatch(ctx, userID, models.ModeContinuing, batch, intro, "CONTINUE PROFILE"); err != nil {
		return err
	}
	if t.Store != nil {
		if err := t.Store.RegisterUser(userID); err != nil {
			slog.Warn("RecurringTrigger.trigger: failed to register user", "userID", userID, "error", err)
		}
	}
	return nil
}
