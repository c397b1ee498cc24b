package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSchedulerAddJobInvalid(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("expected error for invalid expression")
	}
	if err := s.AddJob("0 0 18 * * *", func() {}); err == nil {
		t.Error("expected error for 6-field expression")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(DefaultDailySchedule); err != nil {
		t.Errorf("default schedule invalid: %v", err)
	}
	if err := Validate("61 * * * *"); err == nil {
		t.Error("expected error for out-of-range minute")
	}
}

func TestNextDailySchedule(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"before window", time.Date(2026, 3, 1, 9, 0, 0, 0, loc), time.Date(2026, 3, 1, 18, 0, 0, 0, loc)},
		{"inside window minute", time.Date(2026, 3, 1, 18, 0, 30, 0, loc), time.Date(2026, 3, 2, 18, 0, 0, 0, loc)},
		{"after window", time.Date(2026, 3, 1, 19, 0, 0, 0, loc), time.Date(2026, 3, 2, 18, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(DefaultDailySchedule, tt.from)
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(WithLocation(time.UTC))
	if err := s.AddJob(DefaultDailySchedule, func() {}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if ctx.Err() != nil {
		t.Error("Stop waited until timeout with no running jobs")
	}
}
