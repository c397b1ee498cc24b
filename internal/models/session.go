package models

import "time"

// Mode tags which flow, and therefore which completion handler, a session belongs to.
type Mode string

const (
	ModeOnboarding Mode = "onboarding"
	ModeProfiling  Mode = "profiling"
	ModeAnalysis   Mode = "analysis"
	ModeIkigai     Mode = "ikigai"
	ModeShadow     Mode = "shadow"
	ModeContinuing Mode = "continuing"
	ModeDefault    Mode = "default"
)

// AllModes returns every known mode in a stable order.
func AllModes() []Mode {
	return []Mode{ModeOnboarding, ModeProfiling, ModeAnalysis, ModeIkigai, ModeShadow, ModeContinuing, ModeDefault}
}

// IsValid reports whether m is one of the known modes.
func (m Mode) IsValid() bool {
	for _, known := range AllModes() {
		if m == known {
			return true
		}
	}
	return false
}

// SessionStatus is the lifecycle state of a session inside the store.
type SessionStatus string

const (
	// SessionStatusActive sessions accept answers.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusDispatching sessions are complete and waiting for their
	// completion handler; they accept no input.
	SessionStatusDispatching SessionStatus = "dispatching"
)

// GoalSeed is the detail carried only by DEFAULT sessions: the free-text goal
// that started the flow.
type GoalSeed struct {
	OriginalText string `json:"original_text"`
}

// Session is the live progress record of one user through one flow.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Mode         Mode          `json:"mode"`
	Questions    []Question    `json:"questions"`
	Step         int           `json:"step"`
	Interactions []Interaction `json:"interactions"`
	LastActivity time.Time     `json:"last_activity"`
	Status       SessionStatus `json:"status"`
	Goal         *GoalSeed     `json:"goal,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (s Session) Clone() Session {
	out := s
	out.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Variants = append([]string(nil), q.Variants...)
		out.Questions[i] = q
	}
	out.Interactions = append([]Interaction(nil), s.Interactions...)
	if s.Goal != nil {
		g := *s.Goal
		out.Goal = &g
	}
	return out
}

// OriginalText returns the seeding goal text for DEFAULT sessions, or "".
func (s Session) OriginalText() string {
	if s.Goal == nil {
		return ""
	}
	return s.Goal.OriginalText
}

// IsComplete reports whether every question has been stepped past.
func (s Session) IsComplete() bool {
	return s.Step >= len(s.Questions)
}

// FlowResult is the durable record written to the results log when a flow finishes.
type FlowResult struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	Mode         Mode          `json:"mode"`
	OriginalText string        `json:"original_text,omitempty"`
	Interactions []Interaction `json:"interactions"`
	FinalText    string        `json:"final_text"`
	Timestamp    time.Time     `json:"timestamp"`
}
