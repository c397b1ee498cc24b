package models

import (
	"errors"
	"time"
)

// Button is a single keyboard entry. A button with WebAppURL opens the
// question front end instead of sending its text back.
type Button struct {
	Text      string `json:"text"`
	WebAppURL string `json:"web_app_url,omitempty"`
}

// Keyboard is an optional set of reply buttons attached to an outbound message.
type Keyboard struct {
	Buttons []Button `json:"buttons"`
	OneTime bool     `json:"one_time,omitempty"`
}

// InboundMessage is a plain text message received from a user.
type InboundMessage struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// StructuredPayload is a full answer batch returned by the web front end.
type StructuredPayload struct {
	UserID  string        `json:"user_id"`
	Answers []Interaction `json:"answers"`
}

// Sentinel errors shared across packages.
var (
	// ErrInvalidFlow is returned when a flow cannot be started, most often
	// because no questions were supplied.
	ErrInvalidFlow = errors.New("invalid flow")
	// ErrNoActiveSession is returned when input arrives for a user who has no session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionDispatching is returned when input arrives while the user's
	// finished flow is still being handled.
	ErrSessionDispatching = errors.New("session is dispatching")
	// ErrUnknownMode is returned when no completion handler exists for a mode.
	ErrUnknownMode = errors.New("unknown mode")
)
