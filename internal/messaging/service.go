// Package messaging adapts chat transports to the flow engine: outbound text
// with optional keyboards, and a channel of inbound user messages.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of the responses channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for a reader.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by services after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a pluggable chat transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient and returns its
	// canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends body, and kb when it is not nil, to a recipient.
	SendMessage(ctx context.Context, to string, body string, kb *models.Keyboard) error

	// Start begins background processing.
	Start(ctx context.Context) error

	// Stop ends background processing and closes the responses channel.
	Stop() error

	// Responses returns the channel of inbound user messages.
	Responses() <-chan models.InboundMessage
}

// canonicalPhone strips non-digits and requires at least six of them.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// inbox is the inbound half shared by the services: a buffered channel,
// the keyboards last shown to each user and the stopped flag.
type inbox struct {
	mu        sync.RWMutex
	stopped   bool
	responses chan models.InboundMessage
	keyboards *KeyboardTracker
}

func newInbox() *inbox {
	return &inbox{
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
		keyboards: NewKeyboardTracker(),
	}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// emit resolves numeric keyboard replies and forwards msg, dropping it when
// the service is stopped or the channel stays full past the timeout.
func (b *inbox) emit(msg models.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn("messaging: dropping inbound message, service stopped", "from", msg.From)
		return false
	}
	msg.Text = b.keyboards.Resolve(msg.From, msg.Text)
	select {
	case b.responses <- msg:
		slog.Debug("messaging: inbound message forwarded", "from", msg.From, "text_length", len(msg.Text))
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: responses channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// stop closes the channel once.
func (b *inbox) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.responses)
}
