package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio REST API for outbound
// messages and its webhook for inbound ones.
type TwilioService struct {
	*inbox
	client twiliowhatsapp.Sender
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService wraps client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{inbox: newInbox(), client: client}
}

// ValidateAndCanonicalizeRecipient strips the "whatsapp:" prefix and every
// non-digit, requiring at least six digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(twiliowhatsapp.StripAddress(recipient))
}

// Start is a no-op; inbound traffic arrives through TwilioWebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the responses channel.
func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends body with kb rendered as text.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string, kb *models.Keyboard) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, "+"+canonical, RenderKeyboard(body, kb)); err != nil {
		return err
	}
	s.keyboards.Track(canonical, kb)
	return nil
}

// Responses returns inbound messages keyed by the sender's digits.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// TwilioWebhookHandler accepts Twilio's inbound message webhook and forwards
// the message into Responses.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService: failed to parse webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService: webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}
	if !s.emit(models.InboundMessage{From: canonical, Text: body, Time: time.Now()}) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
