package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service on top of whatsmeow.
type WhatsAppService struct {
	*inbox
	client   whatsapp.Sender
	waClient *whatsapp.Client // nil for mocks; events need the real client
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{inbox: newInbox(), client: client}
	if wa, ok := client.(*whatsapp.Client); ok {
		s.waClient = wa
	}
	return s
}

// ValidateAndCanonicalizeRecipient strips everything but digits from a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start registers the inbound event handler when a real client is present.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the responses channel and disconnects the client.
func (s *WhatsAppService) Stop() error {
	s.stop()
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends body with kb rendered as text.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string, kb *models.Keyboard) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, RenderKeyboard(body, kb)); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "to", canonical, "error", err)
		return err
	}
	s.keyboards.Track(canonical, kb)
	return nil
}

// Responses returns inbound messages keyed by the sender's digits.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// handleIncomingMessage forwards text messages and ignores everything else.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}
	from, err := canonicalPhone(whatsapp.SenderNumber(evt.Info.Sender.User))
	if err != nil {
		slog.Warn("WhatsAppService: ignoring message from invalid sender", "sender", evt.Info.Sender.String(), "error", err)
		return
	}
	s.emit(models.InboundMessage{From: from, Text: text, Time: evt.Info.Timestamp})
}
