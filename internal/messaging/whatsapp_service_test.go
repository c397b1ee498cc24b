package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/AskFlow/internal/flow"
	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func textEvent(user, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID(user, whatsapp.JIDSuffix)},
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppServiceSendMessageRendersKeyboard(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	kb := &models.Keyboard{Buttons: []models.Button{{Text: "A"}, {Text: "B"}}}
	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "Pick", kb); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "15551234567" {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Body != RenderKeyboard("Pick", kb) {
		t.Errorf("body = %q", sent[0].Body)
	}
}

func TestWhatsAppServiceInboundNumericReply(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	kb := &models.Keyboard{Buttons: []models.Button{{Text: "A"}, {Text: "B"}}}
	svc.SendMessage(context.Background(), "15551234567", "Pick", kb)

	svc.handleIncomingMessage(textEvent("15551234567", "2"))
	select {
	case msg := <-svc.Responses():
		if msg.From != "15551234567" || msg.Text != "B" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if !msg.Time.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("Time = %v", msg.Time)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestWhatsAppServiceNumericAnswerToOpenQuestion(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	sess := models.Session{
		UserID:    "15551234567",
		Mode:      models.ModeDefault,
		Questions: []models.Question{{Text: "How many children do you have?", Kind: models.QuestionKindOpenText}},
	}
	body, kb := flow.Prompt(sess)
	svc.SendMessage(context.Background(), sess.UserID, body, kb)

	svc.handleIncomingMessage(textEvent("15551234567", "1"))
	select {
	case msg := <-svc.Responses():
		if msg.Text != "1" {
			t.Errorf("answer %q, want the literal 1", msg.Text)
		}
	default:
		t.Fatal("expected inbound message")
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].Body != body+"\nOr reply \"Next question\"." {
		t.Errorf("sent = %+v", sent)
	}
}

func TestWhatsAppServiceIgnoresNonText(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleIncomingMessage(&events.Message{Message: &waE2E.Message{}})
	svc.handleIncomingMessage(nil)
	select {
	case msg := <-svc.Responses():
		t.Errorf("unexpected message: %+v", msg)
	default:
	}
}

func TestWhatsAppServiceStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("responses channel should be closed")
	}
	if err := svc.SendMessage(context.Background(), "15551234567", "x", nil); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("err = %v, want ErrServiceStopped", err)
	}
	svc.handleIncomingMessage(textEvent("15551234567", "late"))
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 555 123 4567", "15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, %v", tt.in, got, err)
		}
	}
}
