package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestClientSendMessage(t *testing.T) {
	api := &fakeCreator{}
	c := &Client{api: api, fromWhats: Address("+15550001111")}
	if err := c.SendMessage(context.Background(), "+15552223333", "Hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected one API call, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+15552223333" || *p.From != "whatsapp:+15550001111" || *p.Body != "Hello" {
		t.Errorf("unexpected params: to=%s from=%s body=%s", *p.To, *p.From, *p.Body)
	}
}

func TestClientSendMessageError(t *testing.T) {
	c := &Client{api: &fakeCreator{err: errors.New("rate limited")}, fromWhats: "whatsapp:+1"}
	if err := c.SendMessage(context.Background(), "+2", "x"); err == nil {
		t.Error("expected error")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without sender number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+15550001111"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550001111" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestAddress(t *testing.T) {
	if Address("+1") != "whatsapp:+1" || Address("whatsapp:+1") != "whatsapp:+1" {
		t.Error("Address should add the prefix exactly once")
	}
	if StripAddress("whatsapp:+1") != "+1" || StripAddress("+1") != "+1" {
		t.Error("StripAddress should remove the prefix")
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := m.Sent(); len(sent) != 1 || sent[0].Body != "Hello Test" {
		t.Errorf("Sent = %+v", sent)
	}
}
