package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	mock := NewMockClient()
	if err := mock.SendMessage(context.Background(), "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Messages()
	if len(sent) != 1 || sent[0].Body != "Hello Test" {
		t.Errorf("unexpected sends %+v", sent)
	}
}

func TestWhatsAppAddress(t *testing.T) {
	tests := map[string]string{
		"+15551234567":          "whatsapp:+15551234567",
		"15551234567":           "whatsapp:+15551234567",
		"whatsapp:+15551234567": "whatsapp:+15551234567",
	}
	for in, want := range tests {
		if got := whatsappAddress(in); got != want {
			t.Errorf("whatsappAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveOptsFromEnvironment(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550000000")

	cfg, err := resolveOpts(nil)
	if err != nil {
		t.Fatalf("resolveOpts failed: %v", err)
	}
	if cfg.AccountSID != "AC123" || cfg.FromWhats != "whatsapp:+15550000000" {
		t.Errorf("unexpected config %+v", cfg)
	}

	cfg, err = resolveOpts([]Option{WithAccountSID("AC999"), WithFromWhats("whatsapp:+1999")})
	if err != nil {
		t.Fatalf("resolveOpts failed: %v", err)
	}
	if cfg.AccountSID != "AC999" || cfg.AuthToken != "secret" || cfg.FromWhats != "whatsapp:+1999" {
		t.Errorf("options should win over the environment: %+v", cfg)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(WithFromWhats("+1555")); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("t")); err == nil {
		t.Error("expected error without a sending number")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("t"), WithFromWhats("+1555")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
