package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	"github.com/MichaelRobotics/Hustler-sub011/internal/twiliodm"
)

func TestTwilioServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliodm.NewMockClient())

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 111-2222", "15551112222", false},
		{"15551112222", "15551112222", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true}, // too short
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestTwilioServiceSendMessageEmitsReceipt(t *testing.T) {
	mock := twiliodm.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+1 555 111 2222", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "15551112222" {
		t.Fatalf("unexpected sent messages %v", mock.SentMessages)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "15551112222" || receipt.Status != models.DeliveryStatusSent {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Error("expected a sent receipt")
	}
}

func TestTwilioServiceSendAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliodm.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "15551112222", "hello"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliodm.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551112222")
	form.Set("Body", "tell me more")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case resp := <-svc.Responses():
		if resp.From != "whatsapp:+15551112222" || resp.Body != "tell me more" {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Error("expected an emitted response")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliodm.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551112222")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing body, got %d", rec.Code)
	}
}
