package stripegw

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

const testSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType, intentID, invoiceID string, at time.Time) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"created":     at.Unix(),
		"type":        eventType,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":     intentID,
				"object": "payment_intent",
				"metadata": map[string]any{
					"invoice_id": invoiceID,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: at,
		Scheme:    "v1",
	})
	return payload, signed.Header
}

func TestVerifyEvent(t *testing.T) {
	g := New(nil, Config{SecretKey: "sk_test", WebhookSecret: testSecret})

	payload, sig := signedEvent(t, "payment_intent.succeeded", "pi_123", "inv_456", time.Now())
	ev, err := g.VerifyEvent(payload, sig)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Type != workflow.EventIntentSucceeded {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.IntentID != "pi_123" || ev.InvoiceID != "inv_456" {
		t.Fatalf("intent=%q invoice=%q", ev.IntentID, ev.InvoiceID)
	}
	if ev.Provider != Provider || ev.ID != "evt_test_1" {
		t.Fatalf("provider=%q id=%q", ev.Provider, ev.ID)
	}
}

func TestVerifyEventAcceptsForeignAPIVersion(t *testing.T) {
	g := New(nil, Config{SecretKey: "sk_test", WebhookSecret: testSecret})

	// The account's pinned API version rarely matches the client library's.
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_2",
		"object":      "event",
		"created":     time.Now().Unix(),
		"type":        "payment_intent.succeeded",
		"api_version": "2019-02-19",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_old",
				"object":   "payment_intent",
				"metadata": map[string]any{"invoice_id": "inv_old"},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	ev, verr := g.VerifyEvent(payload, signed.Header)
	if verr != nil {
		t.Fatalf("VerifyEvent: %v", verr)
	}
	if ev.IntentID != "pi_old" || ev.InvoiceID != "inv_old" {
		t.Fatalf("ev = %+v", ev)
	}
}

func TestVerifyEventRejectsBadSignature(t *testing.T) {
	g := New(nil, Config{SecretKey: "sk_test", WebhookSecret: testSecret})

	payload, _ := signedEvent(t, "payment_intent.succeeded", "pi_123", "inv_456", time.Now())
	_, err := g.VerifyEvent(payload, "t=123,v1=deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyEventRejectsStaleTimestamp(t *testing.T) {
	g := New(nil, Config{SecretKey: "sk_test", WebhookSecret: testSecret})

	payload, sig := signedEvent(t, "payment_intent.succeeded", "pi_123", "inv_456", time.Now().Add(-time.Hour))
	if _, err := g.VerifyEvent(payload, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyEventForeignTypeKeepsEnvelope(t *testing.T) {
	g := New(nil, Config{SecretKey: "sk_test", WebhookSecret: testSecret})

	payload, sig := signedEvent(t, "charge.refunded", "ch_1", "", time.Now())
	ev, err := g.VerifyEvent(payload, sig)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Type != "charge.refunded" || ev.IntentID != "" {
		t.Fatalf("ev = %+v", ev)
	}
}
