package workflow

import "context"

type IntentStatus string

const (
	IntentSucceeded IntentStatus = "succeeded"
	IntentCanceled  IntentStatus = "canceled"
	// IntentInFlight covers every gateway status that is neither terminal
	// success nor cancellation (requires_payment_method, processing, ...).
	IntentInFlight IntentStatus = "in_flight"
)

// Intent is the gateway-side payment attempt the local Payment row mirrors.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
}

// Gateway is the payment-provider contract. Webhook signature verification
// lives with the provider adapter as well, but events arrive pre-parsed as
// GatewayEvent so the engine stays provider-agnostic.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
}

// Gateway webhook event types the engine consumes.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)

// GatewayEvent is a verified webhook event. InvoiceID comes from the
// intent's metadata and may be empty on foreign events.
type GatewayEvent struct {
	Provider  string
	ID        string
	Type      string
	IntentID  string
	InvoiceID string
	Raw       []byte
}
