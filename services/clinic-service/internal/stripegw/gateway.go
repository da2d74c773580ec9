// Package stripegw adapts Stripe payment intents and webhooks to the
// workflow's gateway contract.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

const Provider = "stripe"

var ErrInvalidSignature = errors.New("invalid webhook signature")

type Gateway struct {
	secretKey        string
	webhookSecret    string
	webhookTolerance time.Duration
	logger           *slog.Logger
}

type Config struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
}

func New(logger *slog.Logger, cfg Config) *Gateway {
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		secretKey:        cfg.SecretKey,
		webhookSecret:    cfg.WebhookSecret,
		webhookTolerance: cfg.WebhookTolerance,
		logger:           logger,
	}
}

func (g *Gateway) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (workflow.Intent, error) {
	stripe.Key = g.secretKey
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		if strings.TrimSpace(v) != "" {
			params.AddMetadata(k, v)
		}
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return workflow.Intent{}, err
	}
	g.logger.Info("stripe payment intent created", "intent_id", pi.ID, "amount_cents", amountCents)
	return workflow.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       mapIntentStatus(pi.Status),
	}, nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, intentID string) (workflow.Intent, error) {
	stripe.Key = g.secretKey
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return workflow.Intent{}, err
	}
	return workflow.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       mapIntentStatus(pi.Status),
	}, nil
}

// VerifyEvent checks the webhook signature and extracts what the workflow
// needs. Verification failures are terminal; the event must not be
// processed.
func (g *Gateway) VerifyEvent(body []byte, sigHeader string) (workflow.GatewayEvent, error) {
	// Events arrive with whatever API version the Stripe account pins, so
	// version mismatches are not a verification failure.
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return workflow.GatewayEvent{}, ErrInvalidSignature
	}

	ge := workflow.GatewayEvent{
		Provider: Provider,
		ID:       evt.ID,
		Type:     string(evt.Type),
		Raw:      body,
	}
	switch ge.Type {
	case workflow.EventIntentSucceeded, workflow.EventIntentFailed, workflow.EventIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return workflow.GatewayEvent{}, err
		}
		ge.IntentID = pi.ID
		ge.InvoiceID = strings.TrimSpace(pi.Metadata["invoice_id"])
	}
	return ge, nil
}

func mapIntentStatus(s stripe.PaymentIntentStatus) workflow.IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return workflow.IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return workflow.IntentCanceled
	default:
		// requires_payment_method, requires_confirmation, processing, ...
		return workflow.IntentInFlight
	}
}
