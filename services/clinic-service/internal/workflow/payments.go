package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
)

// PaymentSession is what a client needs to drive a gateway checkout.
type PaymentSession struct {
	PaymentID    string
	IntentID     string
	ClientSecret string
	AmountCents  int64
}

// InitiatePayment starts or resumes payment collection for an invoice.
// There is at most one payment row per invoice; concurrent initiations
// converge on the same row, and an in-flight gateway intent is resumed
// rather than replaced.
func (e *Engine) InitiatePayment(ctx context.Context, caller Caller, invoiceID string) (PaymentSession, error) {
	if err := e.requireCaller(caller); err != nil {
		return PaymentSession{}, err
	}

	inv, err := e.store.GetInvoice(ctx, strings.TrimSpace(invoiceID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PaymentSession{}, errf(KindNotFound, "invoice not found")
		}
		return PaymentSession{}, internalErr(err, "failed to load invoice")
	}
	if inv.Status == model.InvoicePaid {
		return PaymentSession{}, errf(KindAlreadyPaid, "invoice is already paid")
	}
	if !caller.Role.IsStaff() {
		owns, err := e.ownsInvoice(ctx, caller, inv)
		if err != nil {
			return PaymentSession{}, err
		}
		if !owns {
			return PaymentSession{}, errf(KindForbidden, "not your invoice")
		}
	}

	pay, err := e.store.GetPaymentByInvoice(ctx, inv.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		pay, err = e.store.CreatePayment(ctx, model.Payment{
			InvoiceID:   inv.ID,
			AmountCents: inv.AmountCents,
			Status:      model.PaymentPending,
		})
		if errors.Is(err, ErrDuplicate) {
			// Lost the creation race; the winner's row is ours too.
			pay, err = e.store.GetPaymentByInvoice(ctx, inv.ID)
		}
		if err != nil {
			return PaymentSession{}, internalErr(err, "failed to create payment")
		}
	case err != nil:
		return PaymentSession{}, internalErr(err, "failed to load payment")
	}

	switch pay.Status {
	case model.PaymentCompleted:
		return PaymentSession{}, errf(KindAlreadyPaid, "invoice is already paid")
	case model.PaymentFailed, model.PaymentCancelled:
		pending := model.PaymentPending
		empty := ""
		pay, err = e.store.UpdatePayment(ctx, pay.ID, PaymentPatch{
			Status:       &pending,
			IntentID:     &empty,
			ClientSecret: &empty,
		})
		if err != nil {
			return PaymentSession{}, internalErr(err, "failed to reset payment")
		}
	}

	if pay.IntentID != "" {
		intent, gerr := e.gateway.RetrieveIntent(ctx, pay.IntentID)
		switch {
		case gerr == nil && intent.Status == IntentSucceeded:
			if err := e.store.CompletePaymentAndMarkInvoicePaid(ctx, pay.ID, inv.ID, pay.IntentID, e.now()); err != nil {
				return PaymentSession{}, internalErr(err, "failed to reconcile succeeded intent")
			}
			e.logger.Info("intent already succeeded at gateway", "payment_id", pay.ID, "invoice_id", inv.ID)
			return PaymentSession{}, errf(KindAlreadyPaid, "invoice is already paid")
		case gerr == nil && intent.Status == IntentInFlight:
			return PaymentSession{
				PaymentID:    pay.ID,
				IntentID:     pay.IntentID,
				ClientSecret: pay.ClientSecret,
				AmountCents:  pay.AmountCents,
			}, nil
		default:
			// Canceled at the gateway, or the lookup failed: mint fresh.
			if gerr != nil {
				e.logger.Warn("intent lookup failed, minting a new one",
					"payment_id", pay.ID, "intent_id", pay.IntentID, "error", gerr)
			}
		}
	}

	appt, aerr := e.store.GetAppointment(ctx, inv.AppointmentID)
	if aerr != nil && !errors.Is(aerr, ErrNotFound) {
		return PaymentSession{}, internalErr(aerr, "failed to load appointment")
	}
	intent, err := e.gateway.CreateIntent(ctx, inv.AmountCents, e.currency, map[string]string{
		"invoice_id":     inv.ID,
		"payment_id":     pay.ID,
		"appointment_id": inv.AppointmentID,
		"pet_id":         appt.PetID,
		"user_id":        caller.UserID,
	})
	if err != nil {
		return PaymentSession{}, wrapf(KindGateway, err, "payment gateway rejected intent creation")
	}

	pay, err = e.store.UpdatePayment(ctx, pay.ID, PaymentPatch{
		IntentID:     &intent.ID,
		ClientSecret: &intent.ClientSecret,
	})
	if err != nil {
		return PaymentSession{}, internalErr(err, "failed to persist gateway intent")
	}
	e.logger.Info("payment initiated",
		"payment_id", pay.ID, "invoice_id", inv.ID, "intent_id", intent.ID)

	return PaymentSession{
		PaymentID:    pay.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  pay.AmountCents,
	}, nil
}

// ConfirmPayment is the client-driven completion path: the caller says
// the gateway checkout finished and we verify with the gateway before
// recording it.
func (e *Engine) ConfirmPayment(ctx context.Context, caller Caller, intentID, invoiceID string) (model.Payment, error) {
	if err := e.requireCaller(caller); err != nil {
		return model.Payment{}, err
	}
	intentID = strings.TrimSpace(intentID)
	invoiceID = strings.TrimSpace(invoiceID)
	if intentID == "" || invoiceID == "" {
		return model.Payment{}, errf(KindValidation, "intent_id and invoice_id are required")
	}

	intent, err := e.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return model.Payment{}, wrapf(KindInvalidIntent, err, "could not verify payment intent")
	}
	if intent.Status != IntentSucceeded {
		return model.Payment{}, errf(KindPaymentNotSucceeded, "payment has not succeeded at the gateway")
	}

	pay, err := e.store.GetPaymentByIntentAndInvoice(ctx, intentID, invoiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Payment{}, errf(KindNotFound, "payment not found for this intent")
		}
		return model.Payment{}, internalErr(err, "failed to load payment")
	}

	if pay.Status == model.PaymentCompleted {
		inv, ierr := e.store.GetInvoice(ctx, invoiceID)
		if ierr == nil && inv.Status == model.InvoicePaid {
			return pay, nil
		}
	}

	if err := e.store.CompletePaymentAndMarkInvoicePaid(ctx, pay.ID, invoiceID, intentID, e.now()); err != nil {
		return model.Payment{}, internalErr(err, "failed to complete payment")
	}
	pay, err = e.store.GetPayment(ctx, pay.ID)
	if err != nil {
		return model.Payment{}, internalErr(err, "failed to reload payment")
	}
	e.logger.Info("payment confirmed", "payment_id", pay.ID, "invoice_id", invoiceID, "intent_id", intentID)
	return pay, nil
}

// ApplyGatewayEvent processes one verified webhook event. The bool
// result is false when the event was a replay or an ignored type.
// Lookups go by intent id: the gateway is authoritative for intent
// state and the event may race local writes.
func (e *Engine) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) (bool, error) {
	if err := e.store.RecordProviderEvent(ctx, ev.Provider, ev.ID, ev.Type, ev.Raw); err != nil {
		if errors.Is(err, ErrDuplicate) {
			e.logger.Info("duplicate gateway event ignored", "event_id", ev.ID, "type", ev.Type)
			return false, nil
		}
		return false, internalErr(err, "failed to record gateway event")
	}

	switch ev.Type {
	case EventIntentSucceeded:
		if ev.IntentID == "" {
			return false, errf(KindValidation, "event has no intent id")
		}
		n, err := e.store.CompletePaymentsByIntent(ctx, ev.IntentID, ev.InvoiceID, ev.IntentID, e.now())
		if err != nil {
			return false, internalErr(err, "failed to apply succeeded event")
		}
		if n == 0 {
			e.logger.Warn("succeeded event matched no local payment", "event_id", ev.ID, "intent_id", ev.IntentID)
		}
		e.logger.Info("gateway event applied",
			"event_id", ev.ID, "type", ev.Type, "intent_id", ev.IntentID, "payments_updated", n)
		return true, nil
	case EventIntentFailed:
		return e.failPaymentsByIntent(ctx, ev, model.PaymentFailed)
	case EventIntentCanceled:
		return e.failPaymentsByIntent(ctx, ev, model.PaymentCancelled)
	default:
		e.logger.Info("gateway event type ignored", "event_id", ev.ID, "type", ev.Type)
		return false, nil
	}
}

func (e *Engine) failPaymentsByIntent(ctx context.Context, ev GatewayEvent, status model.PaymentStatus) (bool, error) {
	if ev.IntentID == "" {
		return false, errf(KindValidation, "event has no intent id")
	}
	n, err := e.store.SetPaymentStatusByIntent(ctx, ev.IntentID, status)
	if err != nil {
		return false, internalErr(err, "failed to apply gateway event")
	}
	e.logger.Info("gateway event applied",
		"event_id", ev.ID, "type", ev.Type, "intent_id", ev.IntentID, "payments_updated", n)
	return true, nil
}

// DeletePayment removes a payment and reverts its invoice to UNPAID as
// one unit.
func (e *Engine) DeletePayment(ctx context.Context, caller Caller, paymentID string) error {
	if err := e.requireStaff(caller); err != nil {
		return err
	}
	pay, err := e.store.GetPayment(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errf(KindNotFound, "payment not found")
		}
		return internalErr(err, "failed to load payment")
	}
	if err := e.store.DeletePaymentAndRevertInvoice(ctx, pay.ID, pay.InvoiceID); err != nil {
		return internalErr(err, "failed to delete payment")
	}
	e.logger.Info("payment deleted, invoice reverted", "payment_id", pay.ID, "invoice_id", pay.InvoiceID)
	return nil
}

// GetPayment is staff-only; customers interact through initiate/confirm.
func (e *Engine) GetPayment(ctx context.Context, caller Caller, id string) (model.Payment, error) {
	if err := e.requireStaff(caller); err != nil {
		return model.Payment{}, err
	}
	pay, err := e.store.GetPayment(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Payment{}, errf(KindNotFound, "payment not found")
		}
		return model.Payment{}, internalErr(err, "failed to load payment")
	}
	return pay, nil
}
