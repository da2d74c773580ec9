package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
)

// GetInvoice returns one invoice, reconciling its status against the
// linked payment first. Customers may only read invoices for their own
// pets' appointments.
func (e *Engine) GetInvoice(ctx context.Context, caller Caller, id string) (model.Invoice, error) {
	if err := e.requireCaller(caller); err != nil {
		return model.Invoice{}, err
	}
	inv, err := e.store.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Invoice{}, errf(KindNotFound, "invoice not found")
		}
		return model.Invoice{}, internalErr(err, "failed to load invoice")
	}
	if !caller.Role.IsStaff() {
		owns, err := e.ownsInvoice(ctx, caller, inv)
		if err != nil {
			return model.Invoice{}, err
		}
		if !owns {
			return model.Invoice{}, errf(KindForbidden, "not your invoice")
		}
	}
	return e.healInvoice(ctx, inv)
}

// ListInvoices reconciles each row against its payment before returning.
func (e *Engine) ListInvoices(ctx context.Context, caller Caller, limit int) ([]model.Invoice, error) {
	if err := e.requireCaller(caller); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var (
		invs []model.Invoice
		err  error
	)
	if caller.Role.IsStaff() {
		invs, err = e.store.ListInvoices(ctx, limit)
	} else {
		invs, err = e.store.ListInvoicesByOwner(ctx, caller.UserID, limit)
	}
	if err != nil {
		return nil, internalErr(err, "failed to list invoices")
	}
	for i := range invs {
		healed, err := e.healInvoice(ctx, invs[i])
		if err != nil {
			return nil, err
		}
		invs[i] = healed
	}
	return invs, nil
}

// CreateInvoice is the manual staff path; the usual path is the
// appointment confirmation in UpdateAppointment.
func (e *Engine) CreateInvoice(ctx context.Context, caller Caller, appointmentID string, amountCents int64) (model.Invoice, error) {
	if err := e.requireStaff(caller); err != nil {
		return model.Invoice{}, err
	}
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return model.Invoice{}, errf(KindValidation, "appointment_id is required")
	}
	if amountCents < 0 {
		return model.Invoice{}, errf(KindValidation, "amount cannot be negative")
	}
	if _, err := e.store.GetAppointment(ctx, appointmentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Invoice{}, errf(KindNotFound, "appointment not found")
		}
		return model.Invoice{}, internalErr(err, "failed to load appointment")
	}
	inv, err := e.store.CreateInvoice(ctx, model.Invoice{
		AppointmentID: appointmentID,
		AmountCents:   amountCents,
		Status:        model.InvoiceUnpaid,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return model.Invoice{}, errf(KindDuplicateInvoice, "invoice already exists for this appointment")
		}
		return model.Invoice{}, internalErr(err, "failed to create invoice")
	}
	return inv, nil
}

// UpdateInvoiceStatus mutates invoice status directly. Moving away from
// PAID while a payment record exists is refused; refunds are handled
// elsewhere.
func (e *Engine) UpdateInvoiceStatus(ctx context.Context, caller Caller, id, rawStatus string) (model.Invoice, error) {
	if err := e.requireStaff(caller); err != nil {
		return model.Invoice{}, err
	}
	status, ok := model.ParseInvoiceStatus(strings.TrimSpace(rawStatus))
	if !ok {
		return model.Invoice{}, errf(KindInvalidStatus, "invalid invoice status %q", rawStatus)
	}
	inv, err := e.store.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Invoice{}, errf(KindNotFound, "invoice not found")
		}
		return model.Invoice{}, internalErr(err, "failed to load invoice")
	}
	if inv.Status == model.InvoicePaid && status != model.InvoicePaid {
		if _, perr := e.store.GetPaymentByInvoice(ctx, inv.ID); perr == nil {
			return model.Invoice{}, errf(KindInvalidTransition, "invoice has a payment; use the refund flow to reverse it")
		} else if !errors.Is(perr, ErrNotFound) {
			return model.Invoice{}, internalErr(perr, "failed to load payment")
		}
	}
	updated, err := e.store.UpdateInvoice(ctx, inv.ID, InvoicePatch{Status: &status})
	if err != nil {
		return model.Invoice{}, internalErr(err, "failed to update invoice")
	}
	return updated, nil
}

// DeleteInvoice removes an invoice that has no payment record.
func (e *Engine) DeleteInvoice(ctx context.Context, caller Caller, id string) error {
	if err := e.requireStaff(caller); err != nil {
		return err
	}
	inv, err := e.store.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errf(KindNotFound, "invoice not found")
		}
		return internalErr(err, "failed to load invoice")
	}
	if _, perr := e.store.GetPaymentByInvoice(ctx, inv.ID); perr == nil {
		return errf(KindHasPayment, "invoice has a payment record")
	} else if !errors.Is(perr, ErrNotFound) {
		return internalErr(perr, "failed to load payment")
	}
	if err := e.store.DeleteInvoice(ctx, inv.ID); err != nil {
		return internalErr(err, "failed to delete invoice")
	}
	return nil
}

// healInvoice corrects drift between an invoice and its payment: a
// COMPLETED payment implies PAID. Reads tolerate a missed write from the
// confirmation path this way.
func (e *Engine) healInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	if inv.Status == model.InvoicePaid {
		return inv, nil
	}
	pay, err := e.store.GetPaymentByInvoice(ctx, inv.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return inv, nil
		}
		return model.Invoice{}, internalErr(err, "failed to load payment")
	}
	if pay.Status != model.PaymentCompleted {
		return inv, nil
	}
	if err := e.store.MarkInvoicePaid(ctx, inv.ID); err != nil {
		return model.Invoice{}, internalErr(err, "failed to reconcile invoice status")
	}
	e.logger.Info("invoice status healed on read", "invoice_id", inv.ID)
	inv.Status = model.InvoicePaid
	return inv, nil
}

func (e *Engine) ownsInvoice(ctx context.Context, caller Caller, inv model.Invoice) (bool, error) {
	appt, err := e.store.GetAppointment(ctx, inv.AppointmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, internalErr(err, "failed to load appointment")
	}
	return e.ownsPet(ctx, caller, appt.PetID)
}
