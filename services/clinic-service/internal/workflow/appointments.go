package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
)

type CreateAppointmentInput struct {
	PetID     string
	ServiceID string
	StaffID   string
	Date      time.Time
	Notes     string
}

// UpdateAppointmentInput carries a partial update; only non-nil fields are
// applied. Status arrives raw so unknown values fail inside the guard.
type UpdateAppointmentInput struct {
	Status    *string
	PetID     *string
	ServiceID *string
	StaffID   *string
	Date      *time.Time
	Notes     *string
}

// CreateAppointment books a visit. Customers may only book for their own
// pets; the conflict window is the service duration.
func (e *Engine) CreateAppointment(ctx context.Context, caller Caller, in CreateAppointmentInput) (model.Appointment, error) {
	if err := e.requireCaller(caller); err != nil {
		return model.Appointment{}, err
	}

	in.PetID = strings.TrimSpace(in.PetID)
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.StaffID = strings.TrimSpace(in.StaffID)
	if in.PetID == "" || in.ServiceID == "" || in.Date.IsZero() {
		return model.Appointment{}, errf(KindValidation, "pet_id, service_id and date are required")
	}

	owns, err := e.ownsPet(ctx, caller, in.PetID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !caller.Role.IsStaff() && !owns {
		return model.Appointment{}, errf(KindForbidden, "appointments can only be booked for your own pets")
	}

	svc, err := e.lookupService(ctx, in.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if in.StaffID != "" {
		if _, err := e.lookupStaff(ctx, in.StaffID); err != nil {
			return model.Appointment{}, err
		}
	}

	if !in.Date.After(e.now()) {
		return model.Appointment{}, errf(KindValidation, "appointment date must be in the future")
	}

	if err := e.checkConflict(ctx, in.PetID, in.Date, svc.Duration(), ""); err != nil {
		return model.Appointment{}, err
	}

	appt, err := e.store.CreateAppointment(ctx, model.Appointment{
		PetID:     in.PetID,
		ServiceID: in.ServiceID,
		StaffID:   in.StaffID,
		Date:      in.Date.UTC(),
		Status:    model.AppointmentPending,
		Notes:     strings.TrimSpace(in.Notes),
	})
	if err != nil {
		return model.Appointment{}, internalErr(err, "failed to create appointment")
	}
	return appt, nil
}

// UpdateAppointment is the status transition guard. CUSTOMER may only move
// an appointment on their own pet to CANCELLED and may not touch
// pet/service/staff/date; staff tier may do anything within the valid
// status set. Transitioning into CONFIRMED ensures an invoice exists,
// priced from the service at that moment.
func (e *Engine) UpdateAppointment(ctx context.Context, caller Caller, id string, in UpdateAppointmentInput) (model.Appointment, error) {
	if err := e.requireCaller(caller); err != nil {
		return model.Appointment{}, err
	}

	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, errf(KindNotFound, "appointment not found")
		}
		return model.Appointment{}, internalErr(err, "failed to load appointment")
	}

	var newStatus *model.AppointmentStatus
	if in.Status != nil {
		parsed, ok := model.ParseAppointmentStatus(strings.TrimSpace(*in.Status))
		if !ok {
			return model.Appointment{}, errf(KindInvalidStatus, "invalid appointment status %q", *in.Status)
		}
		newStatus = &parsed
	}

	if !caller.Role.IsStaff() {
		owns, err := e.ownsPet(ctx, caller, appt.PetID)
		if err != nil {
			return model.Appointment{}, err
		}
		if !owns {
			return model.Appointment{}, errf(KindForbidden, "not your appointment")
		}
		if in.PetID != nil || in.ServiceID != nil || in.StaffID != nil || in.Date != nil {
			return model.Appointment{}, errf(KindForbidden, "customers cannot change pet, service, staff or date")
		}
		if newStatus != nil && *newStatus != model.AppointmentCancelled {
			return model.Appointment{}, errf(KindForbidden, "customers can only cancel appointments")
		}
	}

	// Effective values after the patch, used for validation and conflicts.
	effPet := appt.PetID
	if in.PetID != nil {
		effPet = strings.TrimSpace(*in.PetID)
		if effPet == "" {
			return model.Appointment{}, errf(KindValidation, "pet_id cannot be empty")
		}
		if _, err := e.store.GetPet(ctx, effPet); err != nil {
			if errors.Is(err, ErrNotFound) {
				return model.Appointment{}, errf(KindNotFound, "pet not found")
			}
			return model.Appointment{}, internalErr(err, "failed to load pet")
		}
	}
	effService := appt.ServiceID
	if in.ServiceID != nil {
		effService = strings.TrimSpace(*in.ServiceID)
		if effService == "" {
			return model.Appointment{}, errf(KindValidation, "service_id cannot be empty")
		}
	}
	if in.StaffID != nil && strings.TrimSpace(*in.StaffID) != "" {
		if _, err := e.lookupStaff(ctx, strings.TrimSpace(*in.StaffID)); err != nil {
			return model.Appointment{}, err
		}
	}

	resulting := appt.Status
	if newStatus != nil {
		resulting = *newStatus
	}

	effDate := appt.Date
	if in.Date != nil {
		effDate = in.Date.UTC()
		// Back-dating is only allowed when the visit ends up COMPLETED.
		if resulting != model.AppointmentCompleted && !effDate.After(e.now()) {
			return model.Appointment{}, errf(KindValidation, "appointment date must be in the future")
		}
	}

	confirming := resulting == model.AppointmentConfirmed && appt.Status != model.AppointmentConfirmed
	rescheduled := in.Date != nil || in.PetID != nil || in.ServiceID != nil
	checkOverlap := rescheduled && (resulting == model.AppointmentPending || resulting == model.AppointmentConfirmed)

	// The service record is only needed for its price (confirmation) or
	// duration (conflict window). Pure status transitions such as a
	// cancellation must go through even when the service has since been
	// deactivated or removed.
	var svc model.Service
	if confirming || checkOverlap || in.ServiceID != nil {
		svc, err = e.lookupService(ctx, effService)
		if err != nil {
			return model.Appointment{}, err
		}
	}

	if checkOverlap {
		if err := e.checkConflict(ctx, effPet, effDate, svc.Duration(), appt.ID); err != nil {
			return model.Appointment{}, err
		}
	}

	patch := AppointmentPatch{
		PetID:     in.PetID,
		ServiceID: in.ServiceID,
		StaffID:   in.StaffID,
		Notes:     in.Notes,
		Status:    newStatus,
	}
	if in.Date != nil {
		d := effDate
		patch.Date = &d
	}

	if confirming {
		updated, inv, err := e.store.ConfirmAppointmentWithInvoice(ctx, appt.ID, patch, model.Invoice{
			AppointmentID: appt.ID,
			AmountCents:   svc.PriceCents,
			Status:        model.InvoiceUnpaid,
		})
		if err != nil {
			return model.Appointment{}, internalErr(err, "failed to confirm appointment")
		}
		e.logger.Info("appointment confirmed",
			"appointment_id", updated.ID,
			"invoice_id", inv.ID,
			"amount_cents", inv.AmountCents,
		)
		return updated, nil
	}

	updated, err := e.store.UpdateAppointment(ctx, appt.ID, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, errf(KindNotFound, "appointment not found")
		}
		return model.Appointment{}, internalErr(err, "failed to update appointment")
	}
	return updated, nil
}

// DeleteAppointment removes an appointment unless money is involved:
// paid invoices block deletion outright, and customers cannot delete
// completed visits.
func (e *Engine) DeleteAppointment(ctx context.Context, caller Caller, id string) error {
	if err := e.requireCaller(caller); err != nil {
		return err
	}

	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errf(KindNotFound, "appointment not found")
		}
		return internalErr(err, "failed to load appointment")
	}

	if !caller.Role.IsStaff() {
		owns, err := e.ownsPet(ctx, caller, appt.PetID)
		if err != nil {
			return err
		}
		if !owns {
			return errf(KindForbidden, "not your appointment")
		}
		if appt.Status == model.AppointmentCompleted {
			return errf(KindForbidden, "completed appointments cannot be deleted")
		}
	}

	inv, err := e.store.GetInvoiceByAppointment(ctx, appt.ID)
	switch {
	case err == nil:
		if inv.Status == model.InvoicePaid {
			return errf(KindInvalidTransition, "appointment has a paid invoice")
		}
		if _, perr := e.store.GetPaymentByInvoice(ctx, inv.ID); perr == nil {
			return errf(KindHasPayment, "appointment's invoice has a payment record")
		} else if !errors.Is(perr, ErrNotFound) {
			return internalErr(perr, "failed to load payment")
		}
	case errors.Is(err, ErrNotFound):
		// No invoice yet; nothing to check.
	default:
		return internalErr(err, "failed to load invoice")
	}

	if err := e.store.DeleteAppointment(ctx, appt.ID); err != nil {
		return internalErr(err, "failed to delete appointment")
	}
	return nil
}

func (e *Engine) GetAppointment(ctx context.Context, caller Caller, id string) (model.Appointment, error) {
	if err := e.requireCaller(caller); err != nil {
		return model.Appointment{}, err
	}
	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, errf(KindNotFound, "appointment not found")
		}
		return model.Appointment{}, internalErr(err, "failed to load appointment")
	}
	if !caller.Role.IsStaff() {
		owns, err := e.ownsPet(ctx, caller, appt.PetID)
		if err != nil {
			return model.Appointment{}, err
		}
		if !owns {
			return model.Appointment{}, errf(KindForbidden, "not your appointment")
		}
	}
	return appt, nil
}

// ListAppointments scopes customers to their own pets' appointments.
// The filter can narrow by pet and by date window.
func (e *Engine) ListAppointments(ctx context.Context, caller Caller, f AppointmentFilter) ([]model.Appointment, error) {
	if err := e.requireCaller(caller); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, errf(KindValidation, "date window is inverted")
	}
	var (
		appts []model.Appointment
		err   error
	)
	if caller.Role.IsStaff() {
		appts, err = e.store.ListAppointments(ctx, f)
	} else {
		appts, err = e.store.ListAppointmentsByOwner(ctx, caller.UserID, f)
	}
	if err != nil {
		return nil, internalErr(err, "failed to list appointments")
	}
	return appts, nil
}

func (e *Engine) checkConflict(ctx context.Context, petID string, start time.Time, duration time.Duration, excludeID string) error {
	overlaps, err := e.store.HasOverlappingAppointment(ctx, petID, start, start.Add(duration), excludeID)
	if err != nil {
		return internalErr(err, "failed to check appointment conflicts")
	}
	if overlaps {
		return errf(KindSchedulingConflict, "pet already has an appointment in this time window")
	}
	return nil
}

func (e *Engine) lookupService(ctx context.Context, id string) (model.Service, error) {
	svc, err := e.store.GetService(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Service{}, errf(KindNotFound, "service not found")
		}
		return model.Service{}, internalErr(err, "failed to load service")
	}
	if !svc.Active {
		return model.Service{}, errf(KindValidation, "service is not active")
	}
	return svc, nil
}

func (e *Engine) lookupStaff(ctx context.Context, id string) (model.User, error) {
	staff, err := e.store.GetStaff(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.User{}, errf(KindNotFound, "staff member not found")
		}
		return model.User{}, internalErr(err, "failed to load staff member")
	}
	if !staff.Role.IsStaff() {
		return model.User{}, errf(KindValidation, "assigned user is not staff")
	}
	return staff, nil
}
