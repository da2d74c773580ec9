package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/outbox"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

const appointmentColumns = `
	id::text, pet_id::text, service_id::text, COALESCE(staff_id::text, ''),
	date, status, COALESCE(notes, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.PetID, &a.ServiceID, &a.StaffID, &a.Date, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *Repository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}
	return a, nil
}

// HasOverlappingAppointment checks the pet's PENDING/CONFIRMED bookings
// against [start, end). Each existing booking occupies its own service's
// duration window.
func (r *Repository) HasOverlappingAppointment(ctx context.Context, petID string, start, end time.Time, excludeID string) (bool, error) {
	var overlaps bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments a
			JOIN services s ON s.id = a.service_id
			WHERE a.pet_id = $1
			  AND a.status IN ('PENDING', 'CONFIRMED')
			  AND ($4 = '' OR a.id::text <> $4)
			  AND a.date < $3
			  AND a.date + make_interval(mins => CASE WHEN s.duration_minutes > 0 THEN s.duration_minutes ELSE 60 END) > $2
		)
	`, petID, start, end, excludeID).Scan(&overlaps)
	if err != nil {
		return false, err
	}
	return overlaps, nil
}

func (r *Repository) CreateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (pet_id, service_id, staff_id, date, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+appointmentColumns+`
	`, appt.PetID, appt.ServiceID, nullIfEmpty(appt.StaffID), appt.Date, appt.Status, appt.Notes))
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}

	if err := r.outbox.Insert(ctx, tx, outbox.NewAppointmentEvent(outbox.TopicAppointmentCreated, appointmentEvent(created))); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return created, nil
}

func (r *Repository) UpdateAppointment(ctx context.Context, id string, patch workflow.AppointmentPatch) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := r.applyAppointmentPatch(ctx, tx, id, patch)
	if err != nil {
		return model.Appointment{}, err
	}
	if patch.Status != nil && *patch.Status == model.AppointmentCancelled {
		evt := outbox.NewAppointmentEvent(outbox.TopicAppointmentCancelled, appointmentEvent(updated))
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

func (r *Repository) applyAppointmentPatch(ctx context.Context, tx pgx.Tx, id string, patch workflow.AppointmentPatch) (model.Appointment, error) {
	var c setClause
	c.add("updated_at", time.Now().UTC())
	if patch.PetID != nil {
		c.add("pet_id", *patch.PetID)
	}
	if patch.ServiceID != nil {
		c.add("service_id", *patch.ServiceID)
	}
	if patch.StaffID != nil {
		c.add("staff_id", nullIfEmpty(*patch.StaffID))
	}
	if patch.Date != nil {
		c.add("date", *patch.Date)
	}
	if patch.Status != nil {
		c.add("status", *patch.Status)
	}
	if patch.Notes != nil {
		c.add("notes", *patch.Notes)
	}

	sql := fmt.Sprintf(`
		UPDATE appointments
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, c.set(), c.next(), appointmentColumns)
	c.args = append(c.args, id)

	updated, err := scanAppointment(tx.QueryRow(ctx, sql, c.args...))
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}
	return updated, nil
}

// ConfirmAppointmentWithInvoice applies the patch and guarantees exactly one
// invoice for the appointment, all in one transaction. A concurrent
// confirmation's invoice wins via the unique constraint and is returned.
func (r *Repository) ConfirmAppointmentWithInvoice(ctx context.Context, id string, patch workflow.AppointmentPatch, inv model.Invoice) (model.Appointment, model.Invoice, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, model.Invoice{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := r.applyAppointmentPatch(ctx, tx, id, patch)
	if err != nil {
		return model.Appointment{}, model.Invoice{}, err
	}

	var createdInv model.Invoice
	err = scanInvoiceInto(tx.QueryRow(ctx, `
		INSERT INTO invoices (appointment_id, amount_cents, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING `+invoiceColumns+`
	`, id, inv.AmountCents, inv.Status), &createdInv)
	switch {
	case err == nil:
		evt := outbox.NewInvoiceEvent(outbox.TopicInvoiceCreated, invoiceEvent(createdInv))
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, model.Invoice{}, err
		}
	case errors.Is(mapErr(err), workflow.ErrNotFound):
		// Insert skipped: an invoice already exists, fetch it.
		err = scanInvoiceInto(tx.QueryRow(ctx, `
			SELECT `+invoiceColumns+`
			FROM invoices
			WHERE appointment_id = $1
		`, id), &createdInv)
		if err != nil {
			return model.Appointment{}, model.Invoice{}, mapErr(err)
		}
	default:
		return model.Appointment{}, model.Invoice{}, mapErr(err)
	}

	evt := outbox.NewAppointmentEvent(outbox.TopicAppointmentConfirmed, appointmentEvent(updated))
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Appointment{}, model.Invoice{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, model.Invoice{}, err
	}
	return updated, createdInv, nil
}

// DeleteAppointment removes the appointment and its invoice together. The
// workflow has already established the invoice is unpaid and paymentless.
func (r *Repository) DeleteAppointment(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM invoices WHERE appointment_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}

	evt := outbox.NewAppointmentEvent(outbox.TopicAppointmentDeleted, outbox.AppointmentEvent{AppointmentID: id})
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ListAppointments(ctx context.Context, f workflow.AppointmentFilter) ([]model.Appointment, error) {
	where, args := appointmentFilterClause(f, nil)
	args = append(args, listLimit(f.Limit))
	rows, err := r.pool.Query(ctx, `
		SELECT a.id::text, a.pet_id::text, a.service_id::text, COALESCE(a.staff_id::text, ''),
		       a.date, a.status, COALESCE(a.notes, ''), a.created_at, a.updated_at
		FROM appointments a
		`+where+`
		ORDER BY a.date DESC
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *Repository) ListAppointmentsByOwner(ctx context.Context, ownerID string, f workflow.AppointmentFilter) ([]model.Appointment, error) {
	where, args := appointmentFilterClause(f, []any{ownerID})
	args = append(args, listLimit(f.Limit))
	rows, err := r.pool.Query(ctx, `
		SELECT a.id::text, a.pet_id::text, a.service_id::text, COALESCE(a.staff_id::text, ''),
		       a.date, a.status, COALESCE(a.notes, ''), a.created_at, a.updated_at
		FROM appointments a
		JOIN pets p ON p.id = a.pet_id
		`+where+`
		ORDER BY a.date DESC
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// appointmentFilterClause builds the WHERE clause for appointment listings.
// When seed args are given the first of them is the owner id.
func appointmentFilterClause(f workflow.AppointmentFilter, seed []any) (string, []any) {
	args := seed
	var conds []string
	if len(seed) > 0 {
		conds = append(conds, "p.owner_id = $1")
	}
	if f.PetID != "" {
		args = append(args, f.PetID)
		conds = append(conds, "a.pet_id = $"+strconv.Itoa(len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, "a.date >= $"+strconv.Itoa(len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, "a.date < $"+strconv.Itoa(len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func appointmentEvent(a model.Appointment) outbox.AppointmentEvent {
	return outbox.AppointmentEvent{
		AppointmentID: a.ID,
		PetID:         a.PetID,
		ServiceID:     a.ServiceID,
		Status:        string(a.Status),
		Date:          a.Date.UTC().Format(time.RFC3339),
	}
}
