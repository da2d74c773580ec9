package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/outbox"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

const invoiceColumns = `id::text, appointment_id::text, amount_cents, status, created_at`

func scanInvoiceInto(row pgx.Row, inv *model.Invoice) error {
	return row.Scan(&inv.ID, &inv.AppointmentID, &inv.AmountCents, &inv.Status, &inv.CreatedAt)
}

func (r *Repository) GetInvoice(ctx context.Context, id string) (model.Invoice, error) {
	var inv model.Invoice
	err := scanInvoiceInto(r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id), &inv)
	if err != nil {
		return model.Invoice{}, mapErr(err)
	}
	return inv, nil
}

func (r *Repository) GetInvoiceByAppointment(ctx context.Context, appointmentID string) (model.Invoice, error) {
	var inv model.Invoice
	err := scanInvoiceInto(r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE appointment_id = $1
	`, appointmentID), &inv)
	if err != nil {
		return model.Invoice{}, mapErr(err)
	}
	return inv, nil
}

func (r *Repository) ListInvoices(ctx context.Context, limit int) ([]model.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func (r *Repository) ListInvoicesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT i.id::text, i.appointment_id::text, i.amount_cents, i.status, i.created_at
		FROM invoices i
		JOIN appointments a ON a.id = i.appointment_id
		JOIN pets p ON p.id = a.pet_id
		WHERE p.owner_id = $1
		ORDER BY i.created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func (r *Repository) CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Invoice{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var created model.Invoice
	err = scanInvoiceInto(tx.QueryRow(ctx, `
		INSERT INTO invoices (appointment_id, amount_cents, status)
		VALUES ($1, $2, $3)
		RETURNING `+invoiceColumns+`
	`, inv.AppointmentID, inv.AmountCents, inv.Status), &created)
	if err != nil {
		return model.Invoice{}, mapErr(err)
	}

	evt := outbox.NewInvoiceEvent(outbox.TopicInvoiceCreated, invoiceEvent(created))
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Invoice{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Invoice{}, err
	}
	return created, nil
}

func (r *Repository) UpdateInvoice(ctx context.Context, id string, patch workflow.InvoicePatch) (model.Invoice, error) {
	var c setClause
	if patch.AmountCents != nil {
		c.add("amount_cents", *patch.AmountCents)
	}
	if patch.Status != nil {
		c.add("status", *patch.Status)
	}
	if len(c.frags) == 0 {
		return r.GetInvoice(ctx, id)
	}

	sql := fmt.Sprintf(`
		UPDATE invoices
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, c.set(), c.next(), invoiceColumns)
	c.args = append(c.args, id)

	var updated model.Invoice
	if err := scanInvoiceInto(r.pool.QueryRow(ctx, sql, c.args...), &updated); err != nil {
		return model.Invoice{}, mapErr(err)
	}
	return updated, nil
}

func (r *Repository) DeleteInvoice(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

// MarkInvoicePaid is the read-path reconciliation write. The WHERE guard
// makes it idempotent; the paid event fires only on the transition.
func (r *Repository) MarkInvoicePaid(ctx context.Context, invoiceID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.markInvoicePaidInTx(ctx, tx, invoiceID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func collectInvoices(rows pgx.Rows) ([]model.Invoice, error) {
	var invs []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		if err := scanInvoiceInto(rows, &inv); err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return invs, nil
}

func invoiceEvent(inv model.Invoice) outbox.InvoiceEvent {
	return outbox.InvoiceEvent{
		InvoiceID:     inv.ID,
		AppointmentID: inv.AppointmentID,
		AmountCents:   inv.AmountCents,
		Status:        string(inv.Status),
	}
}
