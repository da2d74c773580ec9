package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/outbox"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

const paymentColumns = `
	id::text, invoice_id::text, COALESCE(method, ''), COALESCE(intent_id, ''),
	COALESCE(client_secret, ''), amount_cents, status, COALESCE(transaction_ref, ''),
	paid_at, created_at`

func scanPayment(row pgx.Row) (model.Payment, error) {
	var p model.Payment
	var paidAt *time.Time
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Method, &p.IntentID, &p.ClientSecret,
		&p.AmountCents, &p.Status, &p.TransactionRef, &paidAt, &p.CreatedAt)
	if err != nil {
		return model.Payment{}, err
	}
	p.PaidAt = paidAt
	return p, nil
}

func (r *Repository) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Payment{}, mapErr(err)
	}
	return p, nil
}

func (r *Repository) GetPaymentByInvoice(ctx context.Context, invoiceID string) (model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE invoice_id = $1
	`, invoiceID))
	if err != nil {
		return model.Payment{}, mapErr(err)
	}
	return p, nil
}

func (r *Repository) GetPaymentByIntentAndInvoice(ctx context.Context, intentID, invoiceID string) (model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE intent_id = $1 AND invoice_id = $2
	`, intentID, invoiceID))
	if err != nil {
		return model.Payment{}, mapErr(err)
	}
	return p, nil
}

func (r *Repository) CreatePayment(ctx context.Context, p model.Payment) (model.Payment, error) {
	created, err := scanPayment(r.pool.QueryRow(ctx, `
		INSERT INTO payments (invoice_id, method, intent_id, client_secret, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+paymentColumns+`
	`, p.InvoiceID, nullIfEmpty(p.Method), nullIfEmpty(p.IntentID), nullIfEmpty(p.ClientSecret), p.AmountCents, p.Status))
	if err != nil {
		return model.Payment{}, mapErr(err)
	}
	return created, nil
}

func (r *Repository) UpdatePayment(ctx context.Context, id string, patch workflow.PaymentPatch) (model.Payment, error) {
	var c setClause
	if patch.Status != nil {
		c.add("status", *patch.Status)
	}
	if patch.IntentID != nil {
		c.add("intent_id", nullIfEmpty(*patch.IntentID))
	}
	if patch.ClientSecret != nil {
		c.add("client_secret", nullIfEmpty(*patch.ClientSecret))
	}
	if patch.TransactionRef != nil {
		c.add("transaction_ref", nullIfEmpty(*patch.TransactionRef))
	}
	if patch.PaidAt != nil {
		c.add("paid_at", *patch.PaidAt)
	}
	if len(c.frags) == 0 {
		return r.GetPayment(ctx, id)
	}

	sql := fmt.Sprintf(`
		UPDATE payments
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, c.set(), c.next(), paymentColumns)
	c.args = append(c.args, id)

	updated, err := scanPayment(r.pool.QueryRow(ctx, sql, c.args...))
	if err != nil {
		return model.Payment{}, mapErr(err)
	}
	return updated, nil
}

// CompletePaymentAndMarkInvoicePaid records gateway-confirmed success. Both
// rows move in one transaction; the paid and completed events ride along.
func (r *Repository) CompletePaymentAndMarkInvoicePaid(ctx context.Context, paymentID, invoiceID, transactionRef string, paidAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'COMPLETED',
		    transaction_ref = $2,
		    paid_at = $3
		WHERE id = $1
		RETURNING `+paymentColumns+`
	`, paymentID, transactionRef, paidAt))
	if err != nil {
		return mapErr(err)
	}

	if err := r.markInvoicePaidInTx(ctx, tx, invoiceID); err != nil {
		return err
	}
	evt := outbox.NewPaymentEvent(outbox.TopicPaymentCompleted, paymentEvent(p))
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompletePaymentsByIntent is the webhook path: the intent id is the only
// reliable key, and the invoice comes from the intent's metadata.
func (r *Repository) CompletePaymentsByIntent(ctx context.Context, intentID, invoiceID, transactionRef string, paidAt time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE payments
		SET status = 'COMPLETED',
		    transaction_ref = $2,
		    paid_at = $3
		WHERE intent_id = $1
		RETURNING `+paymentColumns+`
	`, intentID, transactionRef, paidAt)
	if err != nil {
		return 0, err
	}
	var updated []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		updated = append(updated, p)
	}
	rows.Close()
	if rows.Err() != nil {
		return 0, rows.Err()
	}

	// Mark the invoice from the event metadata; older intents may lack it,
	// so fall back to the matched payment rows to keep the pair atomic.
	invoices := map[string]struct{}{}
	if invoiceID != "" {
		invoices[invoiceID] = struct{}{}
	} else {
		for _, p := range updated {
			if p.InvoiceID != "" {
				invoices[p.InvoiceID] = struct{}{}
			}
		}
	}
	for id := range invoices {
		if err := r.markInvoicePaidInTx(ctx, tx, id); err != nil {
			return 0, err
		}
	}
	for _, p := range updated {
		evt := outbox.NewPaymentEvent(outbox.TopicPaymentCompleted, paymentEvent(p))
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(updated), nil
}

func (r *Repository) SetPaymentStatusByIntent(ctx context.Context, intentID string, status model.PaymentStatus) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE payments
		SET status = $2
		WHERE intent_id = $1
		RETURNING `+paymentColumns+`
	`, intentID, status)
	if err != nil {
		return 0, err
	}
	var updated []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		updated = append(updated, p)
	}
	rows.Close()
	if rows.Err() != nil {
		return 0, rows.Err()
	}

	if status == model.PaymentFailed || status == model.PaymentCancelled {
		for _, p := range updated {
			evt := outbox.NewPaymentEvent(outbox.TopicPaymentFailed, paymentEvent(p))
			if err := r.outbox.Insert(ctx, tx, evt); err != nil {
				return 0, err
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(updated), nil
}

func (r *Repository) DeletePaymentAndRevertInvoice(ctx context.Context, paymentID, invoiceID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `
		UPDATE invoices
		SET status = 'UNPAID'
		WHERE id = $1
	`, invoiceID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) markInvoicePaidInTx(ctx context.Context, tx pgx.Tx, invoiceID string) error {
	var inv model.Invoice
	err := scanInvoiceInto(tx.QueryRow(ctx, `
		UPDATE invoices
		SET status = 'PAID'
		WHERE id = $1 AND status <> 'PAID'
		RETURNING `+invoiceColumns+`
	`, invoiceID), &inv)
	if err != nil {
		if errors.Is(mapErr(err), workflow.ErrNotFound) {
			return nil
		}
		return mapErr(err)
	}
	evt := outbox.NewInvoiceEvent(outbox.TopicInvoicePaid, invoiceEvent(inv))
	return r.outbox.Insert(ctx, tx, evt)
}

func paymentEvent(p model.Payment) outbox.PaymentEvent {
	return outbox.PaymentEvent{
		PaymentID:      p.ID,
		InvoiceID:      p.InvoiceID,
		AmountCents:    p.AmountCents,
		Status:         string(p.Status),
		TransactionRef: p.TransactionRef,
	}
}
