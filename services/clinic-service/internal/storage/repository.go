// Package storage implements workflow.Store on PostgreSQL. Compound
// operations run in a single transaction and write their outbox events in
// the same transaction, so domain state and published events never diverge.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pawsitive-care/clinic/libs/db"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/outbox"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return workflow.ErrDuplicate
	}
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// setClause accumulates SET fragments for partial updates.
type setClause struct {
	frags []string
	args  []any
}

func (c *setClause) add(col string, val any) {
	c.args = append(c.args, val)
	c.frags = append(c.frags, fmt.Sprintf("%s = $%d", col, len(c.args)))
}

func (c *setClause) set() string { return strings.Join(c.frags, ", ") }

func (c *setClause) next() int { return len(c.args) + 1 }

func (r *Repository) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) error {
	var body any
	if len(payload) == 0 {
		body = map[string]any{}
	} else if err := json.Unmarshal(payload, &body); err != nil {
		// Webhook payloads are verified upstream; malformed JSON is a hard failure.
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, provider, eventID, eventType, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrDuplicate
	}
	return nil
}

func (r *Repository) GetPet(ctx context.Context, id string) (model.Pet, error) {
	var p model.Pet
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, active
		FROM pets
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Active)
	if err != nil {
		return model.Pet{}, mapErr(err)
	}
	return p, nil
}

func (r *Repository) GetService(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, price_cents, duration_minutes, active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.PriceCents, &s.DurationMinutes, &s.Active)
	if err != nil {
		return model.Service{}, mapErr(err)
	}
	return s, nil
}

func (r *Repository) GetStaff(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, role
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Role)
	if err != nil {
		return model.User{}, mapErr(err)
	}
	return u, nil
}
