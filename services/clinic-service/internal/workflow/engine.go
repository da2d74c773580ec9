package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
)

// Caller is the authenticated identity every operation receives explicitly.
// The workflow never reads ambient session state.
type Caller struct {
	UserID string
	Role   model.Role
}

// Engine owns the booking and billing rules: appointment transitions,
// invoice consistency, and the payment lifecycle against the gateway.
// Keeping this out of HTTP handlers makes it reusable for the webhook and
// reconciliation flows.
type Engine struct {
	store    Store
	gateway  Gateway
	logger   *slog.Logger
	currency string
	now      func() time.Time
}

type Config struct {
	Currency string
}

func NewEngine(store Store, gateway Gateway, logger *slog.Logger, cfg Config) *Engine {
	currency := strings.TrimSpace(strings.ToLower(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		gateway:  gateway,
		logger:   logger,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) requireCaller(caller Caller) *Error {
	if strings.TrimSpace(caller.UserID) == "" {
		return errf(KindUnauthorized, "caller identity required")
	}
	if _, ok := model.ParseRole(string(caller.Role)); !ok {
		return errf(KindUnauthorized, "unknown caller role")
	}
	return nil
}

func (e *Engine) requireStaff(caller Caller) *Error {
	if err := e.requireCaller(caller); err != nil {
		return err
	}
	if !caller.Role.IsStaff() {
		return errf(KindForbidden, "staff access required")
	}
	return nil
}

// ownsPet reports whether the caller owns the appointment's pet.
func (e *Engine) ownsPet(ctx context.Context, caller Caller, petID string) (bool, error) {
	pet, err := e.store.GetPet(ctx, petID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, errf(KindNotFound, "pet not found")
		}
		return false, internalErr(err, "failed to load pet")
	}
	return pet.OwnerID == caller.UserID, nil
}
