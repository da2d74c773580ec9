// Package handlers exposes the clinic workflow over HTTP. Routing is flat
// paths with identifiers in the body or query; each handler checks its
// method first.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/stripegw"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

type Handler struct {
	engine  *workflow.Engine
	gateway *stripegw.Gateway
	logger  *slog.Logger
}

func New(engine *workflow.Engine, gateway *stripegw.Gateway, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, gateway: gateway, logger: logger}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeWorkflowError translates workflow error kinds to status codes.
// Internal detail stays in the log; clients get the safe message only.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	var wfErr *workflow.Error
	if !errors.As(err, &wfErr) {
		h.logger.Error("unclassified handler error", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if wfErr.Kind == workflow.KindInternal {
		h.logger.Error("workflow internal error", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, statusForKind(wfErr.Kind), map[string]any{
		"error":   string(wfErr.Kind),
		"message": wfErr.Message(),
	})
}

func statusForKind(k workflow.Kind) int {
	switch k {
	case workflow.KindUnauthorized:
		return http.StatusUnauthorized
	case workflow.KindForbidden:
		return http.StatusForbidden
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindValidation, workflow.KindInvalidStatus, workflow.KindInvalidIntent, workflow.KindInvalidSignature:
		return http.StatusBadRequest
	case workflow.KindInvalidTransition, workflow.KindSchedulingConflict, workflow.KindDuplicateInvoice,
		workflow.KindAlreadyPaid, workflow.KindHasPayment, workflow.KindPaymentNotSucceeded:
		return http.StatusConflict
	case workflow.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// JSON shapes. Dates travel as RFC 3339.

type appointmentResponse struct {
	ID        string `json:"id"`
	PetID     string `json:"pet_id"`
	ServiceID string `json:"service_id"`
	StaffID   string `json:"staff_id,omitempty"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:        a.ID,
		PetID:     a.PetID,
		ServiceID: a.ServiceID,
		StaffID:   a.StaffID,
		Date:      a.Date.UTC().Format(time.RFC3339),
		Status:    string(a.Status),
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type invoiceResponse struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	AmountCents   int64  `json:"amount_cents"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

func toInvoiceResponse(inv model.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:            inv.ID,
		AppointmentID: inv.AppointmentID,
		AmountCents:   inv.AmountCents,
		Status:        string(inv.Status),
		CreatedAt:     inv.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type paymentResponse struct {
	ID             string `json:"id"`
	InvoiceID      string `json:"invoice_id"`
	AmountCents    int64  `json:"amount_cents"`
	Status         string `json:"status"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	PaidAt         string `json:"paid_at,omitempty"`
}

func toPaymentResponse(p model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:             p.ID,
		InvoiceID:      p.InvoiceID,
		AmountCents:    p.AmountCents,
		Status:         string(p.Status),
		TransactionRef: p.TransactionRef,
	}
	if p.PaidAt != nil {
		resp.PaidAt = p.PaidAt.UTC().Format(time.RFC3339)
	}
	return resp
}
