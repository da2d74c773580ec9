package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type createInvoiceRequest struct {
	AppointmentID string `json:"appointment_id"`
	AmountCents   int64  `json:"amount_cents"`
}

type invoiceStatusRequest struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
}

type deleteInvoiceRequest struct {
	InvoiceID string `json:"invoice_id"`
}

// Invoices serves GET (list, or single via ?id=; both reconcile against the
// payment before responding) and POST (staff manual creation).
func (h *Handler) Invoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			inv, err := h.engine.GetInvoice(r.Context(), caller(r), id)
			if err != nil {
				h.writeWorkflowError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		invs, err := h.engine.ListInvoices(r.Context(), caller(r), limit)
		if err != nil {
			h.writeWorkflowError(w, r, err)
			return
		}
		out := make([]invoiceResponse, 0, len(invs))
		for _, inv := range invs {
			out = append(out, toInvoiceResponse(inv))
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": out})
	case http.MethodPost:
		var req createInvoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		inv, err := h.engine.CreateInvoice(r.Context(), caller(r), req.AppointmentID, req.AmountCents)
		if err != nil {
			h.writeWorkflowError(w, r, err)
			return
		}
		h.logger.Info("invoice created", "invoice_id", inv.ID, "appointment_id", inv.AppointmentID)
		writeJSON(w, http.StatusCreated, toInvoiceResponse(inv))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req invoiceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		http.Error(w, "invoice_id is required", http.StatusBadRequest)
		return
	}
	inv, err := h.engine.UpdateInvoiceStatus(r.Context(), caller(r), strings.TrimSpace(req.InvoiceID), req.Status)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req deleteInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		http.Error(w, "invoice_id is required", http.StatusBadRequest)
		return
	}
	if err := h.engine.DeleteInvoice(r.Context(), caller(r), strings.TrimSpace(req.InvoiceID)); err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
