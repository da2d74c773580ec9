package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type initiatePaymentRequest struct {
	InvoiceID string `json:"invoice_id"`
}

type initiatePaymentResponse struct {
	PaymentID    string `json:"payment_id"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
}

type confirmPaymentRequest struct {
	IntentID  string `json:"intent_id"`
	InvoiceID string `json:"invoice_id"`
}

type deletePaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		http.Error(w, "invoice_id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.engine.InitiatePayment(r.Context(), caller(r), req.InvoiceID)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		PaymentID:    sess.PaymentID,
		IntentID:     sess.IntentID,
		ClientSecret: sess.ClientSecret,
		AmountCents:  sess.AmountCents,
	})
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	pay, err := h.engine.ConfirmPayment(r.Context(), caller(r), req.IntentID, req.InvoiceID)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(pay))
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req deletePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		http.Error(w, "payment_id is required", http.StatusBadRequest)
		return
	}
	if err := h.engine.DeletePayment(r.Context(), caller(r), req.PaymentID); err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
