package handlers

import (
	"io"
	"net/http"
	"strings"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification
// is the auth). Unverified events are rejected, never processed.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	ev, err := h.gateway.VerifyEvent(body, sigHeader)
	if err != nil {
		h.logger.Warn("stripe webhook rejected", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	h.logger.Info("gateway event received",
		"provider", ev.Provider,
		"provider_event_id", ev.ID,
		"event_type", ev.Type,
		"intent_id", ev.IntentID,
	)

	applied, err := h.engine.ApplyGatewayEvent(r.Context(), ev)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	if !applied {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "processed"})
}
