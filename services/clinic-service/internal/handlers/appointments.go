package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

type createAppointmentRequest struct {
	PetID     string `json:"pet_id"`
	ServiceID string `json:"service_id"`
	StaffID   string `json:"staff_id"`
	Date      string `json:"date"`
	Notes     string `json:"notes"`
}

type updateAppointmentRequest struct {
	AppointmentID string  `json:"appointment_id"`
	Status        *string `json:"status"`
	PetID         *string `json:"pet_id"`
	ServiceID     *string `json:"service_id"`
	StaffID       *string `json:"staff_id"`
	Date          *string `json:"date"`
	Notes         *string `json:"notes"`
}

type deleteAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

// Appointments serves GET (list, or single via ?id=) and POST (create).
func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			appt, err := h.engine.GetAppointment(r.Context(), caller(r), id)
			if err != nil {
				h.writeWorkflowError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
			return
		}
		f, perr := appointmentFilterFromQuery(r)
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		appts, err := h.engine.ListAppointments(r.Context(), caller(r), f)
		if err != nil {
			h.writeWorkflowError(w, r, err)
			return
		}
		out := make([]appointmentResponse, 0, len(appts))
		for _, a := range appts {
			out = append(out, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
	case http.MethodPost:
		h.createAppointment(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Date))
	if err != nil {
		http.Error(w, "invalid date (want RFC3339)", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.CreateAppointment(r.Context(), caller(r), workflow.CreateAppointmentInput{
		PetID:     req.PetID,
		ServiceID: req.ServiceID,
		StaffID:   req.StaffID,
		Date:      date,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	h.logger.Info("appointment created", "appointment_id", appt.ID, "pet_id", appt.PetID)
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	in := workflow.UpdateAppointmentInput{
		Status:    req.Status,
		PetID:     req.PetID,
		ServiceID: req.ServiceID,
		StaffID:   req.StaffID,
		Notes:     req.Notes,
	}
	if req.Date != nil {
		date, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.Date))
		if err != nil {
			http.Error(w, "invalid date (want RFC3339)", http.StatusBadRequest)
			return
		}
		in.Date = &date
	}

	appt, err := h.engine.UpdateAppointment(r.Context(), caller(r), strings.TrimSpace(req.AppointmentID), in)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req deleteAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}
	if err := h.engine.DeleteAppointment(r.Context(), caller(r), strings.TrimSpace(req.AppointmentID)); err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func appointmentFilterFromQuery(r *http.Request) (workflow.AppointmentFilter, error) {
	q := r.URL.Query()
	f := workflow.AppointmentFilter{PetID: strings.TrimSpace(q.Get("pet_id"))}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid from (want RFC3339)")
		}
		f.From = t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid to (want RFC3339)")
		}
		f.To = t
	}
	return f, nil
}
