package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/pawsitive-care/clinic/libs/auth"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/memstore"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/stripegw"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

const webhookSecret = "whsec_handler_test"

type env struct {
	h     *Handler
	st    *memstore.Store
	gw    *memstore.Gateway
	owner workflow.Caller
	staff workflow.Caller
	pet   model.Pet
	svc   model.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	gw := memstore.NewGateway()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := workflow.NewEngine(st, gw, logger, workflow.Config{})
	sg := stripegw.New(logger, stripegw.Config{SecretKey: "sk_test", WebhookSecret: webhookSecret})

	owner := st.AddUser(model.User{Name: "Dana", Role: model.RoleCustomer})
	vet := st.AddUser(model.User{Name: "Priya", Role: model.RoleStaff})
	pet := st.AddPet(model.Pet{OwnerID: owner.ID, Name: "Biscuit", Active: true})
	svc := st.AddService(model.Service{Name: "Checkup", PriceCents: 5000, DurationMinutes: 30, Active: true})

	return &env{
		h:     New(eng, sg, logger),
		st:    st,
		gw:    gw,
		owner: workflow.Caller{UserID: owner.ID, Role: model.RoleCustomer},
		staff: workflow.Caller{UserID: vet.ID, Role: model.RoleStaff},
		pet:   pet,
		svc:   svc,
	}
}

func (e *env) request(t *testing.T, c workflow.Caller, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if c.UserID != "" {
		req = req.WithContext(ContextWithCaller(req.Context(), c))
	}
	return req
}

func (e *env) book(t *testing.T) appointmentResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	e.h.Appointments(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/appointments", map[string]any{
		"pet_id":     e.pet.ID,
		"service_id": e.svc.ID,
		"date":       time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create appointment: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp appointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func (e *env) confirm(t *testing.T, apptID string) invoiceResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	e.h.UpdateAppointment(rec, e.request(t, e.staff, http.MethodPost, "/api/v1/appointments/update", map[string]any{
		"appointment_id": apptID,
		"status":         "CONFIRMED",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status %d, body %s", rec.Code, rec.Body.String())
	}
	inv, err := e.st.GetInvoiceByAppointment(context.Background(), apptID)
	if err != nil {
		t.Fatalf("invoice after confirm: %v", err)
	}
	return toInvoiceResponse(inv)
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	e := newEnv(t)
	resp := e.book(t)
	if resp.Status != "PENDING" || resp.ID == "" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCreateAppointmentInvalidDate(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.h.Appointments(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/appointments", map[string]any{
		"pet_id":     e.pet.ID,
		"service_id": e.svc.ID,
		"date":       "tomorrow",
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCustomerConfirmRejected(t *testing.T) {
	e := newEnv(t)
	appt := e.book(t)

	rec := httptest.NewRecorder()
	e.h.UpdateAppointment(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/appointments/update", map[string]any{
		"appointment_id": appt.ID,
		"status":         "CONFIRMED",
	}))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	e := newEnv(t)
	appt := e.book(t)

	rec := httptest.NewRecorder()
	e.h.UpdateAppointment(rec, e.request(t, e.staff, http.MethodPost, "/api/v1/appointments/update", map[string]any{
		"appointment_id": appt.ID,
		"status":         "DONE",
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
}

func TestSchedulingConflictMapsTo409(t *testing.T) {
	e := newEnv(t)
	first := e.book(t)

	rec := httptest.NewRecorder()
	e.h.Appointments(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/appointments", map[string]any{
		"pet_id":     e.pet.ID,
		"service_id": e.svc.ID,
		"date":       first.Date,
	}))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", rec.Code, rec.Body.String())
	}
}

func TestInitiateAndConfirmPaymentEndpoints(t *testing.T) {
	e := newEnv(t)
	inv := e.confirm(t, e.book(t).ID)

	rec := httptest.NewRecorder()
	e.h.InitiatePayment(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/payments/initiate", map[string]any{
		"invoice_id": inv.ID,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate: status %d, body %s", rec.Code, rec.Body.String())
	}
	var sess initiatePaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ClientSecret == "" {
		t.Fatal("no client secret returned")
	}

	e.gw.Succeed(sess.IntentID)
	rec = httptest.NewRecorder()
	e.h.ConfirmPayment(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/payments/confirm", map[string]any{
		"intent_id":  sess.IntentID,
		"invoice_id": inv.ID,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status %d, body %s", rec.Code, rec.Body.String())
	}
	var pay paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pay); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pay.Status != "COMPLETED" || pay.PaidAt == "" {
		t.Fatalf("payment = %+v", pay)
	}

	// Invoice reads back PAID.
	rec = httptest.NewRecorder()
	e.h.Invoices(rec, e.request(t, e.owner, http.MethodGet, "/api/v1/invoices?id="+inv.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get invoice: status %d", rec.Code)
	}
	var got invoiceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "PAID" {
		t.Fatalf("invoice status = %s, want PAID", got.Status)
	}
}

func TestInitiatePaymentAlreadyPaidMapsTo409(t *testing.T) {
	e := newEnv(t)
	inv := e.confirm(t, e.book(t).ID)

	rec := httptest.NewRecorder()
	e.h.InitiatePayment(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/payments/initiate", map[string]any{"invoice_id": inv.ID}))
	var sess initiatePaymentResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)
	e.gw.Succeed(sess.IntentID)
	rec = httptest.NewRecorder()
	e.h.ConfirmPayment(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/payments/confirm", map[string]any{
		"intent_id": sess.IntentID, "invoice_id": inv.ID,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.h.InitiatePayment(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/payments/initiate", map[string]any{"invoice_id": inv.ID}))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", rec.Code, rec.Body.String())
	}
}

func TestStripeWebhookEndpoint(t *testing.T) {
	e := newEnv(t)
	inv := e.confirm(t, e.book(t).ID)

	rec := httptest.NewRecorder()
	e.h.InitiatePayment(rec, e.request(t, e.owner, http.MethodPost, "/api/v1/payments/initiate", map[string]any{"invoice_id": inv.ID}))
	var sess initiatePaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_wh_1",
		"object":      "event",
		"created":     time.Now().Unix(),
		"type":        "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":       sess.IntentID,
				"object":   "payment_intent",
				"metadata": map[string]any{"invoice_id": inv.ID},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec = httptest.NewRecorder()
	e.h.StripeWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: status %d, body %s", rec.Code, rec.Body.String())
	}

	got, _ := e.st.GetInvoice(context.Background(), inv.ID)
	if got.Status != model.InvoicePaid {
		t.Fatalf("invoice status = %s, want PAID", got.Status)
	}

	// Replay comes back 200 but is not re-applied.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec = httptest.NewRecorder()
	e.h.StripeWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: status %d", rec.Code)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	rec := httptest.NewRecorder()
	e.h.StripeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	e := newEnv(t)
	secret := "test-secret"
	protected := RequireAuth(http.HandlerFunc(e.h.Appointments), secret, nil)

	// No token.
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	// Valid HS256 token flows through to the handler with caller identity.
	now := time.Now().Unix()
	token, err := auth.SignHS256(auth.Claims{
		Sub:  e.owner.UserID,
		Role: string(model.RoleCustomer),
		Iat:  now,
		Exp:  now + 3600,
	}, secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	// Garbage token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAnonymousCallerGets401(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.h.Appointments(rec, e.request(t, workflow.Caller{}, http.MethodGet, "/api/v1/appointments", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
