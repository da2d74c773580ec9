package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
)

// Store error contract. Implementations map their native failures (pgx
// ErrNoRows, unique-violation codes) onto these sentinels so the engine
// never sees driver detail.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// AppointmentPatch applies only its non-nil fields.
type AppointmentPatch struct {
	PetID     *string
	ServiceID *string
	StaffID   *string
	Date      *time.Time
	Status    *model.AppointmentStatus
	Notes     *string
}

// AppointmentFilter narrows a listing; zero fields mean "no constraint".
type AppointmentFilter struct {
	PetID string
	From  time.Time
	To    time.Time
	Limit int
}

// InvoicePatch applies only its non-nil fields.
type InvoicePatch struct {
	AmountCents *int64
	Status      *model.InvoiceStatus
}

// PaymentPatch applies only its non-nil fields. Pointer-to-empty clears a
// gateway handle (used when resetting a FAILED/CANCELLED payment).
type PaymentPatch struct {
	Status         *model.PaymentStatus
	IntentID       *string
	ClientSecret   *string
	TransactionRef *string
	PaidAt         **time.Time
}

// Store is the persistence contract the workflow requires. Methods
// documented as atomic must apply all their writes in a single transaction;
// partial application is forbidden.
type Store interface {
	// Appointments.
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	// HasOverlappingAppointment reports whether another PENDING or CONFIRMED
	// appointment for the pet overlaps [start, end). excludeID is skipped so
	// an appointment never conflicts with itself.
	HasOverlappingAppointment(ctx context.Context, petID string, start, end time.Time, excludeID string) (bool, error)
	CreateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, patch AppointmentPatch) (model.Appointment, error)
	// ConfirmAppointmentWithInvoice applies the patch and, atomically, makes
	// sure an invoice exists for the appointment. When another writer already
	// created one the insert is skipped and the existing invoice is returned.
	ConfirmAppointmentWithInvoice(ctx context.Context, id string, patch AppointmentPatch, inv model.Invoice) (model.Appointment, model.Invoice, error)
	// DeleteAppointment removes the appointment together with its unpaid
	// invoice, if any, atomically.
	DeleteAppointment(ctx context.Context, id string) error
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	ListAppointmentsByOwner(ctx context.Context, ownerID string, f AppointmentFilter) ([]model.Appointment, error)

	// Invoices.
	GetInvoice(ctx context.Context, id string) (model.Invoice, error)
	GetInvoiceByAppointment(ctx context.Context, appointmentID string) (model.Invoice, error)
	ListInvoices(ctx context.Context, limit int) ([]model.Invoice, error)
	ListInvoicesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Invoice, error)
	CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error)
	UpdateInvoice(ctx context.Context, id string, patch InvoicePatch) (model.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
	// MarkInvoicePaid is idempotent; used by read-path reconciliation.
	MarkInvoicePaid(ctx context.Context, invoiceID string) error

	// Payments.
	GetPayment(ctx context.Context, id string) (model.Payment, error)
	GetPaymentByInvoice(ctx context.Context, invoiceID string) (model.Payment, error)
	GetPaymentByIntentAndInvoice(ctx context.Context, intentID, invoiceID string) (model.Payment, error)
	CreatePayment(ctx context.Context, p model.Payment) (model.Payment, error)
	UpdatePayment(ctx context.Context, id string, patch PaymentPatch) (model.Payment, error)
	// CompletePaymentAndMarkInvoicePaid marks the payment COMPLETED (paid-at,
	// transaction reference) and its invoice PAID, atomically.
	CompletePaymentAndMarkInvoicePaid(ctx context.Context, paymentID, invoiceID, transactionRef string, paidAt time.Time) error
	// CompletePaymentsByIntent marks every payment carrying the intent
	// COMPLETED and the given invoice PAID, atomically. Returns the number of
	// payments touched.
	CompletePaymentsByIntent(ctx context.Context, intentID, invoiceID, transactionRef string, paidAt time.Time) (int, error)
	SetPaymentStatusByIntent(ctx context.Context, intentID string, status model.PaymentStatus) (int, error)
	// DeletePaymentAndRevertInvoice deletes the payment and sets its invoice
	// back to UNPAID, atomically.
	DeletePaymentAndRevertInvoice(ctx context.Context, paymentID, invoiceID string) error

	// Webhook replay protection. Returns ErrDuplicate when the provider
	// event id has been seen before.
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) error

	// Read-only lookups owned by the surrounding CRUD collaborators.
	GetPet(ctx context.Context, id string) (model.Pet, error)
	GetService(ctx context.Context, id string) (model.Service, error)
	GetStaff(ctx context.Context, id string) (model.User, error)
}
