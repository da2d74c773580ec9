package model

import "time"

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "PENDING"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
)

func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	switch AppointmentStatus(s) {
	case AppointmentPending, AppointmentConfirmed, AppointmentCompleted, AppointmentCancelled:
		return AppointmentStatus(s), true
	}
	return "", false
}

type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "UNPAID"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

func ParseInvoiceStatus(s string) (InvoiceStatus, bool) {
	switch InvoiceStatus(s) {
	case InvoiceUnpaid, InvoicePaid, InvoiceCancelled:
		return InvoiceStatus(s), true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Appointment is a scheduled service visit for a pet. StaffID is empty until
// a staff member is assigned.
type Appointment struct {
	ID        string
	PetID     string
	ServiceID string
	StaffID   string
	Date      time.Time
	Status    AppointmentStatus
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Invoice bills exactly one appointment. Amounts are integer cents.
type Invoice struct {
	ID            string
	AppointmentID string
	AmountCents   int64
	Status        InvoiceStatus
	CreatedAt     time.Time
}

// Payment mirrors a gateway payment intent for exactly one invoice.
// IntentID and ClientSecret are empty until an intent has been minted.
type Payment struct {
	ID             string
	InvoiceID      string
	Method         string
	IntentID       string
	ClientSecret   string
	AmountCents    int64
	Status         PaymentStatus
	TransactionRef string
	PaidAt         *time.Time
	CreatedAt      time.Time
}

// Pet, Service and User are owned by the surrounding CRUD collaborators;
// the workflow treats them as read-only lookups.
type Pet struct {
	ID      string
	OwnerID string
	Name    string
	Active  bool
}

type Service struct {
	ID              string
	Name            string
	PriceCents      int64
	DurationMinutes int
	Active          bool
}

type User struct {
	ID   string
	Name string
	Role Role
}

// DefaultDurationMinutes is the overlap window used when a service does not
// declare its own duration.
const DefaultDurationMinutes = 60

// Duration returns the service's booking window.
func (s Service) Duration() time.Duration {
	mins := s.DurationMinutes
	if mins <= 0 {
		mins = DefaultDurationMinutes
	}
	return time.Duration(mins) * time.Minute
}
