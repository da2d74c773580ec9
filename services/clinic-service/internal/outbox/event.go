package outbox

import "encoding/json"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (production-style: event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics. Versioned so consumers can migrate across payload changes.
const (
	TopicAppointmentCreated   = "clinic.appointment.created.v1"
	TopicAppointmentConfirmed = "clinic.appointment.confirmed.v1"
	TopicAppointmentCancelled = "clinic.appointment.cancelled.v1"
	TopicAppointmentDeleted   = "clinic.appointment.deleted.v1"
	TopicInvoiceCreated       = "clinic.invoice.created.v1"
	TopicInvoicePaid          = "clinic.invoice.paid.v1"
	TopicPaymentCompleted     = "clinic.payment.completed.v1"
	TopicPaymentFailed        = "clinic.payment.failed.v1"
)

// AppointmentEvent carries the appointment facts consumers need without a
// read back into this service.
type AppointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	PetID         string `json:"pet_id"`
	ServiceID     string `json:"service_id"`
	Status        string `json:"status"`
	Date          string `json:"date,omitempty"`
}

type InvoiceEvent struct {
	InvoiceID     string `json:"invoice_id"`
	AppointmentID string `json:"appointment_id"`
	AmountCents   int64  `json:"amount_cents"`
	Status        string `json:"status"`
}

type PaymentEvent struct {
	PaymentID      string `json:"payment_id"`
	InvoiceID      string `json:"invoice_id"`
	AmountCents    int64  `json:"amount_cents"`
	Status         string `json:"status"`
	TransactionRef string `json:"transaction_ref,omitempty"`
}

func NewAppointmentEvent(topic string, payload AppointmentEvent) Event {
	raw, _ := json.Marshal(payload)
	return Event{
		AggregateType: "appointment",
		AggregateID:   payload.AppointmentID,
		EventType:     topic,
		Payload:       raw,
	}
}

func NewInvoiceEvent(topic string, payload InvoiceEvent) Event {
	raw, _ := json.Marshal(payload)
	return Event{
		AggregateType: "invoice",
		AggregateID:   payload.InvoiceID,
		EventType:     topic,
		Payload:       raw,
	}
}

func NewPaymentEvent(topic string, payload PaymentEvent) Event {
	raw, _ := json.Marshal(payload)
	return Event{
		AggregateType: "payment",
		AggregateID:   payload.PaymentID,
		EventType:     topic,
		Payload:       raw,
	}
}
