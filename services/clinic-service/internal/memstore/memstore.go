// Package memstore is an in-memory workflow.Store used by tests. It
// enforces the same uniqueness rules as the SQL schema (one invoice per
// appointment, one payment per invoice, provider event ids) so engine
// tests exercise the duplicate paths realistically.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

type Store struct {
	mu sync.Mutex

	Appointments map[string]model.Appointment
	Invoices     map[string]model.Invoice
	Payments     map[string]model.Payment
	Pets         map[string]model.Pet
	Services     map[string]model.Service
	Users        map[string]model.User

	providerEvents map[string]struct{}

	// FailNext makes the next call returning an error fail with it, then
	// clears. Used to test internal-error propagation.
	FailNext error

	// BeforeCreatePayment runs once before the next insert's uniqueness
	// check, letting a test slip a competing row in first.
	BeforeCreatePayment func()

	Now func() time.Time
}

func New() *Store {
	return &Store{
		Appointments:   map[string]model.Appointment{},
		Invoices:       map[string]model.Invoice{},
		Payments:       map[string]model.Payment{},
		Pets:           map[string]model.Pet{},
		Services:       map[string]model.Service{},
		Users:          map[string]model.User{},
		providerEvents: map[string]struct{}{},
		Now:            time.Now,
	}
}

func (s *Store) fail() error {
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	return nil
}

// Seed helpers.

func (s *Store) AddPet(p model.Pet) model.Pet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.Pets[p.ID] = p
	return p
}

func (s *Store) AddService(svc model.Service) model.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	s.Services[svc.ID] = svc
	return svc
}

func (s *Store) AddUser(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.Users[u.ID] = u
	return u
}

// Appointments.

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Appointment{}, err
	}
	a, ok := s.Appointments[id]
	if !ok {
		return model.Appointment{}, workflow.ErrNotFound
	}
	return a, nil
}

func (s *Store) HasOverlappingAppointment(ctx context.Context, petID string, start, end time.Time, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	for _, a := range s.Appointments {
		if a.ID == excludeID || a.PetID != petID {
			continue
		}
		if a.Status != model.AppointmentPending && a.Status != model.AppointmentConfirmed {
			continue
		}
		dur := model.DefaultDurationMinutes * time.Minute
		if svc, ok := s.Services[a.ServiceID]; ok {
			dur = svc.Duration()
		}
		if a.Date.Before(end) && a.Date.Add(dur).After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Appointment{}, err
	}
	appt.ID = uuid.NewString()
	appt.CreatedAt = s.Now()
	appt.UpdatedAt = appt.CreatedAt
	s.Appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, id string, patch workflow.AppointmentPatch) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Appointment{}, err
	}
	return s.applyAppointmentPatch(id, patch)
}

func (s *Store) applyAppointmentPatch(id string, patch workflow.AppointmentPatch) (model.Appointment, error) {
	a, ok := s.Appointments[id]
	if !ok {
		return model.Appointment{}, workflow.ErrNotFound
	}
	if patch.PetID != nil {
		a.PetID = *patch.PetID
	}
	if patch.ServiceID != nil {
		a.ServiceID = *patch.ServiceID
	}
	if patch.StaffID != nil {
		a.StaffID = *patch.StaffID
	}
	if patch.Date != nil {
		a.Date = *patch.Date
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
	a.UpdatedAt = s.Now()
	s.Appointments[id] = a
	return a, nil
}

func (s *Store) ConfirmAppointmentWithInvoice(ctx context.Context, id string, patch workflow.AppointmentPatch, inv model.Invoice) (model.Appointment, model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Appointment{}, model.Invoice{}, err
	}
	a, err := s.applyAppointmentPatch(id, patch)
	if err != nil {
		return model.Appointment{}, model.Invoice{}, err
	}
	for _, existing := range s.Invoices {
		if existing.AppointmentID == id {
			return a, existing, nil
		}
	}
	inv.ID = uuid.NewString()
	inv.AppointmentID = id
	inv.CreatedAt = s.Now()
	s.Invoices[inv.ID] = inv
	return a, inv, nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if _, ok := s.Appointments[id]; !ok {
		return workflow.ErrNotFound
	}
	for invID, inv := range s.Invoices {
		if inv.AppointmentID == id {
			delete(s.Invoices, invID)
		}
	}
	delete(s.Appointments, id)
	return nil
}

func (s *Store) ListAppointments(ctx context.Context, f workflow.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := make([]model.Appointment, 0, len(s.Appointments))
	for _, a := range s.Appointments {
		if matchesFilter(a, f) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return clip(out, f.Limit), nil
}

func (s *Store) ListAppointmentsByOwner(ctx context.Context, ownerID string, f workflow.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var out []model.Appointment
	for _, a := range s.Appointments {
		pet, ok := s.Pets[a.PetID]
		if ok && pet.OwnerID == ownerID && matchesFilter(a, f) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return clip(out, f.Limit), nil
}

func matchesFilter(a model.Appointment, f workflow.AppointmentFilter) bool {
	if f.PetID != "" && a.PetID != f.PetID {
		return false
	}
	if !f.From.IsZero() && a.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.Date.Before(f.To) {
		return false
	}
	return true
}

// Invoices.

func (s *Store) GetInvoice(ctx context.Context, id string) (model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Invoice{}, err
	}
	inv, ok := s.Invoices[id]
	if !ok {
		return model.Invoice{}, workflow.ErrNotFound
	}
	return inv, nil
}

func (s *Store) GetInvoiceByAppointment(ctx context.Context, appointmentID string) (model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Invoice{}, err
	}
	for _, inv := range s.Invoices {
		if inv.AppointmentID == appointmentID {
			return inv, nil
		}
	}
	return model.Invoice{}, workflow.ErrNotFound
}

func (s *Store) ListInvoices(ctx context.Context, limit int) ([]model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := make([]model.Invoice, 0, len(s.Invoices))
	for _, inv := range s.Invoices {
		out = append(out, inv)
	}
	sortInvoices(out)
	return clip(out, limit), nil
}

func (s *Store) ListInvoicesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var out []model.Invoice
	for _, inv := range s.Invoices {
		a, ok := s.Appointments[inv.AppointmentID]
		if !ok {
			continue
		}
		if pet, ok := s.Pets[a.PetID]; ok && pet.OwnerID == ownerID {
			out = append(out, inv)
		}
	}
	sortInvoices(out)
	return clip(out, limit), nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Invoice{}, err
	}
	for _, existing := range s.Invoices {
		if existing.AppointmentID == inv.AppointmentID {
			return model.Invoice{}, workflow.ErrDuplicate
		}
	}
	inv.ID = uuid.NewString()
	inv.CreatedAt = s.Now()
	s.Invoices[inv.ID] = inv
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, id string, patch workflow.InvoicePatch) (model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Invoice{}, err
	}
	inv, ok := s.Invoices[id]
	if !ok {
		return model.Invoice{}, workflow.ErrNotFound
	}
	if patch.AmountCents != nil {
		inv.AmountCents = *patch.AmountCents
	}
	if patch.Status != nil {
		inv.Status = *patch.Status
	}
	s.Invoices[id] = inv
	return inv, nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if _, ok := s.Invoices[id]; !ok {
		return workflow.ErrNotFound
	}
	delete(s.Invoices, id)
	return nil
}

func (s *Store) MarkInvoicePaid(ctx context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	inv, ok := s.Invoices[invoiceID]
	if !ok {
		return workflow.ErrNotFound
	}
	inv.Status = model.InvoicePaid
	s.Invoices[invoiceID] = inv
	return nil
}

// Payments.

func (s *Store) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Payment{}, err
	}
	p, ok := s.Payments[id]
	if !ok {
		return model.Payment{}, workflow.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetPaymentByInvoice(ctx context.Context, invoiceID string) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Payment{}, err
	}
	for _, p := range s.Payments {
		if p.InvoiceID == invoiceID {
			return p, nil
		}
	}
	return model.Payment{}, workflow.ErrNotFound
}

func (s *Store) GetPaymentByIntentAndInvoice(ctx context.Context, intentID, invoiceID string) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Payment{}, err
	}
	for _, p := range s.Payments {
		if p.IntentID == intentID && p.InvoiceID == invoiceID {
			return p, nil
		}
	}
	return model.Payment{}, workflow.ErrNotFound
}

func (s *Store) CreatePayment(ctx context.Context, p model.Payment) (model.Payment, error) {
	if hook := s.BeforeCreatePayment; hook != nil {
		s.BeforeCreatePayment = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Payment{}, err
	}
	for _, existing := range s.Payments {
		if existing.InvoiceID == p.InvoiceID {
			return model.Payment{}, workflow.ErrDuplicate
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = s.Now()
	s.Payments[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, id string, patch workflow.PaymentPatch) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Payment{}, err
	}
	p, ok := s.Payments[id]
	if !ok {
		return model.Payment{}, workflow.ErrNotFound
	}
	p = applyPaymentPatch(p, patch)
	s.Payments[id] = p
	return p, nil
}

func applyPaymentPatch(p model.Payment, patch workflow.PaymentPatch) model.Payment {
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.IntentID != nil {
		p.IntentID = *patch.IntentID
	}
	if patch.ClientSecret != nil {
		p.ClientSecret = *patch.ClientSecret
	}
	if patch.TransactionRef != nil {
		p.TransactionRef = *patch.TransactionRef
	}
	if patch.PaidAt != nil {
		p.PaidAt = *patch.PaidAt
	}
	return p
}

func (s *Store) CompletePaymentAndMarkInvoicePaid(ctx context.Context, paymentID, invoiceID, transactionRef string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	p, ok := s.Payments[paymentID]
	if !ok {
		return workflow.ErrNotFound
	}
	inv, ok := s.Invoices[invoiceID]
	if !ok {
		return workflow.ErrNotFound
	}
	p.Status = model.PaymentCompleted
	p.TransactionRef = transactionRef
	p.PaidAt = &paidAt
	s.Payments[paymentID] = p
	inv.Status = model.InvoicePaid
	s.Invoices[invoiceID] = inv
	return nil
}

func (s *Store) CompletePaymentsByIntent(ctx context.Context, intentID, invoiceID, transactionRef string, paidAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	n := 0
	invoices := map[string]struct{}{}
	if invoiceID != "" {
		invoices[invoiceID] = struct{}{}
	}
	for id, p := range s.Payments {
		if p.IntentID != intentID {
			continue
		}
		p.Status = model.PaymentCompleted
		p.TransactionRef = transactionRef
		p.PaidAt = &paidAt
		s.Payments[id] = p
		n++
		// Fallback when the event metadata lacks the invoice.
		if invoiceID == "" && p.InvoiceID != "" {
			invoices[p.InvoiceID] = struct{}{}
		}
	}
	for id := range invoices {
		if inv, ok := s.Invoices[id]; ok {
			inv.Status = model.InvoicePaid
			s.Invoices[id] = inv
		}
	}
	return n, nil
}

func (s *Store) SetPaymentStatusByIntent(ctx context.Context, intentID string, status model.PaymentStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	n := 0
	for id, p := range s.Payments {
		if p.IntentID != intentID {
			continue
		}
		p.Status = status
		s.Payments[id] = p
		n++
	}
	return n, nil
}

func (s *Store) DeletePaymentAndRevertInvoice(ctx context.Context, paymentID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if _, ok := s.Payments[paymentID]; !ok {
		return workflow.ErrNotFound
	}
	inv, ok := s.Invoices[invoiceID]
	if !ok {
		return workflow.ErrNotFound
	}
	delete(s.Payments, paymentID)
	inv.Status = model.InvoiceUnpaid
	s.Invoices[invoiceID] = inv
	return nil
}

func (s *Store) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	key := provider + ":" + eventID
	if _, seen := s.providerEvents[key]; seen {
		return workflow.ErrDuplicate
	}
	s.providerEvents[key] = struct{}{}
	return nil
}

// Lookups.

func (s *Store) GetPet(ctx context.Context, id string) (model.Pet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Pet{}, err
	}
	p, ok := s.Pets[id]
	if !ok {
		return model.Pet{}, workflow.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetService(ctx context.Context, id string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.Service{}, err
	}
	svc, ok := s.Services[id]
	if !ok {
		return model.Service{}, workflow.ErrNotFound
	}
	return svc, nil
}

func (s *Store) GetStaff(ctx context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return model.User{}, err
	}
	u, ok := s.Users[id]
	if !ok {
		return model.User{}, workflow.ErrNotFound
	}
	return u, nil
}

func sortAppointments(a []model.Appointment) {
	sort.Slice(a, func(i, j int) bool { return a[i].Date.Before(a[j].Date) })
}

func sortInvoices(a []model.Invoice) {
	sort.Slice(a, func(i, j int) bool { return a[i].CreatedAt.Before(a[j].CreatedAt) })
}

func clip[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
