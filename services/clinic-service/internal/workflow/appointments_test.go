package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/memstore"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

type fixture struct {
	eng   *workflow.Engine
	st    *memstore.Store
	gw    *memstore.Gateway
	owner workflow.Caller
	staff workflow.Caller
	pet   model.Pet
	svc   model.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	gw := memstore.NewGateway()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := workflow.NewEngine(st, gw, logger, workflow.Config{Currency: "usd"})

	owner := st.AddUser(model.User{Name: "Dana", Role: model.RoleCustomer})
	vet := st.AddUser(model.User{Name: "Priya", Role: model.RoleStaff})
	pet := st.AddPet(model.Pet{OwnerID: owner.ID, Name: "Biscuit", Active: true})
	svc := st.AddService(model.Service{Name: "Checkup", PriceCents: 5000, DurationMinutes: 30, Active: true})

	return &fixture{
		eng:   eng,
		st:    st,
		gw:    gw,
		owner: workflow.Caller{UserID: owner.ID, Role: model.RoleCustomer},
		staff: workflow.Caller{UserID: vet.ID, Role: model.RoleStaff},
		pet:   pet,
		svc:   svc,
	}
}

func (f *fixture) book(t *testing.T) model.Appointment {
	t.Helper()
	appt, err := f.eng.CreateAppointment(context.Background(), f.owner, workflow.CreateAppointmentInput{
		PetID:     f.pet.ID,
		ServiceID: f.svc.ID,
		Date:      time.Now().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	return appt
}

func (f *fixture) confirm(t *testing.T, apptID string) model.Invoice {
	t.Helper()
	status := string(model.AppointmentConfirmed)
	if _, err := f.eng.UpdateAppointment(context.Background(), f.staff, apptID, workflow.UpdateAppointmentInput{Status: &status}); err != nil {
		t.Fatalf("confirm appointment: %v", err)
	}
	inv, err := f.st.GetInvoiceByAppointment(context.Background(), apptID)
	if err != nil {
		t.Fatalf("invoice after confirm: %v", err)
	}
	return inv
}

func wantKind(t *testing.T, err error, kind workflow.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := workflow.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", got, kind, err)
	}
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	if appt.Status != model.AppointmentPending {
		t.Fatalf("status = %s, want PENDING", appt.Status)
	}
	if appt.ID == "" {
		t.Fatal("appointment has no id")
	}
}

func TestCreateAppointmentForeignPet(t *testing.T) {
	f := newFixture(t)
	other := f.st.AddUser(model.User{Name: "Sam", Role: model.RoleCustomer})
	_, err := f.eng.CreateAppointment(context.Background(), workflow.Caller{UserID: other.ID, Role: model.RoleCustomer}, workflow.CreateAppointmentInput{
		PetID:     f.pet.ID,
		ServiceID: f.svc.ID,
		Date:      time.Now().Add(24 * time.Hour),
	})
	wantKind(t, err, workflow.KindForbidden)
}

func TestCreateAppointmentPastDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.CreateAppointment(context.Background(), f.owner, workflow.CreateAppointmentInput{
		PetID:     f.pet.ID,
		ServiceID: f.svc.ID,
		Date:      time.Now().Add(-time.Hour),
	})
	wantKind(t, err, workflow.KindValidation)
}

func TestCreateAppointmentSchedulingConflict(t *testing.T) {
	f := newFixture(t)
	when := time.Now().Add(48 * time.Hour)
	if _, err := f.eng.CreateAppointment(context.Background(), f.owner, workflow.CreateAppointmentInput{
		PetID: f.pet.ID, ServiceID: f.svc.ID, Date: when,
	}); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	// Ten minutes into a thirty-minute slot.
	_, err := f.eng.CreateAppointment(context.Background(), f.owner, workflow.CreateAppointmentInput{
		PetID: f.pet.ID, ServiceID: f.svc.ID, Date: when.Add(10 * time.Minute),
	})
	wantKind(t, err, workflow.KindSchedulingConflict)

	// Right after the slot ends is fine.
	if _, err := f.eng.CreateAppointment(context.Background(), f.owner, workflow.CreateAppointmentInput{
		PetID: f.pet.ID, ServiceID: f.svc.ID, Date: when.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("adjacent booking: %v", err)
	}
}

func TestCustomerStatusGuard(t *testing.T) {
	f := newFixture(t)
	// Rejected updates leave the appointment untouched, so one booking
	// serves every case.
	appt := f.book(t)

	cases := []struct {
		name   string
		status string
		want   workflow.Kind
	}{
		{"to confirmed", "CONFIRMED", workflow.KindForbidden},
		{"to completed", "COMPLETED", workflow.KindForbidden},
		{"unknown status", "DONE", workflow.KindInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eng.UpdateAppointment(context.Background(), f.owner, appt.ID, workflow.UpdateAppointmentInput{Status: &tc.status})
			wantKind(t, err, tc.want)
		})
	}

	cancelled := string(model.AppointmentCancelled)
	updated, err := f.eng.UpdateAppointment(context.Background(), f.owner, appt.ID, workflow.UpdateAppointmentInput{Status: &cancelled})
	if err != nil {
		t.Fatalf("customer cancel: %v", err)
	}
	if updated.Status != model.AppointmentCancelled {
		t.Fatalf("status = %s, want CANCELLED", updated.Status)
	}
}

func TestCustomerCannotReschedule(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	later := time.Now().Add(72 * time.Hour)
	_, err := f.eng.UpdateAppointment(context.Background(), f.owner, appt.ID, workflow.UpdateAppointmentInput{Date: &later})
	wantKind(t, err, workflow.KindForbidden)
}

func TestCustomerCannotTouchForeignAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	other := f.st.AddUser(model.User{Name: "Sam", Role: model.RoleCustomer})
	cancelled := string(model.AppointmentCancelled)
	_, err := f.eng.UpdateAppointment(context.Background(), workflow.Caller{UserID: other.ID, Role: model.RoleCustomer}, appt.ID, workflow.UpdateAppointmentInput{Status: &cancelled})
	wantKind(t, err, workflow.KindForbidden)
}

func TestConfirmCreatesInvoiceOnce(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	inv := f.confirm(t, appt.ID)
	if inv.AmountCents != f.svc.PriceCents {
		t.Fatalf("invoice amount = %d, want %d", inv.AmountCents, f.svc.PriceCents)
	}
	if inv.Status != model.InvoiceUnpaid {
		t.Fatalf("invoice status = %s, want UNPAID", inv.Status)
	}

	// Confirming an already-confirmed appointment must not mint another.
	second := f.confirm(t, appt.ID)
	if second.ID != inv.ID {
		t.Fatalf("second confirm created invoice %s, already had %s", second.ID, inv.ID)
	}
	if n := len(f.st.Invoices); n != 1 {
		t.Fatalf("invoice count = %d, want 1", n)
	}
}

func TestStaffCanBackdateCompleted(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	past := time.Now().Add(-24 * time.Hour)
	completed := string(model.AppointmentCompleted)
	updated, err := f.eng.UpdateAppointment(context.Background(), f.staff, appt.ID, workflow.UpdateAppointmentInput{
		Status: &completed,
		Date:   &past,
	})
	if err != nil {
		t.Fatalf("backdate completed: %v", err)
	}
	if updated.Status != model.AppointmentCompleted {
		t.Fatalf("status = %s, want COMPLETED", updated.Status)
	}

	// The same backdate without COMPLETED is rejected.
	appt2 := f.book(t)
	_, err = f.eng.UpdateAppointment(context.Background(), f.staff, appt2.ID, workflow.UpdateAppointmentInput{Date: &past})
	wantKind(t, err, workflow.KindValidation)
}

func TestDeleteAppointmentRemovesUnpaidInvoice(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	f.confirm(t, appt.ID)

	if err := f.eng.DeleteAppointment(context.Background(), f.staff, appt.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(f.st.Appointments) != 0 || len(f.st.Invoices) != 0 {
		t.Fatalf("appointments=%d invoices=%d after delete, want 0/0", len(f.st.Appointments), len(f.st.Invoices))
	}
}

func TestDeleteAppointmentBlockedByPaidInvoice(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	inv := f.confirm(t, appt.ID)
	payInvoice(t, f, inv)

	err := f.eng.DeleteAppointment(context.Background(), f.staff, appt.ID)
	wantKind(t, err, workflow.KindInvalidTransition)
}

func TestCustomerCannotDeleteCompleted(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	completed := string(model.AppointmentCompleted)
	if _, err := f.eng.UpdateAppointment(context.Background(), f.staff, appt.ID, workflow.UpdateAppointmentInput{Status: &completed}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := f.eng.DeleteAppointment(context.Background(), f.owner, appt.ID)
	wantKind(t, err, workflow.KindForbidden)
}

func TestListAppointmentsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.book(t)

	other := f.st.AddUser(model.User{Name: "Sam", Role: model.RoleCustomer})
	otherPet := f.st.AddPet(model.Pet{OwnerID: other.ID, Name: "Mochi", Active: true})
	if _, err := f.eng.CreateAppointment(context.Background(), workflow.Caller{UserID: other.ID, Role: model.RoleCustomer}, workflow.CreateAppointmentInput{
		PetID: otherPet.ID, ServiceID: f.svc.ID, Date: time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("other booking: %v", err)
	}

	mine, err := f.eng.ListAppointments(context.Background(), f.owner, workflow.AppointmentFilter{})
	if err != nil {
		t.Fatalf("list as customer: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("customer sees %d appointments, want 1", len(mine))
	}

	all, err := f.eng.ListAppointments(context.Background(), f.staff, workflow.AppointmentFilter{})
	if err != nil {
		t.Fatalf("list as staff: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("staff sees %d appointments, want 2", len(all))
	}
}

func TestAnonymousCallerRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.ListAppointments(context.Background(), workflow.Caller{}, workflow.AppointmentFilter{})
	wantKind(t, err, workflow.KindUnauthorized)
}

func TestListAppointmentsFilters(t *testing.T) {
	f := newFixture(t)
	near := f.book(t)
	farDate := time.Now().Add(30 * 24 * time.Hour)
	if _, err := f.eng.CreateAppointment(context.Background(), f.owner, workflow.CreateAppointmentInput{
		PetID: f.pet.ID, ServiceID: f.svc.ID, Date: farDate,
	}); err != nil {
		t.Fatalf("far booking: %v", err)
	}

	window, err := f.eng.ListAppointments(context.Background(), f.staff, workflow.AppointmentFilter{
		From: time.Now(),
		To:   time.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(window) != 1 || window[0].ID != near.ID {
		t.Fatalf("window = %d appointments, want just the near one", len(window))
	}

	byPet, err := f.eng.ListAppointments(context.Background(), f.staff, workflow.AppointmentFilter{PetID: f.pet.ID})
	if err != nil {
		t.Fatalf("list by pet: %v", err)
	}
	if len(byPet) != 2 {
		t.Fatalf("by pet = %d appointments, want 2", len(byPet))
	}

	_, err = f.eng.ListAppointments(context.Background(), f.staff, workflow.AppointmentFilter{
		From: time.Now().Add(time.Hour),
		To:   time.Now(),
	})
	wantKind(t, err, workflow.KindValidation)
}

func TestCancelSurvivesDeactivatedService(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	svc := f.st.Services[f.svc.ID]
	svc.Active = false
	f.st.Services[f.svc.ID] = svc

	cancelled := "CANCELLED"
	got, err := f.eng.UpdateAppointment(context.Background(), f.owner, appt.ID, workflow.UpdateAppointmentInput{Status: &cancelled})
	if err != nil {
		t.Fatalf("cancel with inactive service: %v", err)
	}
	if got.Status != model.AppointmentCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
}

func TestCompleteSurvivesDeletedService(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	f.confirm(t, appt.ID)

	delete(f.st.Services, f.svc.ID)

	completed := "COMPLETED"
	got, err := f.eng.UpdateAppointment(context.Background(), f.staff, appt.ID, workflow.UpdateAppointmentInput{Status: &completed})
	if err != nil {
		t.Fatalf("complete with deleted service: %v", err)
	}
	if got.Status != model.AppointmentCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
}

func TestStoreFailureSurfacesAsInternal(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	f.st.FailNext = errors.New("connection reset")
	_, err := f.eng.GetAppointment(context.Background(), f.staff, appt.ID)
	wantKind(t, err, workflow.KindInternal)

	// The failure is one-shot; the next read succeeds.
	if _, err := f.eng.GetAppointment(context.Background(), f.staff, appt.ID); err != nil {
		t.Fatalf("read after recovery: %v", err)
	}
}
