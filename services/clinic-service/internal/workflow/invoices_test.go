package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/model"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

func TestCreateInvoiceManual(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	inv, err := f.eng.CreateInvoice(context.Background(), f.staff, appt.ID, 7500)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if inv.AmountCents != 7500 || inv.Status != model.InvoiceUnpaid {
		t.Fatalf("invoice = %+v", inv)
	}

	_, err = f.eng.CreateInvoice(context.Background(), f.staff, appt.ID, 7500)
	wantKind(t, err, workflow.KindDuplicateInvoice)
}

func TestCreateInvoiceRejectsNegativeAmount(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	_, err := f.eng.CreateInvoice(context.Background(), f.staff, appt.ID, -1)
	wantKind(t, err, workflow.KindValidation)
}

func TestCreateInvoiceStaffOnly(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)
	_, err := f.eng.CreateInvoice(context.Background(), f.owner, appt.ID, 5000)
	wantKind(t, err, workflow.KindForbidden)
}

func TestUpdateInvoiceStatus(t *testing.T) {
	f := newFixture(t)
	inv := f.confirm(t, f.book(t).ID)

	updated, err := f.eng.UpdateInvoiceStatus(context.Background(), f.staff, inv.ID, "CANCELLED")
	if err != nil {
		t.Fatalf("UpdateInvoiceStatus: %v", err)
	}
	if updated.Status != model.InvoiceCancelled {
		t.Fatalf("status = %s, want CANCELLED", updated.Status)
	}

	_, err = f.eng.UpdateInvoiceStatus(context.Background(), f.staff, inv.ID, "VOID")
	wantKind(t, err, workflow.KindInvalidStatus)

	_, err = f.eng.UpdateInvoiceStatus(context.Background(), f.owner, inv.ID, "PAID")
	wantKind(t, err, workflow.KindForbidden)
}

func TestUpdateInvoiceStatusBlockedAwayFromPaid(t *testing.T) {
	f := newFixture(t)
	inv := f.confirm(t, f.book(t).ID)
	payInvoice(t, f, inv)

	_, err := f.eng.UpdateInvoiceStatus(context.Background(), f.staff, inv.ID, "UNPAID")
	wantKind(t, err, workflow.KindInvalidTransition)
}

func TestGetInvoiceHealsStaleStatus(t *testing.T) {
	f := newFixture(t)
	inv := f.confirm(t, f.book(t).ID)
	payInvoice(t, f, inv)

	// Simulate a missed write from the confirmation path: the payment is
	// COMPLETED but the invoice row was left UNPAID.
	unpaid := model.InvoiceUnpaid
	if _, err := f.st.UpdateInvoice(context.Background(), inv.ID, workflow.InvoicePatch{Status: &unpaid}); err != nil {
		t.Fatalf("force stale status: %v", err)
	}

	got, err := f.eng.GetInvoice(context.Background(), f.owner, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Status != model.InvoicePaid {
		t.Fatalf("read returned %s, want PAID", got.Status)
	}
	stored, _ := f.st.GetInvoice(context.Background(), inv.ID)
	if stored.Status != model.InvoicePaid {
		t.Fatalf("stored status = %s, want PAID (read must persist the fix)", stored.Status)
	}
}

func TestListInvoicesHealsPerRow(t *testing.T) {
	f := newFixture(t)
	inv := f.confirm(t, f.book(t).ID)
	payInvoice(t, f, inv)

	unpaid := model.InvoiceUnpaid
	if _, err := f.st.UpdateInvoice(context.Background(), inv.ID, workflow.InvoicePatch{Status: &unpaid}); err != nil {
		t.Fatalf("force stale status: %v", err)
	}

	invs, err := f.eng.ListInvoices(context.Background(), f.staff, 0)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(invs) != 1 || invs[0].Status != model.InvoicePaid {
		t.Fatalf("list = %+v, want one PAID invoice", invs)
	}
}

func TestGetInvoiceOwnership(t *testing.T) {
	f := newFixture(t)
	inv := f.confirm(t, f.book(t).ID)
	other := f.st.AddUser(model.User{Name: "Sam", Role: model.RoleCustomer})
	_, err := f.eng.GetInvoice(context.Background(), workflow.Caller{UserID: other.ID, Role: model.RoleCustomer}, inv.ID)
	wantKind(t, err, workflow.KindForbidden)
}

func TestListInvoicesScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.confirm(t, f.book(t).ID)

	other := f.st.AddUser(model.User{Name: "Sam", Role: model.RoleCustomer})
	otherPet := f.st.AddPet(model.Pet{OwnerID: other.ID, Name: "Mochi", Active: true})
	otherCaller := workflow.Caller{UserID: other.ID, Role: model.RoleCustomer}
	appt, err := f.eng.CreateAppointment(context.Background(), otherCaller, workflow.CreateAppointmentInput{
		PetID: otherPet.ID, ServiceID: f.svc.ID, Date: time.Now().Add(96 * time.Hour),
	})
	if err != nil {
		t.Fatalf("other booking: %v", err)
	}
	f.confirm(t, appt.ID)

	mine, err := f.eng.ListInvoices(context.Background(), f.owner, 0)
	if err != nil {
		t.Fatalf("list as customer: %v", err)
	}
	for _, inv := range mine {
		if a, _ := f.st.GetAppointment(context.Background(), inv.AppointmentID); a.PetID != f.pet.ID {
			t.Fatalf("customer list leaked invoice for pet %s", a.PetID)
		}
	}
}

func TestDeleteInvoiceBlockedByPayment(t *testing.T) {
	f := newFixture(t)
	inv := f.confirm(t, f.book(t).ID)
	if _, err := f.eng.InitiatePayment(context.Background(), f.owner, inv.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	err := f.eng.DeleteInvoice(context.Background(), f.staff, inv.ID)
	wantKind(t, err, workflow.KindHasPayment)
}

func TestDeleteInvoice(t *testing.T) {
	f := newFixture(t)
	inv := f.confirm(t, f.book(t).ID)
	if err := f.eng.DeleteInvoice(context.Background(), f.staff, inv.ID); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	if len(f.st.Invoices) != 0 {
		t.Fatalf("invoices = %d after delete, want 0", len(f.st.Invoices))
	}
}
