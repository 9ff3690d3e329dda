package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryCustomerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	created, err := s.CreateCustomer(ctx, Customer{TenantName: "Contoso", TenantDomain: "contoso.com"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if created.ID == "" || created.Status != StatusActive || created.CreatedDate.IsZero() {
		t.Fatalf("defaults not applied: %+v", created)
	}

	got, err := s.GetCustomer(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if got.TenantDomain != "contoso.com" {
		t.Fatalf("unexpected customer: %+v", got)
	}

	got.AppRegistration = &AppRegistration{ClientID: validClientID, Permissions: []string{"User.Read.All"}}
	if err := s.UpdateCustomer(ctx, got); err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}

	// Mutating the returned copy must not leak into the store.
	again, _ := s.GetCustomer(ctx, created.ID)
	again.AppRegistration.ClientID = "mutated"
	again.AppRegistration.Permissions[0] = "mutated"
	fresh, _ := s.GetCustomer(ctx, created.ID)
	if fresh.AppRegistration.ClientID != validClientID || fresh.AppRegistration.Permissions[0] != "User.Read.All" {
		t.Fatalf("store leaked internal state: %+v", fresh.AppRegistration)
	}

	if err := s.DeleteCustomer(ctx, created.ID); err != nil {
		t.Fatalf("DeleteCustomer: %v", err)
	}
	if _, err := s.GetCustomer(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted customer still readable: %v", err)
	}
	if err := s.DeleteCustomer(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete should report not found: %v", err)
	}

	all, err := s.ListCustomers(ctx, true)
	if err != nil || len(all) != 1 {
		t.Fatalf("includeDeleted should list soft-deleted rows: %v %d", err, len(all))
	}
	visible, _ := s.ListCustomers(ctx, false)
	if len(visible) != 0 {
		t.Fatalf("deleted customer visible in default listing")
	}
}

func TestInMemoryAssessments(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	customer, _ := s.CreateCustomer(ctx, Customer{TenantName: "Contoso", TenantDomain: "contoso.com"})

	first, err := s.CreateAssessment(ctx, Assessment{CustomerID: customer.ID, Status: AssessmentCompleted, Score: 80})
	if err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	second, err := s.CreateAssessment(ctx, Assessment{CustomerID: customer.ID, Status: AssessmentPartial, Score: 55})
	if err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}

	updated, _ := s.GetCustomer(ctx, customer.ID)
	if updated.TotalAssessments != 2 || updated.LastAssessmentDate == nil {
		t.Fatalf("assessment counters not bumped: %+v", updated)
	}

	list, err := s.ListAssessments(ctx, customer.ID, 10)
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(list))
	}
	// Newest first.
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("assessments not ordered newest first: %v %v", list[0].ID, list[1].ID)
	}

	limited, _ := s.ListAssessments(ctx, customer.ID, 1)
	if len(limited) != 1 || limited[0].ID != second.ID {
		t.Fatalf("limit not applied: %v", limited)
	}

	other, _ := s.ListAssessments(ctx, "other-customer", 10)
	if len(other) != 0 {
		t.Fatalf("filter by customer failed: %v", other)
	}

	if _, err := s.GetAssessment(ctx, first.ID); err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if _, err := s.GetAssessment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing assessment should be ErrNotFound: %v", err)
	}
}
