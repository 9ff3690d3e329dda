package tenant

import (
	"context"
	"sort"
	"sync"
	"time"

	"tenantscope.io/internal/ids"
)

// Store defines persistence for customers and assessments.
type Store interface {
	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context, includeDeleted bool) ([]Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) error
	DeleteCustomer(ctx context.Context, id string) error

	CreateAssessment(ctx context.Context, a Assessment) (Assessment, error)
	GetAssessment(ctx context.Context, id string) (Assessment, error)
	ListAssessments(ctx context.Context, customerID string, limit int) ([]Assessment, error)
}

// InMemory implements Store with in-process concurrency safety. Used for
// tests and for running without TENANTSCOPE_PG_DSN.
type InMemory struct {
	mu          sync.RWMutex
	customers   map[string]*Customer
	assessments map[string]*Assessment
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		customers:   make(map[string]*Customer),
		assessments: make(map[string]*Assessment),
	}
}

func (s *InMemory) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.CreatedDate.IsZero() {
		c.CreatedDate = time.Now().UTC()
	}
	cp := cloneCustomer(c)
	s.customers[c.ID] = &cp
	return cloneCustomer(cp), nil
}

func (s *InMemory) GetCustomer(ctx context.Context, id string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok || c.Status == StatusDeleted {
		return Customer{}, ErrNotFound
	}
	return cloneCustomer(*c), nil
}

func (s *InMemory) ListCustomers(ctx context.Context, includeDeleted bool) ([]Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if !includeDeleted && c.Status == StatusDeleted {
			continue
		}
		out = append(out, cloneCustomer(*c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateCustomer(ctx context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[c.ID]; !ok {
		return ErrNotFound
	}
	cp := cloneCustomer(c)
	s.customers[c.ID] = &cp
	return nil
}

func (s *InMemory) DeleteCustomer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok || c.Status == StatusDeleted {
		return ErrNotFound
	}
	c.Status = StatusDeleted
	return nil
}

func (s *InMemory) CreateAssessment(ctx context.Context, a Assessment) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedDate.IsZero() {
		a.CreatedDate = time.Now().UTC()
	}
	cp := a
	s.assessments[a.ID] = &cp

	if c, ok := s.customers[a.CustomerID]; ok {
		now := a.CreatedDate
		c.LastAssessmentDate = &now
		c.TotalAssessments++
	}
	return a, nil
}

func (s *InMemory) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	return *a, nil
}

func (s *InMemory) ListAssessments(ctx context.Context, customerID string, limit int) ([]Assessment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Assessment, 0)
	for _, a := range s.assessments {
		if customerID != "" && a.CustomerID != customerID {
			continue
		}
		out = append(out, *a)
	}
	// Newest first; ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneCustomer(c Customer) Customer {
	out := c
	if c.AppRegistration != nil {
		reg := *c.AppRegistration
		if c.AppRegistration.Permissions != nil {
			reg.Permissions = append([]string(nil), c.AppRegistration.Permissions...)
		}
		out.AppRegistration = &reg
	}
	if c.LastAssessmentDate != nil {
		ts := *c.LastAssessmentDate
		out.LastAssessmentDate = &ts
	}
	return out
}
