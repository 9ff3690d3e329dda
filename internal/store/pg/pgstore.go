package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tenantscope.io/internal/ids"
	"tenantscope.io/internal/tenant"
)

type Store struct {
	db *sql.DB
}

var _ tenant.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateCustomer(ctx context.Context, c tenant.Customer) (tenant.Customer, error) {
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.Status == "" {
		c.Status = tenant.StatusActive
	}
	if c.CreatedDate.IsZero() {
		c.CreatedDate = time.Now().UTC()
	}
	reg, err := marshalRegistration(c.AppRegistration)
	if err != nil {
		return tenant.Customer{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into customers(id, tenant_name, tenant_domain, tenant_id, contact_email, notes, status, created_at, total_assessments, app_registration)
		values ($1,$2,$3,$4,$5,$6,$7,$8,0,$9)
	`, c.ID, c.TenantName, c.TenantDomain, c.TenantID, c.ContactEmail, c.Notes, c.Status, c.CreatedDate, reg)
	if err != nil {
		return tenant.Customer{}, err
	}
	return c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (tenant.Customer, error) {
	c, err := s.scanCustomer(s.db.QueryRowContext(ctx, `
		select id, tenant_name, tenant_domain, tenant_id, contact_email, notes, status, created_at, last_assessment_at, total_assessments, app_registration
		from customers where id=$1
	`, id))
	if err != nil {
		return tenant.Customer{}, err
	}
	if c.Status == tenant.StatusDeleted {
		return tenant.Customer{}, tenant.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context, includeDeleted bool) ([]tenant.Customer, error) {
	q := `
		select id, tenant_name, tenant_domain, tenant_id, contact_email, notes, status, created_at, last_assessment_at, total_assessments, app_registration
		from customers
	`
	if !includeDeleted {
		q += ` where status <> 'deleted'`
	}
	q += ` order by id asc`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenant.Customer
	for rows.Next() {
		c, err := s.scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCustomer(ctx context.Context, c tenant.Customer) error {
	reg, err := marshalRegistration(c.AppRegistration)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update customers
		set tenant_name=$2, tenant_domain=$3, tenant_id=$4, contact_email=$5, notes=$6, status=$7,
		    last_assessment_at=$8, total_assessments=$9, app_registration=$10
		where id=$1
	`, c.ID, c.TenantName, c.TenantDomain, c.TenantID, c.ContactEmail, c.Notes, c.Status,
		c.LastAssessmentDate, c.TotalAssessments, reg)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update customers set status='deleted' where id=$1 and status <> 'deleted'
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAssessment(ctx context.Context, a tenant.Assessment) (tenant.Assessment, error) {
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedDate.IsZero() {
		a.CreatedDate = time.Now().UTC()
	}
	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return tenant.Assessment{}, err
	}
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return tenant.Assessment{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tenant.Assessment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into assessments(id, customer_id, tenant_id, status, score, metrics, recommendations, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.CustomerID, a.TenantID, a.Status, a.Score, metrics, recs, a.CreatedDate); err != nil {
		return tenant.Assessment{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update customers
		set last_assessment_at=$2, total_assessments=total_assessments+1
		where id=$1
	`, a.CustomerID, a.CreatedDate); err != nil {
		return tenant.Assessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return tenant.Assessment{}, err
	}
	return a, nil
}

func (s *Store) GetAssessment(ctx context.Context, id string) (tenant.Assessment, error) {
	var a tenant.Assessment
	var metrics, recs []byte
	err := s.db.QueryRowContext(ctx, `
		select id, customer_id, tenant_id, status, score, metrics, recommendations, created_at
		from assessments where id=$1
	`, id).Scan(&a.ID, &a.CustomerID, &a.TenantID, &a.Status, &a.Score, &metrics, &recs, &a.CreatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Assessment{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Assessment{}, err
	}
	if err := unmarshalAssessment(&a, metrics, recs); err != nil {
		return tenant.Assessment{}, err
	}
	return a, nil
}

func (s *Store) ListAssessments(ctx context.Context, customerID string, limit int) ([]tenant.Assessment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, customer_id, tenant_id, status, score, metrics, recommendations, created_at
		from assessments
		where ($1 = '' or customer_id = $1)
		order by id desc
		limit $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenant.Assessment
	for rows.Next() {
		var a tenant.Assessment
		var metrics, recs []byte
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.TenantID, &a.Status, &a.Score, &metrics, &recs, &a.CreatedDate); err != nil {
			return nil, err
		}
		if err := unmarshalAssessment(&a, metrics, recs); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanCustomer(row rowScanner) (tenant.Customer, error) {
	var c tenant.Customer
	var tenantID, contactEmail, notes sql.NullString
	var lastAssessment sql.NullTime
	var reg []byte
	err := row.Scan(&c.ID, &c.TenantName, &c.TenantDomain, &tenantID, &contactEmail, &notes,
		&c.Status, &c.CreatedDate, &lastAssessment, &c.TotalAssessments, &reg)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Customer{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Customer{}, err
	}
	c.TenantID = tenantID.String
	c.ContactEmail = contactEmail.String
	c.Notes = notes.String
	if lastAssessment.Valid {
		ts := lastAssessment.Time
		c.LastAssessmentDate = &ts
	}
	// Stored registrations may predate validation; treat garbage as absent.
	if len(reg) > 0 {
		if parsed, ok := tenant.ValidateAppRegistration(reg); ok {
			c.AppRegistration = parsed
		}
	}
	return c, nil
}

func marshalRegistration(reg *tenant.AppRegistration) ([]byte, error) {
	if reg == nil {
		return nil, nil
	}
	return json.Marshal(reg)
}

func unmarshalAssessment(a *tenant.Assessment, metrics, recs []byte) error {
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &a.Metrics); err != nil {
			return err
		}
	}
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &a.Recommendations); err != nil {
			return err
		}
	}
	return nil
}
