// Package testutil holds in-memory stand-ins for storage and gateways used by
// package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clubpay/internal/models/db_models"
	"clubpay/internal/repositories"
	"clubpay/pkg/utils"
	"github.com/google/uuid"
)

// TenantData is one tenant's schema.
type TenantData struct {
	Plans    []db_models.Plan
	Members  []db_models.Member
	Links    []db_models.MemberPlan
	Charges  []db_models.Charge
	Payments []db_models.Payment
	Audits   []db_models.AuditLog
}

func (d *TenantData) clone() *TenantData {
	return &TenantData{
		Plans:    append([]db_models.Plan(nil), d.Plans...),
		Members:  append([]db_models.Member(nil), d.Members...),
		Links:    append([]db_models.MemberPlan(nil), d.Links...),
		Charges:  append([]db_models.Charge(nil), d.Charges...),
		Payments: append([]db_models.Payment(nil), d.Payments...),
		Audits:   append([]db_models.AuditLog(nil), d.Audits...),
	}
}

// Hooks inject failures into the store. A non-nil return aborts the
// operation with that error.
type Hooks struct {
	BeginUnit        func(tenantID string) error
	CreateCharge     func(c *db_models.Charge) error
	SetChargeGateway func(id uuid.UUID) error
	MarkPendingRetry func() error
	CreatePayment    func(p *db_models.Payment) error
}

// MemoryTenantDB implements repositories.TenantDB. Each unit of work runs on
// a copy of the tenant's data which replaces the original only when the unit
// returns nil.
type MemoryTenantDB struct {
	mu      sync.Mutex
	tenants map[string]*TenantData
	Hooks   Hooks
	Now     func() time.Time

	Units  int // units of work started
	Writes int // committed write operations
}

func NewMemoryTenantDB() *MemoryTenantDB {
	return &MemoryTenantDB{tenants: map[string]*TenantData{}, Now: time.Now}
}

// AddTenant provisions an empty schema.
func (m *MemoryTenantDB) AddTenant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[id] = &TenantData{}
}

// Seed mutates a tenant's data directly, outside any unit of work.
func (m *MemoryTenantDB) Seed(id string, fn func(d *TenantData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.tenants[id]
	if !ok {
		d = &TenantData{}
		m.tenants[id] = d
	}
	fn(d)
}

// Snapshot returns a copy of the tenant's committed data.
func (m *MemoryTenantDB) Snapshot(id string) *TenantData {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.tenants[id]; ok {
		return d.clone()
	}
	return nil
}

func (m *MemoryTenantDB) WithTenant(_ context.Context, tenantID string, fn func(store repositories.BillingStore) error) error {
	schema, err := repositories.SchemaName(tenantID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Units++

	if m.Hooks.BeginUnit != nil {
		if err := m.Hooks.BeginUnit(tenantID); err != nil {
			return err
		}
	}
	data, ok := m.tenants[tenantID]
	if !ok {
		return fmt.Errorf("schema %q does not exist", schema)
	}

	store := &memoryStore{data: data.clone(), hooks: &m.Hooks, now: m.Now}
	if err := fn(store); err != nil {
		return err
	}
	m.tenants[tenantID] = store.data
	m.Writes += store.writes
	return nil
}

type memoryStore struct {
	data   *TenantData
	hooks  *Hooks
	now    func() time.Time
	writes int
}

func (s *memoryStore) CountActivePlans() (int64, error) {
	var n int64
	for _, p := range s.data.Plans {
		if p.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) plan(id uuid.UUID) (db_models.Plan, bool) {
	for _, p := range s.data.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return db_models.Plan{}, false
}

func (s *memoryStore) ListEligibleMembers() ([]repositories.EligibleMember, error) {
	var out []repositories.EligibleMember
	for _, m := range s.data.Members {
		if m.Status != db_models.MemberStatusActive {
			continue
		}
		var amount int64
		eligible := false
		for _, l := range s.data.Links {
			if l.MemberID != m.ID || !l.Open() {
				continue
			}
			if p, ok := s.plan(l.PlanID); ok && p.IsActive {
				eligible = true
				amount += p.PriceMinor
			}
		}
		if eligible {
			out = append(out, repositories.EligibleMember{MemberID: m.ID, Name: m.Name, AmountMinor: amount})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) FindMember(id uuid.UUID) (*db_models.Member, error) {
	for _, m := range s.data.Members {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) UpdateMemberStatus(id uuid.UUID, status db_models.MemberStatus) error {
	for i := range s.data.Members {
		if s.data.Members[i].ID == id {
			s.data.Members[i].Status = status
			s.writes++
			return nil
		}
	}
	return fmt.Errorf("member %s not found", id)
}

func (s *memoryStore) HasOpenCharge(memberID uuid.UUID, period utils.BillingPeriod) (bool, error) {
	for _, c := range s.data.Charges {
		if c.MemberID != memberID || c.Status == db_models.ChargeStatusCancelled {
			continue
		}
		if c.BillingPeriod == period.String() || period.Contains(c.DueDate) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) CreateCharge(c *db_models.Charge) error {
	if s.hooks.CreateCharge != nil {
		if err := s.hooks.CreateCharge(c); err != nil {
			return err
		}
	}
	c.EnsureID()
	now := s.now().Unix()
	c.CreatedAt, c.UpdatedAt = now, now
	s.data.Charges = append(s.data.Charges, *c)
	s.writes++
	return nil
}

func (s *memoryStore) FindCharge(id uuid.UUID) (*db_models.Charge, error) {
	for _, c := range s.data.Charges {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) ListUndispatchedCharges() ([]db_models.Charge, error) {
	var out []db_models.Charge
	for _, c := range s.data.Charges {
		if c.GatewayID != nil {
			continue
		}
		if c.Status == db_models.ChargeStatusPending || c.Status == db_models.ChargeStatusPendingRetry {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memoryStore) SetChargeGateway(id uuid.UUID, externalID, gatewayName string, meta []byte) error {
	if s.hooks.SetChargeGateway != nil {
		if err := s.hooks.SetChargeGateway(id); err != nil {
			return err
		}
	}
	for i := range s.data.Charges {
		if s.data.Charges[i].ID == id {
			ext, name := externalID, gatewayName
			s.data.Charges[i].GatewayID = &ext
			s.data.Charges[i].GatewayName = &name
			s.data.Charges[i].GatewayMeta = meta
			s.writes++
			return nil
		}
	}
	return utils.ErrChargeNotFound
}

func (s *memoryStore) UpdateChargeStatus(id uuid.UUID, from []db_models.ChargeStatus, to db_models.ChargeStatus) (bool, error) {
	for i := range s.data.Charges {
		c := &s.data.Charges[i]
		if c.ID != id {
			continue
		}
		for _, f := range from {
			if c.Status == f {
				c.Status = to
				s.writes++
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func (s *memoryStore) MarkPendingRetry(period utils.BillingPeriod, at time.Time) (int64, error) {
	if s.hooks.MarkPendingRetry != nil {
		if err := s.hooks.MarkPendingRetry(); err != nil {
			return 0, err
		}
	}
	var n int64
	for i := range s.data.Charges {
		c := &s.data.Charges[i]
		if c.Status != db_models.ChargeStatusPending {
			continue
		}
		if c.BillingPeriod != period.String() && !period.Contains(c.DueDate) {
			continue
		}
		c.Status = db_models.ChargeStatusPendingRetry
		c.RetryCount++
		t := at
		c.LastRetryAt = &t
		n++
	}
	if n > 0 {
		s.writes++
	}
	return n, nil
}

func (s *memoryStore) PaymentExists(gatewayTxID string) (bool, error) {
	for _, p := range s.data.Payments {
		if p.GatewayTxID == gatewayTxID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) CreatePayment(p *db_models.Payment) error {
	if s.hooks.CreatePayment != nil {
		if err := s.hooks.CreatePayment(p); err != nil {
			return err
		}
	}
	for _, existing := range s.data.Payments {
		if existing.GatewayTxID == p.GatewayTxID {
			return fmt.Errorf("duplicate key value violates unique constraint \"idx_payments_gateway_tx_id\"")
		}
	}
	p.EnsureID()
	s.data.Payments = append(s.data.Payments, *p)
	s.writes++
	return nil
}

func (s *memoryStore) AppendAudit(entry *db_models.AuditLog) error {
	entry.EnsureID()
	s.data.Audits = append(s.data.Audits, *entry)
	s.writes++
	return nil
}

// TenantList implements repositories.ITenantRepository over a fixed slice.
type TenantList struct {
	Tenants []db_models.Tenant
	Err     error
}

func (l TenantList) ListActiveTenants(context.Context) ([]db_models.Tenant, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	var out []db_models.Tenant
	for _, t := range l.Tenants {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l TenantList) ListTenants(context.Context) ([]db_models.Tenant, error) {
	return l.Tenants, l.Err
}
