package services

import (
	"testing"
	"time"

	"clubpay/internal/gateway"
	"clubpay/internal/infra"
	"clubpay/internal/models/db_models"
	"clubpay/internal/testutil"
	"clubpay/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const tenantA = "alpha"

type fixture struct {
	db       *testutil.MemoryTenantDB
	crypto   *infra.CryptoManager
	pix      *testutil.FakeAdapter
	registry *gateway.Registry
	members  []db_models.Member
	plan     db_models.Plan

	dispatcher DispatchService
	charges    ChargeService
}

func newFixture(t *testing.T, memberNames ...string) *fixture {
	t.Helper()
	crypto, err := infra.NewCryptoManager("test-secret")
	require.NoError(t, err)

	f := &fixture{
		db:     testutil.NewMemoryTenantDB(),
		crypto: crypto,
		pix:    testutil.NewFakeAdapter("fakepix", db_models.MethodPix, db_models.MethodBoleto),
	}
	f.registry, err = gateway.NewRegistry(f.pix)
	require.NoError(t, err)

	f.plan = db_models.Plan{Code: "GOLD", Name: "Gold", PriceMinor: 9990, Currency: "BRL", IsActive: true}
	f.plan.EnsureID()

	f.db.AddTenant(tenantA)
	f.db.Seed(tenantA, func(d *testutil.TenantData) {
		d.Plans = append(d.Plans, f.plan)
		for _, name := range memberNames {
			m := f.newMember(t, name, db_models.MemberStatusActive)
			d.Members = append(d.Members, m)
			d.Links = append(d.Links, db_models.MemberPlan{MemberID: m.ID, PlanID: f.plan.ID, StartedAt: time.Now()})
			f.members = append(f.members, m)
		}
	})

	f.dispatcher = NewDispatchService(f.db, f.registry, f.crypto, zerolog.Nop())
	f.charges = NewChargeService(f.db, f.dispatcher, f.registry, zerolog.Nop())
	return f
}

func (f *fixture) newMember(t *testing.T, name string, status db_models.MemberStatus) db_models.Member {
	t.Helper()
	doc, err := f.crypto.EncryptField(db_models.PIIFieldDocument, "12345678909")
	require.NoError(t, err)
	phone, err := f.crypto.EncryptField(db_models.PIIFieldPhone, "+5511999990000")
	require.NoError(t, err)
	m := db_models.Member{Name: name, Email: name + "@club.test", DocumentEnc: doc, PhoneEnc: phone, Status: status}
	m.EnsureID()
	return m
}

// seedCharge stores a charge directly and returns it.
func (f *fixture) seedCharge(memberID uuid.UUID, period string, status db_models.ChargeStatus) db_models.Charge {
	due := time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC)
	if p, err := utils.ParseBillingPeriod(period); err == nil {
		due = p.DefaultDueDate()
	}
	c := db_models.Charge{
		MemberID:      memberID,
		BillingPeriod: period,
		AmountMinor:   9990,
		DueDate:       due,
		Status:        status,
		Method:        db_models.MethodPix,
	}
	c.EnsureID()
	f.db.Seed(tenantA, func(d *testutil.TenantData) {
		d.Charges = append(d.Charges, c)
	})
	return c
}
