package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"clubpay/internal/models/db_models"
	"clubpay/pkg/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlRecorder keeps every statement gorm builds, with its arguments inlined.
type sqlRecorder struct {
	statements []string
}

func (r *sqlRecorder) LogMode(logger.LogLevel) logger.Interface      { return r }
func (r *sqlRecorder) Info(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{}) {}

func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.statements = append(r.statements, sql)
}

func (r *sqlRecorder) last(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, r.statements)
	return r.statements[len(r.statements)-1]
}

// newDryRunRepository builds statements for the postgres dialect without a
// server: nothing is sent, the recorder sees the SQL.
func newDryRunRepository(t *testing.T) (*billingRepository, *sqlRecorder) {
	t.Helper()
	rec := &sqlRecorder{}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  "host=localhost user=clubpay dbname=clubpay sslmode=disable",
		PreferSimpleProtocol: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: rec})
	require.NoError(t, err)
	return &billingRepository{db: db}, rec
}

func february(t *testing.T) utils.BillingPeriod {
	t.Helper()
	p, err := utils.ParseBillingPeriod("2025-02")
	require.NoError(t, err)
	return p
}

var periodClause = regexp.MustCompile(`AND \(billing_period = '2025-02' OR \(due_date >= '2025-02-01 00:00:00[^']*' AND due_date <= '2025-02-28 23:59:59[^']*'\)\)`)

func TestHasOpenChargeSQL(t *testing.T) {
	repo, rec := newDryRunRepository(t)
	member := uuid.New()

	_, err := repo.HasOpenCharge(member, february(t))
	require.NoError(t, err)

	sql := rec.last(t)
	assert.Contains(t, sql, `FROM "charges"`)
	assert.Contains(t, sql, "member_id = '"+member.String()+"'")
	assert.Contains(t, sql, "status <> 'CANCELLED'")
	// the period alternatives stay grouped, so the CANCELLED exclusion
	// applies to both of them
	assert.Regexp(t, periodClause, sql)
}

func TestMarkPendingRetrySQL(t *testing.T) {
	repo, rec := newDryRunRepository(t)
	at := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	_, err := repo.MarkPendingRetry(february(t), at)
	require.NoError(t, err)

	sql := rec.last(t)
	assert.Contains(t, sql, `UPDATE "charges" SET`)
	assert.Contains(t, sql, `"status"='PENDING_RETRY'`)
	assert.Contains(t, sql, `"retry_count"=retry_count + 1`)
	assert.Contains(t, sql, "WHERE status = 'PENDING' AND (billing_period")
	assert.Regexp(t, periodClause, sql)
	assert.NotContains(t, sql, "PAID")
}

func TestUpdateChargeStatusSQL(t *testing.T) {
	repo, rec := newDryRunRepository(t)
	id := uuid.New()

	_, err := repo.UpdateChargeStatus(id,
		[]db_models.ChargeStatus{db_models.ChargeStatusPending, db_models.ChargeStatusOverdue},
		db_models.ChargeStatusCancelled)
	require.NoError(t, err)

	sql := rec.last(t)
	assert.Contains(t, sql, `"status"='CANCELLED'`)
	assert.Contains(t, sql, "id = '"+id.String()+"' AND status IN ('PENDING','OVERDUE')")
}

func TestListEligibleMembersSQL(t *testing.T) {
	repo, rec := newDryRunRepository(t)

	// raw scans cannot complete without a server, but the statement is built
	_, err := repo.ListEligibleMembers()
	assert.ErrorIs(t, err, gorm.ErrDryRunModeUnsupported)

	sql := rec.last(t)
	assert.Contains(t, sql, "mp.ended_at IS NULL")
	assert.Contains(t, sql, "p.is_active = TRUE")
	assert.Contains(t, sql, "WHERE m.status = 'ACTIVE'")
	assert.Contains(t, sql, "SUM(p.price_minor) AS amount_minor")
	assert.Contains(t, sql, "ORDER BY m.name, m.id")
}

func TestListUndispatchedChargesSQL(t *testing.T) {
	repo, rec := newDryRunRepository(t)

	_, err := repo.ListUndispatchedCharges()
	require.NoError(t, err)

	sql := rec.last(t)
	assert.Contains(t, sql, "status IN ('PENDING','PENDING_RETRY') AND gateway_id IS NULL")
}
