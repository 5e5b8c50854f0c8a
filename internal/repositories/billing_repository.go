package repositories

import (
	"errors"
	"time"

	"clubpay/internal/models/db_models"
	"clubpay/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EligibleMember is an ACTIVE member with at least one open link to an
// active plan. AmountMinor sums the prices of those plans.
type EligibleMember struct {
	MemberID    uuid.UUID
	Name        string
	AmountMinor int64
}

// BillingStore is the tenant-scoped storage used by the billing pipeline.
// Implementations are bound to one unit of work (see TenantDB); lookups
// return (nil, nil) when the row does not exist.
type BillingStore interface {
	CountActivePlans() (int64, error)
	ListEligibleMembers() ([]EligibleMember, error)
	FindMember(id uuid.UUID) (*db_models.Member, error)
	UpdateMemberStatus(id uuid.UUID, status db_models.MemberStatus) error

	HasOpenCharge(memberID uuid.UUID, period utils.BillingPeriod) (bool, error)
	CreateCharge(charge *db_models.Charge) error
	FindCharge(id uuid.UUID) (*db_models.Charge, error)
	ListUndispatchedCharges() ([]db_models.Charge, error)
	SetChargeGateway(id uuid.UUID, externalID, gatewayName string, meta []byte) error
	// UpdateChargeStatus moves a charge to status only if it is currently in
	// one of from; it reports whether a row changed.
	UpdateChargeStatus(id uuid.UUID, from []db_models.ChargeStatus, to db_models.ChargeStatus) (bool, error)
	MarkPendingRetry(period utils.BillingPeriod, at time.Time) (int64, error)

	PaymentExists(gatewayTxID string) (bool, error)
	CreatePayment(payment *db_models.Payment) error

	AppendAudit(entry *db_models.AuditLog) error
}

type billingRepository struct {
	db *gorm.DB
}

func (r *billingRepository) CountActivePlans() (int64, error) {
	var n int64
	err := r.db.Model(&db_models.Plan{}).Where("is_active = ?", true).Count(&n).Error
	return n, err
}

func (r *billingRepository) ListEligibleMembers() ([]EligibleMember, error) {
	var rows []EligibleMember
	err := r.db.Raw(`
		SELECT m.id AS member_id, m.name AS name, SUM(p.price_minor) AS amount_minor
		FROM members m
		JOIN member_plans mp ON mp.member_id = m.id AND mp.ended_at IS NULL
		JOIN plans p ON p.id = mp.plan_id AND p.is_active = TRUE
		WHERE m.status = ?
		GROUP BY m.id, m.name
		ORDER BY m.name, m.id`, db_models.MemberStatusActive).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *billingRepository) FindMember(id uuid.UUID) (*db_models.Member, error) {
	var m db_models.Member
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *billingRepository) UpdateMemberStatus(id uuid.UUID, status db_models.MemberStatus) error {
	return r.db.Model(&db_models.Member{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().Unix()}).Error
}

func (r *billingRepository) HasOpenCharge(memberID uuid.UUID, period utils.BillingPeriod) (bool, error) {
	var n int64
	err := r.db.Model(&db_models.Charge{}).
		Where("member_id = ? AND status <> ?", memberID, db_models.ChargeStatusCancelled).
		Where("billing_period = ? OR (due_date >= ? AND due_date <= ?)", period.String(), period.Start(), period.End()).
		Count(&n).Error
	return n > 0, err
}

func (r *billingRepository) CreateCharge(charge *db_models.Charge) error {
	return r.db.Create(charge).Error
}

func (r *billingRepository) FindCharge(id uuid.UUID) (*db_models.Charge, error) {
	var c db_models.Charge
	if err := r.db.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *billingRepository) ListUndispatchedCharges() ([]db_models.Charge, error) {
	var charges []db_models.Charge
	err := r.db.
		Where("status IN ? AND gateway_id IS NULL", []db_models.ChargeStatus{
			db_models.ChargeStatusPending, db_models.ChargeStatusPendingRetry,
		}).
		Order("due_date, id").
		Find(&charges).Error
	return charges, err
}

func (r *billingRepository) SetChargeGateway(id uuid.UUID, externalID, gatewayName string, meta []byte) error {
	res := r.db.Model(&db_models.Charge{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway_id":   externalID,
			"gateway_name": gatewayName,
			"gateway_meta": meta,
			"updated_at":   time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrChargeNotFound
	}
	return nil
}

func (r *billingRepository) UpdateChargeStatus(id uuid.UUID, from []db_models.ChargeStatus, to db_models.ChargeStatus) (bool, error) {
	res := r.db.Model(&db_models.Charge{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().Unix()})
	return res.RowsAffected > 0, res.Error
}

func (r *billingRepository) MarkPendingRetry(period utils.BillingPeriod, at time.Time) (int64, error) {
	res := r.db.Model(&db_models.Charge{}).
		Where("status = ?", db_models.ChargeStatusPending).
		Where("billing_period = ? OR (due_date >= ? AND due_date <= ?)", period.String(), period.Start(), period.End()).
		Updates(map[string]interface{}{
			"status":        db_models.ChargeStatusPendingRetry,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": at,
			"updated_at":    at.Unix(),
		})
	return res.RowsAffected, res.Error
}

func (r *billingRepository) PaymentExists(gatewayTxID string) (bool, error) {
	var n int64
	err := r.db.Model(&db_models.Payment{}).Where("gateway_tx_id = ?", gatewayTxID).Count(&n).Error
	return n > 0, err
}

func (r *billingRepository) CreatePayment(payment *db_models.Payment) error {
	return r.db.Create(payment).Error
}

func (r *billingRepository) AppendAudit(entry *db_models.AuditLog) error {
	return r.db.Create(entry).Error
}
