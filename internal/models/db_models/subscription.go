package db_models

import (
	"time"

	"github.com/google/uuid"
)

// MemberPlan links a member to a plan. A link is open while EndedAt is nil;
// only open links to active plans make a member billable.
type MemberPlan struct {
	BaseModel
	MemberID  uuid.UUID `gorm:"type:uuid;index"`
	PlanID    uuid.UUID `gorm:"type:uuid;index"`
	StartedAt time.Time `gorm:"not null"`
	EndedAt   *time.Time

	Plan Plan `gorm:"foreignKey:PlanID"`
}

func (MemberPlan) TableName() string { return "member_plans" }

// Open reports whether the link still counts for billing.
func (mp MemberPlan) Open() bool { return mp.EndedAt == nil }
