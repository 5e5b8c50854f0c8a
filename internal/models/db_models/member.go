package db_models

type MemberStatus string

// Encryption context for the PII columns.
const (
	PIIFieldDocument = "member.document"
	PIIFieldPhone    = "member.phone"
)

const (
	MemberStatusActive   MemberStatus = "ACTIVE"
	MemberStatusInactive MemberStatus = "INACTIVE"
	MemberStatusOverdue  MemberStatus = "OVERDUE"
)

// Member is a club subscriber. Document (CPF) and phone are stored encrypted
// and only decrypted right before a gateway call.
type Member struct {
	BaseModel
	Name        string
	Email       string
	DocumentEnc string       `gorm:"column:document_enc"`
	PhoneEnc    string       `gorm:"column:phone_enc"`
	Status      MemberStatus `gorm:"type:varchar(16);index;default:'ACTIVE'"`

	Plans []MemberPlan `gorm:"foreignKey:MemberID"`
}
