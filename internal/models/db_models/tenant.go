package db_models

// Tenant lives in the shared public schema; everything else lives in the
// tenant's own schema.
type Tenant struct {
	ID        string `gorm:"primaryKey;size:48"`
	Name      string
	IsActive  bool  `gorm:"default:true"`
	CreatedAt int64 `gorm:"autoCreateTime"`
}

func (Tenant) TableName() string { return "public.tenants" }
