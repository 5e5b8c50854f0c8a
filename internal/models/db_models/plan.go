package db_models

type Plan struct {
	BaseModel
	Code       string `gorm:"uniqueIndex"` // e.g. "socio_mensal", "familia"
	Name       string
	PriceMinor int64  // 9990 = R$ 99,90
	Currency   string `gorm:"size:3;default:'BRL'"`
	IsActive   bool   `gorm:"default:true;index"`
}
