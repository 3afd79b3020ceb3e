package template

import (
	"time"

	"sendloop-engine/services/pricing"
)

type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

// Template is an approved message body referenced by campaigns. Its category
// drives per-message pricing.
type Template struct {
	ID        string           `gorm:"column:id;primaryKey"`
	TenantID  string           `gorm:"column:tenant_id;index;not null"`
	Name      string           `gorm:"column:name;type:varchar(255);not null"`
	Category  pricing.Category `gorm:"column:category;type:varchar(32);not null"`
	Body      string           `gorm:"column:body;type:text"`
	Language  string           `gorm:"column:language;type:varchar(8);default:'en'"`
	Status    Status           `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Template) TableName() string { return "message_templates" }
