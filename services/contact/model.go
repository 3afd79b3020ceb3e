package contact

import "time"

// Contact is the minimal audience-side projection the engine needs: enough
// to count a segment and list its recipients. Contact CRUD lives elsewhere.
type Contact struct {
	ID        string    `gorm:"column:id;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;index:idx_contacts_segment;not null"`
	Phone     string    `gorm:"column:phone;type:varchar(20);not null"`
	SegmentID string    `gorm:"column:segment_id;index:idx_contacts_segment"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
