package campaign

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether a campaign can never transition again.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Campaign is one bulk-send job with its pricing snapshot and running
// delivery counters. Rows are never deleted; terminal states are cancelled
// and completed.
type Campaign struct {
	ID         string `gorm:"column:id;primaryKey"`
	Code       string `gorm:"column:code"`
	TenantID   string `gorm:"column:tenant_id;index;not null"`
	OwnerID    string `gorm:"column:owner_id"`
	Name       string `gorm:"column:name;type:varchar(255);not null"`
	TemplateID string `gorm:"column:template_id;not null"`
	Status     Status `gorm:"column:status;type:varchar(16);not null;default:'draft'"`

	ScheduleAt    *time.Time `gorm:"column:schedule_at"`
	SegmentID     string     `gorm:"column:segment_id"`
	AudienceCount int        `gorm:"column:audience_count;not null"`

	// Pricing snapshot taken at launch; later rate-table changes never
	// affect a running campaign.
	UnitPrice        int64          `gorm:"column:unit_price;not null"`
	TotalCost        int64          `gorm:"column:total_cost;not null"`
	PricingBreakdown datatypes.JSON `gorm:"column:pricing_breakdown"`

	TotalMessages  int  `gorm:"column:total_messages;not null"`
	SentCount      int  `gorm:"column:sent_count;not null;default:0"`
	DeliveredCount int  `gorm:"column:delivered_count;not null;default:0"`
	ReadCount      int  `gorm:"column:read_count;not null;default:0"`
	FailedCount    int  `gorm:"column:failed_count;not null;default:0"`
	Processing     bool `gorm:"column:processing;not null;default:false"`

	ProcessStartedAt *time.Time `gorm:"column:process_started_at"`
	PausedAt         *time.Time `gorm:"column:paused_at"`
	ResumedAt        *time.Time `gorm:"column:resumed_at"`
	CancelledAt      *time.Time `gorm:"column:cancelled_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// InGracePeriod reports whether the campaign is still inside the undo
// window: launched, not yet claimed by the dispatch worker, and younger
// than the grace duration. The window closes as soon as the worker stamps
// process_started_at, even if the clock has not run out.
func (c *Campaign) InGracePeriod(now time.Time, grace time.Duration) bool {
	return c.Status == StatusActive &&
		c.ProcessStartedAt == nil &&
		now.Sub(c.CreatedAt) < grace
}

// GraceRemaining returns how much of the grace window is left, zero when
// the window is closed.
func (c *Campaign) GraceRemaining(now time.Time, grace time.Duration) time.Duration {
	if !c.InGracePeriod(now, grace) {
		return 0
	}
	return grace - now.Sub(c.CreatedAt)
}

type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// statusRank orders delivery states so duplicate or out-of-order provider
// events can only move a message forward. Failed outranks everything.
var statusRank = map[MessageStatus]int{
	MessageQueued:    0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
	MessageFailed:    4,
}

func (s MessageStatus) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// Message is one outbound message of a campaign. Refunded flips false→true
// exactly once, ever; it is the sole idempotency guard for per-message
// refunds.
type Message struct {
	ID         string        `gorm:"column:id;primaryKey"`
	CampaignID string        `gorm:"column:campaign_id;index;not null"`
	TenantID   string        `gorm:"column:tenant_id;index;not null"`
	Recipient  string        `gorm:"column:recipient;type:varchar(20);not null"`
	DispatchID string        `gorm:"column:dispatch_id;index:idx_messages_dispatch_id,unique,where:dispatch_id <> ''"`
	Status     MessageStatus `gorm:"column:status;type:varchar(16);not null;default:'queued'"`
	Refunded   bool          `gorm:"column:refunded;not null;default:false"`
	CreatedAt  time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (Message) TableName() string { return "campaign_messages" }
