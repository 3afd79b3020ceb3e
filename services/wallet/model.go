package wallet

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Wallet is a tenant's prepaid balance. Balances are minor units and never
// mutated outside the ledger operations in this package.
type Wallet struct {
	ID        string    `gorm:"column:id;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;uniqueIndex;not null"`
	Balance   int64     `gorm:"column:balance;not null;default:0;check:balance >= 0"`
	Currency  string    `gorm:"column:currency;type:varchar(8);not null;default:'INR'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusPending   TransactionStatus = "pending"
	StatusFailed    TransactionStatus = "failed"
)

// Reference types recorded on ledger transactions.
const (
	ReferenceCampaign       = "campaign"
	ReferenceCampaignRefund = "campaign_refund"
	ReferenceMessageRefund  = "message_refund"
	ReferenceManual         = "manual"
)

// Transaction is one append-only ledger row. Rows are never updated or
// deleted; the sum of completed credits minus completed debits equals the
// wallet balance.
type Transaction struct {
	ID            string            `gorm:"column:id;primaryKey"`
	Code          string            `gorm:"column:code;uniqueIndex"`
	TenantID      string            `gorm:"column:tenant_id;index;not null"`
	Amount        int64             `gorm:"column:amount;not null;check:amount > 0"`
	Direction     Direction         `gorm:"column:direction;type:varchar(10);not null"`
	Status        TransactionStatus `gorm:"column:status;type:varchar(16);not null;default:'completed'"`
	ReferenceType string            `gorm:"column:reference_type;index:idx_wallet_txn_reference"`
	ReferenceID   string            `gorm:"column:reference_id;index:idx_wallet_txn_reference"`
	Metadata      datatypes.JSON    `gorm:"column:metadata"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string { return "wallet_transactions" }

// Reference ties a ledger transaction back to the operation that caused it.
type Reference struct {
	Type     string
	ID       string
	Metadata map[string]any
}

// GenerateTransactionCode builds a date-prefixed random code for customer
// facing statements.
func GenerateTransactionCode() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("%s-%s", datePart, randomPart), nil
}
