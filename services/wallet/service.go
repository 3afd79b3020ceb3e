package wallet

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sendloop-engine/pkg/db/option"
	"sendloop-engine/pkg/db/pagination"
	"sendloop-engine/pkg/errutil"
	"sendloop-engine/pkg/repository"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	wallets      repository.Repository[Wallet]
	transactions repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		wallets:      repository.ProvideStore[Wallet](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

// ErrInsufficientFunds builds the standard rejection carrying the amounts the
// caller displays.
func ErrInsufficientFunds(required, current int64) error {
	return errutil.BadRequest("insufficient wallet balance",
		errutil.WithDetails(
			errutil.Detail{Field: "required_amount", Message: strconv.FormatInt(required, 10)},
			errutil.Detail{Field: "current_balance", Message: strconv.FormatInt(current, 10)},
		),
	)
}

// Open creates a tenant wallet if one does not exist yet and returns it.
func (s *Service) Open(ctx context.Context, tenantID, currency string) (*Wallet, error) {
	existing, err := s.wallets.FindOne(ctx, &Wallet{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	w := &Wallet{
		ID:       s.node.Generate().String(),
		TenantID: tenantID,
		Currency: currency,
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) Balance(ctx context.Context, tenantID string) (*Wallet, error) {
	w, err := s.wallets.FindOne(ctx, &Wallet{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errutil.NotFound("wallet not found")
	}
	return w, nil
}

// Debit atomically reserves funds: the balance check, the balance mutation
// and the ledger append commit together or not at all. Concurrent debits for
// one tenant serialize on the wallet row lock.
func (s *Service) Debit(ctx context.Context, tenantID string, amount int64, ref Reference) (*Transaction, error) {
	var txn *Transaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.DebitTx(ctx, tx, tenantID, amount, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// DebitTx is Debit inside a caller-supplied transaction.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, tenantID string, amount int64, ref Reference) (*Transaction, error) {
	if amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be > 0 for debit")
	}

	w, err := s.lockWallet(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	if w.Balance < amount {
		return nil, ErrInsufficientFunds(amount, w.Balance)
	}

	// The WHERE balance >= ? guard makes the decrement safe even if the row
	// lock was skipped (sqlite); rows affected confirms the write took.
	res := tx.Model(&Wallet{}).
		Where("id = ? AND balance >= ?", w.ID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientFunds(amount, w.Balance)
	}

	return s.appendTransaction(ctx, tx, w, DirectionDebit, amount, ref)
}

// Credit atomically increases the balance and appends a credit transaction.
func (s *Service) Credit(ctx context.Context, tenantID string, amount int64, ref Reference) (*Transaction, error) {
	var txn *Transaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.CreditTx(ctx, tx, tenantID, amount, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// CreditTx is Credit inside a caller-supplied transaction. Lifecycle
// cancellation uses it so the status transition and the refund commit as one
// unit.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, tenantID string, amount int64, ref Reference) (*Transaction, error) {
	if amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be > 0 for credit")
	}

	w, err := s.lockWallet(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := tx.Model(&Wallet{}).
		Where("id = ?", w.ID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
		return nil, err
	}

	return s.appendTransaction(ctx, tx, w, DirectionCredit, amount, ref)
}

func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, tenantID string) (*Wallet, error) {
	w, err := s.wallets.WithTrx(tx).FindOne(ctx, &Wallet{TenantID: tenantID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errutil.NotFound("wallet not found")
	}
	return w, nil
}

func (s *Service) appendTransaction(ctx context.Context, tx *gorm.DB, w *Wallet, direction Direction, amount int64, ref Reference) (*Transaction, error) {
	span := trace.SpanFromContext(ctx)

	code, err := GenerateTransactionCode()
	if err != nil {
		return nil, err
	}

	var meta datatypes.JSON
	if ref.Metadata != nil {
		b, _ := json.Marshal(ref.Metadata)
		meta = datatypes.JSON(b)
	}

	txn := &Transaction{
		ID:            s.node.Generate().String(),
		Code:          code,
		TenantID:      w.TenantID,
		Amount:        amount,
		Direction:     direction,
		Status:        StatusCompleted,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Metadata:      meta,
	}

	if err := s.transactions.WithTrx(tx).Create(ctx, txn); err != nil {
		return nil, err
	}

	zap.L().Info("wallet ledger entry appended",
		zap.String("tenant_id", w.TenantID),
		zap.String("direction", string(direction)),
		zap.Int64("amount", amount),
		zap.String("reference_type", ref.Type),
		zap.String("reference_id", ref.ID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	return txn, nil
}

// TransactionFilter narrows ListTransactions; zero fields are ignored.
type TransactionFilter struct {
	ReferenceType string
	ReferenceID   string
	Limit         int
}

func (s *Service) ListTransactions(ctx context.Context, tenantID string, filter TransactionFilter) ([]*Transaction, error) {
	query := &Transaction{
		TenantID:      tenantID,
		ReferenceType: filter.ReferenceType,
		ReferenceID:   filter.ReferenceID,
	}

	return s.transactions.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(filter.Limit),
	)
}

// ListTransactionsPage returns one cursor page of the ledger, newest first.
// The cursor pins (created_at, id) of the last row the client saw.
func (s *Service) ListTransactionsPage(ctx context.Context, tenantID string, filter TransactionFilter, page pagination.Pagination) ([]*Transaction, *pagination.PageInfo, error) {
	limit := page.EffectiveLimit()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit + 1),
	}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		opts = append(opts, func(tx *gorm.DB) *gorm.DB {
			return tx.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, cursor.ID)
		})
	}

	query := &Transaction{
		TenantID:      tenantID,
		ReferenceType: filter.ReferenceType,
		ReferenceID:   filter.ReferenceID,
	}
	rows, err := s.transactions.Find(ctx, query, opts...)
	if err != nil {
		return nil, nil, err
	}

	pageRows, info := pagination.BuildPage(rows, limit, func(t *Transaction) pagination.Cursor {
		return pagination.Cursor{
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        t.ID,
		}
	})
	return pageRows, info, nil
}

// HasEntry reports whether a completed ledger row already exists for the
// reference. Launch uses it to keep the campaign debit idempotent.
func (s *Service) HasEntry(ctx context.Context, tenantID, referenceType, referenceID string) (bool, error) {
	return s.HasEntryTx(ctx, s.db, tenantID, referenceType, referenceID)
}

// HasEntryTx is HasEntry inside a caller-supplied transaction. Callers
// already holding a transaction must use this form: probing through the
// base handle would grab a second pool connection and, on a single
// connection pool, wait forever for the one the transaction holds.
func (s *Service) HasEntryTx(ctx context.Context, tx *gorm.DB, tenantID, referenceType, referenceID string) (bool, error) {
	count, err := s.transactions.WithTrx(tx).Count(ctx, &Transaction{
		TenantID:      tenantID,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
