package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sendloop-engine/pkg/db/pagination"
	"sendloop-engine/pkg/errutil"
	"sendloop-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Wallet{}, &Transaction{})
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestOpenIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)

	second, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Zero(t, second.Balance)
}

func TestDebitAndCredit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)

	_, err = svc.Credit(ctx, "tenant-1", 10_000, Reference{Type: ReferenceManual})
	require.NoError(t, err)

	txn, err := svc.Debit(ctx, "tenant-1", 3_500, Reference{Type: ReferenceCampaign, ID: "cmp-1"})
	require.NoError(t, err)
	require.Equal(t, DirectionDebit, txn.Direction)
	require.Equal(t, int64(3_500), txn.Amount)
	require.NotEmpty(t, txn.Code)

	w, err := svc.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, int64(6_500), w.Balance)
}

func TestDebitInsufficientFunds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "tenant-1", 100, Reference{Type: ReferenceManual})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "tenant-1", 500, Reference{Type: ReferenceCampaign, ID: "cmp-1"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusBadRequest, be.Status())

	// The failed debit must leave no trace: balance intact, ledger empty
	// apart from the top-up.
	w, err := svc.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), w.Balance)

	txns, err := svc.ListTransactions(ctx, "tenant-1", TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "tenant-1", 0, Reference{Type: ReferenceManual})
	require.Error(t, err)
	_, err = svc.Debit(ctx, "tenant-1", -5, Reference{Type: ReferenceManual})
	require.Error(t, err)
}

func TestDebitUnknownWallet(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Debit(context.Background(), "ghost", 10, Reference{Type: ReferenceManual})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestLedgerMatchesBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)

	ops := []struct {
		direction Direction
		amount    int64
	}{
		{DirectionCredit, 50_000},
		{DirectionDebit, 12_000},
		{DirectionCredit, 3_000},
		{DirectionDebit, 1},
		{DirectionCredit, 7},
	}
	for _, op := range ops {
		if op.direction == DirectionCredit {
			_, err = svc.Credit(ctx, "tenant-1", op.amount, Reference{Type: ReferenceManual})
		} else {
			_, err = svc.Debit(ctx, "tenant-1", op.amount, Reference{Type: ReferenceManual})
		}
		require.NoError(t, err)
	}

	txns, err := svc.ListTransactions(ctx, "tenant-1", TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txns, len(ops))

	var sum int64
	for _, txn := range txns {
		if txn.Direction == DirectionCredit {
			sum += txn.Amount
		} else {
			sum -= txn.Amount
		}
	}

	w, err := svc.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, sum, w.Balance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "tenant-1", 500, Reference{Type: ReferenceManual})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, "tenant-1", 100, Reference{Type: ReferenceManual}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)

	w, err := svc.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	require.Zero(t, w.Balance)
}

func TestHasEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "tenant-1", 1_000, Reference{Type: ReferenceManual})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "tenant-1", 200, Reference{Type: ReferenceCampaign, ID: "cmp-1"})
	require.NoError(t, err)

	found, err := svc.HasEntry(ctx, "tenant-1", ReferenceCampaign, "cmp-1")
	require.NoError(t, err)
	require.True(t, found)

	found, err = svc.HasEntry(ctx, "tenant-1", ReferenceCampaign, "cmp-2")
	require.NoError(t, err)
	require.False(t, found)
}

func TestHasEntryTxRidesCallerTransaction(t *testing.T) {
	db := testutil.NewTestDB(t, &Wallet{}, &Transaction{})
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	svc := NewService(ServiceParams{DB: db, Node: node})
	ctx := context.Background()

	_, err = svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "tenant-1", 1_000, Reference{Type: ReferenceManual})
	require.NoError(t, err)

	// The test pool holds a single connection. A probe that went through
	// the base handle instead of the ambient transaction would block on
	// that connection and never return.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		found, err := svc.HasEntryTx(ctx, tx, "tenant-1", ReferenceCampaign, "cmp-9")
		require.NoError(t, err)
		require.False(t, found)

		if _, err := svc.DebitTx(ctx, tx, "tenant-1", 300, Reference{Type: ReferenceCampaign, ID: "cmp-9"}); err != nil {
			return err
		}

		found, err = svc.HasEntryTx(ctx, tx, "tenant-1", ReferenceCampaign, "cmp-9")
		require.NoError(t, err)
		require.True(t, found)
		return nil
	}))
}

func TestListTransactionsPage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err = svc.Credit(ctx, "tenant-1", int64(i+1), Reference{Type: ReferenceManual})
		require.NoError(t, err)
	}

	var seen []string
	page := pagination.Pagination{Limit: 3}
	for {
		rows, info, err := svc.ListTransactionsPage(ctx, "tenant-1", TransactionFilter{}, page)
		require.NoError(t, err)
		for _, txn := range rows {
			seen = append(seen, txn.ID)
		}
		if !info.HasMore {
			break
		}
		require.NotEmpty(t, info.NextCursor)
		page.Cursor = info.NextCursor
	}

	require.Len(t, seen, 7)
	unique := map[string]bool{}
	for _, id := range seen {
		unique[id] = true
	}
	require.Len(t, unique, 7)

	_, _, err = svc.ListTransactionsPage(ctx, "tenant-1", TransactionFilter{}, pagination.Pagination{Cursor: "%%%"})
	require.Error(t, err)
}

func TestListTransactionsFilterByReference(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "tenant-1", "INR")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "tenant-1", 1_000, Reference{Type: ReferenceManual})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "tenant-1", 100, Reference{Type: ReferenceCampaign, ID: "cmp-1"})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "tenant-1", 100, Reference{Type: ReferenceCampaign, ID: "cmp-2"})
	require.NoError(t, err)

	txns, err := svc.ListTransactions(ctx, "tenant-1", TransactionFilter{
		ReferenceType: ReferenceCampaign,
		ReferenceID:   "cmp-1",
	})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, "cmp-1", txns[0].ReferenceID)
}
