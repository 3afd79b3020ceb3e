package campaign

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"sendloop-engine/services/wallet"
)

// markDispatched simulates the worker having pushed every queued message to
// the provider: status sent, dispatch id assigned, sent counter bumped.
func (f *fixture) markDispatched(t *testing.T, campaignID string) []Message {
	t.Helper()

	var msgs []Message
	require.NoError(t, f.db.Find(&msgs, "campaign_id = ? AND status = ?", campaignID, MessageQueued).Error)
	for i := range msgs {
		msgs[i].DispatchID = fmt.Sprintf("wamid.%s.%d", campaignID, i)
		msgs[i].Status = MessageSent
		require.NoError(t, f.db.Model(&Message{}).Where("id = ?", msgs[i].ID).
			Updates(map[string]any{"status": MessageSent, "dispatch_id": msgs[i].DispatchID}).Error)
	}
	require.NoError(t, f.db.Model(&Campaign{}).Where("id = ?", campaignID).
		Update("sent_count", len(msgs)).Error)
	return msgs
}

func TestReconcileAdvancesStatusAndCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.launch(t, "+628111111111", "+628222222222", "+628333333333")
	msgs := f.markDispatched(t, res.Campaign.ID)

	err := f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "delivered"},
		{DispatchID: msgs[1].DispatchID, Status: "delivered"},
		{DispatchID: msgs[1].DispatchID, Status: "read"},
	})
	require.NoError(t, err)

	c := f.reload(t, res.Campaign.ID)
	require.Equal(t, 2, c.DeliveredCount)
	require.Equal(t, 1, c.ReadCount)
	require.Equal(t, 3, c.SentCount)

	var m Message
	require.NoError(t, f.db.First(&m, "dispatch_id = ?", msgs[1].DispatchID).Error)
	require.Equal(t, MessageRead, m.Status)
}

func TestReconcileFailureRefundsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.launch(t, "+628111111111", "+628222222222", "+628333333333")
	msgs := f.markDispatched(t, res.Campaign.ID)

	events := []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "delivered"},
		{DispatchID: msgs[1].DispatchID, Status: "failed"},
		{DispatchID: msgs[2].DispatchID, Status: "delivered"},
	}

	before := f.balance(t)
	require.NoError(t, f.reconciler.Process(ctx, events))

	c := f.reload(t, res.Campaign.ID)
	require.Equal(t, 2, c.DeliveredCount)
	require.Equal(t, 1, c.FailedCount)
	require.Equal(t, before+testUnitPrice, f.balance(t))

	var failed Message
	require.NoError(t, f.db.First(&failed, "dispatch_id = ?", msgs[1].DispatchID).Error)
	require.Equal(t, MessageFailed, failed.Status)
	require.True(t, failed.Refunded)

	// Provider retries deliver the same batch again; nothing may change.
	require.NoError(t, f.reconciler.Process(ctx, events))
	require.NoError(t, f.reconciler.Process(ctx, events))

	c = f.reload(t, res.Campaign.ID)
	require.Equal(t, 2, c.DeliveredCount)
	require.Equal(t, 1, c.FailedCount)
	require.Equal(t, before+testUnitPrice, f.balance(t))
}

func TestReconcileOutOfOrderEventsOnlyMoveForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.launch(t, "+628111111111")
	msgs := f.markDispatched(t, res.Campaign.ID)

	require.NoError(t, f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "read"},
	}))
	// The delivered event arrives late; it must not downgrade the message.
	require.NoError(t, f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "delivered"},
	}))

	var m Message
	require.NoError(t, f.db.First(&m, "id = ?", msgs[0].ID).Error)
	require.Equal(t, MessageRead, m.Status)

	c := f.reload(t, res.Campaign.ID)
	require.Equal(t, 1, c.ReadCount)
	// The late delivered event was dropped, so the counter stays at zero.
	require.Zero(t, c.DeliveredCount)
}

func TestReconcileRejectsEmptyDispatchID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The launched message is still queued with an empty dispatch id. A
	// malformed provider entry without an id must not be able to match it
	// through the zero-value struct condition.
	res := f.launch(t, "+628111111111")
	before := f.balance(t)

	require.NoError(t, f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: "", Status: "failed"},
	}))

	c := f.reload(t, res.Campaign.ID)
	require.Zero(t, c.FailedCount)
	require.Equal(t, before, f.balance(t))

	var m Message
	require.NoError(t, f.db.First(&m, "campaign_id = ?", res.Campaign.ID).Error)
	require.Equal(t, MessageQueued, m.Status)
	require.False(t, m.Refunded)
}

func TestReconcileConcurrentFailedEventsRefundOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.launch(t, "+628111111111")
	msgs := f.markDispatched(t, res.Campaign.ID)
	before := f.balance(t)

	// Two webhook deliveries race on the same failure, each working from
	// its own read of the message. The refunded flip only matches once.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		var m Message
		require.NoError(t, f.db.First(&m, "id = ?", msgs[0].ID).Error)

		go func(m Message) {
			errs <- f.reconciler.ApplyMessage(ctx, &m, MessageFailed)
		}(m)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	require.Equal(t, before+testUnitPrice, f.balance(t))

	var refunds int64
	require.NoError(t, f.db.Model(&wallet.Transaction{}).
		Where("reference_type = ? AND reference_id = ?", wallet.ReferenceMessageRefund, msgs[0].ID).
		Count(&refunds).Error)
	require.EqualValues(t, 1, refunds)

	c := f.reload(t, res.Campaign.ID)
	require.Equal(t, 1, c.FailedCount)
}

func TestReconcileIgnoresUnknownDispatchIDs(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.reconciler.Process(context.Background(), []DeliveryEvent{
		{DispatchID: "wamid.never-seen", Status: "delivered"},
	}))
}

func TestReconcileIgnoresUnknownStatusValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.launch(t, "+628111111111")
	msgs := f.markDispatched(t, res.Campaign.ID)

	require.NoError(t, f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "exploded"},
		{DispatchID: msgs[0].DispatchID, Status: "queued"},
	}))

	var m Message
	require.NoError(t, f.db.First(&m, "id = ?", msgs[0].ID).Error)
	require.Equal(t, MessageSent, m.Status)
}

func TestReconcileDuplicateSentEventIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.launch(t, "+628111111111")
	msgs := f.markDispatched(t, res.Campaign.ID)

	require.NoError(t, f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "sent"},
	}))

	// The worker already counted the send; the provider echo adds nothing.
	c := f.reload(t, res.Campaign.ID)
	require.Equal(t, 1, c.SentCount)
}

func TestReconcileFailedAfterReadStillRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.launch(t, "+628111111111")
	msgs := f.markDispatched(t, res.Campaign.ID)

	require.NoError(t, f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "delivered"},
	}))

	before := f.balance(t)
	require.NoError(t, f.reconciler.Process(ctx, []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "failed"},
	}))

	require.Equal(t, before+testUnitPrice, f.balance(t))

	var m Message
	require.NoError(t, f.db.First(&m, "id = ?", msgs[0].ID).Error)
	require.Equal(t, MessageFailed, m.Status)
	require.True(t, m.Refunded)
}
