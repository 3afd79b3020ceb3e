package campaign

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sendloop-engine/pkg/repository"
	"sendloop-engine/services/wallet"
)

// DeliveryEvent is one provider status callback for a dispatched message.
type DeliveryEvent struct {
	DispatchID string `json:"id"`
	Status     string `json:"status"`
}

// Reconciler folds provider delivery events into message rows, campaign
// counters and per-message refunds. Every mutation is a conditional update,
// so replayed, duplicated or out-of-order webhook batches converge to the
// same state and never refund twice.
type Reconciler struct {
	db        *gorm.DB
	campaigns repository.Repository[Campaign]
	messages  repository.Repository[Message]
	wallets   *wallet.Service
}

func NewReconciler(db *gorm.DB, wallets *wallet.Service) *Reconciler {
	return &Reconciler{
		db:        db,
		campaigns: repository.ProvideStore[Campaign](db),
		messages:  repository.ProvideStore[Message](db),
		wallets:   wallets,
	}
}

// Process applies a batch of events. Unknown dispatch ids and unknown
// status values are logged and skipped; only infrastructure errors are
// returned so the task queue retries the whole batch.
func (r *Reconciler) Process(ctx context.Context, events []DeliveryEvent) error {
	for _, ev := range events {
		status := MessageStatus(ev.Status)
		if !status.Known() || status == MessageQueued {
			zap.L().Warn("ignoring delivery event with unknown status",
				zap.String("dispatch_id", ev.DispatchID),
				zap.String("status", ev.Status),
			)
			continue
		}

		// An empty dispatch id would vanish from the struct condition below
		// and match an arbitrary row.
		if ev.DispatchID == "" {
			zap.L().Warn("ignoring delivery event without dispatch id",
				zap.String("status", ev.Status))
			continue
		}

		msg, err := r.messages.FindOne(ctx, &Message{DispatchID: ev.DispatchID})
		if err != nil {
			return err
		}
		if msg == nil {
			zap.L().Warn("delivery event for unknown dispatch id",
				zap.String("dispatch_id", ev.DispatchID))
			continue
		}

		if err := r.ApplyMessage(ctx, msg, status); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMessage advances one message to newStatus if that is a forward move, bumps
// the matching campaign counter, and issues the refund for failures. All of
// it commits atomically, keyed on two conditional updates: the status CAS
// (only the observed current status matches) and the refunded false→true
// flip.
func (r *Reconciler) ApplyMessage(ctx context.Context, msg *Message, newStatus MessageStatus) error {
	if statusRank[newStatus] <= statusRank[msg.Status] {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Message{}).
			Where("id = ? AND status = ?", msg.ID, msg.Status).
			Update("status", newStatus)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race with a concurrent event; the winner already
			// accounted for this transition.
			return nil
		}

		counter := counterColumn(newStatus)
		if counter != "" {
			if err := tx.Model(&Campaign{}).
				Where("id = ?", msg.CampaignID).
				Update(counter, gorm.Expr(counter+" + 1")).Error; err != nil {
				return err
			}
		}

		if newStatus != MessageFailed {
			return nil
		}
		return r.refund(ctx, tx, msg)
	})
}

// refund credits back one message's unit price, at most once per message.
func (r *Reconciler) refund(ctx context.Context, tx *gorm.DB, msg *Message) error {
	res := tx.Model(&Message{}).
		Where("id = ? AND refunded = ?", msg.ID, false).
		Update("refunded", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	c, err := r.campaigns.WithTrx(tx).FindOne(ctx, &Campaign{ID: msg.CampaignID})
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("message %s references missing campaign %s", msg.ID, msg.CampaignID)
	}

	if _, err := r.wallets.CreditTx(ctx, tx, msg.TenantID, c.UnitPrice, wallet.Reference{
		Type: wallet.ReferenceMessageRefund,
		ID:   msg.ID,
		Metadata: map[string]any{
			"campaign_id": c.ID,
			"dispatch_id": msg.DispatchID,
		},
	}); err != nil {
		return err
	}

	zap.L().Info("message refund issued",
		zap.String("tenant_id", msg.TenantID),
		zap.String("campaign_id", c.ID),
		zap.String("dispatch_id", msg.DispatchID),
		zap.Int64("amount", c.UnitPrice),
	)
	return nil
}

func counterColumn(s MessageStatus) string {
	switch s {
	case MessageSent:
		return "sent_count"
	case MessageDelivered:
		return "delivered_count"
	case MessageRead:
		return "read_count"
	case MessageFailed:
		return "failed_count"
	default:
		return ""
	}
}

// HandleReconcileTask is the asynq consumer for webhook batches.
func (r *Reconciler) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}
	return r.Process(ctx, p.Events)
}
