package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"sendloop-engine/pkg/config"
	"sendloop-engine/pkg/db/option"
	"sendloop-engine/pkg/repository"
	"sendloop-engine/pkg/task"
	"sendloop-engine/services/campaign"
	"sendloop-engine/services/template"
)

// errHalted aborts the in-flight batch when the campaign leaves the active
// state mid-dispatch. It is a control signal, never surfaced to asynq.
var errHalted = errors.New("campaign no longer active")

// Worker drains a campaign's queued messages in batches. Each run claims
// the campaign with a conditional processing flip, sends one batch with
// bounded concurrency, releases the claim and re-enqueues itself while
// queued messages remain. The campaign status is re-read before every
// single send so pause and cancel take effect between messages, not just
// between batches.
type Worker struct {
	db        *gorm.DB
	campaigns repository.Repository[campaign.Campaign]
	messages  repository.Repository[campaign.Message]

	templates  *template.Service
	reconciler *campaign.Reconciler
	sender     Sender
	enqueuer   task.Enqueuer

	batchSize   int
	concurrency int
}

type WorkerParams struct {
	fx.In
	Config     *config.Config
	DB         *gorm.DB
	Templates  *template.Service
	Reconciler *campaign.Reconciler
	Sender     Sender
	Enqueuer   task.Enqueuer
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		db:          p.DB,
		campaigns:   repository.ProvideStore[campaign.Campaign](p.DB),
		messages:    repository.ProvideStore[campaign.Message](p.DB),
		templates:   p.Templates,
		reconciler:  p.Reconciler,
		sender:      p.Sender,
		enqueuer:    p.Enqueuer,
		batchSize:   p.Config.DispatchBatchSize(),
		concurrency: p.Config.SendConcurrency(),
	}
}

// HandleDispatch is the asynq consumer for campaign dispatch tasks.
func (w *Worker) HandleDispatch(ctx context.Context, t *asynq.Task) error {
	var p campaign.DispatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid dispatch payload: %w", err)
	}
	return w.Run(ctx, p.TenantID, p.CampaignID)
}

// Run executes one batch cycle for the campaign. Returning nil for a lost
// claim or a non-active campaign is deliberate: someone else owns the work
// or there is no work, and a retry would change nothing.
func (w *Worker) Run(ctx context.Context, tenantID, campaignID string) error {
	if !w.claim(ctx, campaignID) {
		zap.L().Debug("dispatch claim not acquired, skipping",
			zap.String("campaign_id", campaignID))
		return nil
	}
	released := false
	defer func() {
		if !released {
			w.release(campaignID)
		}
	}()

	c, err := w.campaigns.FindOne(ctx, &campaign.Campaign{ID: campaignID, TenantID: tenantID})
	if err != nil {
		return err
	}
	if c == nil {
		zap.L().Warn("dispatch task for unknown campaign", zap.String("campaign_id", campaignID))
		return nil
	}

	tmpl, err := w.templates.Get(ctx, tenantID, c.TemplateID)
	if err != nil {
		return err
	}

	batch, err := w.messages.Find(ctx,
		&campaign.Message{CampaignID: campaignID, Status: campaign.MessageQueued},
		option.WithLimit(w.batchSize),
	)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return w.complete(ctx, c)
	}

	halted := w.sendBatch(ctx, c, tmpl.Body, batch)

	w.release(campaignID)
	released = true

	if halted {
		zap.L().Info("dispatch halted, campaign left active state",
			zap.String("campaign_id", campaignID))
		return nil
	}
	return w.continueLater(ctx, c)
}

// claim flips processing false→true and stamps process_started_at on the
// first ever claim. Exactly one worker can win; losing means another run
// holds the campaign or it is no longer active.
func (w *Worker) claim(ctx context.Context, campaignID string) bool {
	res := w.db.WithContext(ctx).Model(&campaign.Campaign{}).
		Where("id = ? AND status = ? AND processing = ?", campaignID, campaign.StatusActive, false).
		Updates(map[string]any{
			"processing":         true,
			"process_started_at": gorm.Expr("COALESCE(process_started_at, ?)", time.Now()),
		})
	if res.Error != nil {
		zap.L().Error("dispatch claim failed", zap.String("campaign_id", campaignID), zap.Error(res.Error))
		return false
	}
	return res.RowsAffected == 1
}

// release drops the processing claim. It runs even when the surrounding
// context is cancelled, so a dying worker never wedges the campaign.
func (w *Worker) release(campaignID string) {
	err := w.db.Model(&campaign.Campaign{}).
		Where("id = ?", campaignID).
		Update("processing", false).Error
	if err != nil {
		zap.L().Error("failed to release dispatch claim",
			zap.String("campaign_id", campaignID), zap.Error(err))
	}
}

// sendBatch pushes one batch through the provider with bounded concurrency.
// It reports whether dispatch was halted by a status change.
func (w *Worker) sendBatch(ctx context.Context, c *campaign.Campaign, body string, batch []*campaign.Message) bool {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, msg := range batch {
		g.Go(func() error {
			active, err := w.stillActive(gctx, c.ID)
			if err != nil {
				return err
			}
			if !active {
				return errHalted
			}
			return w.sendOne(gctx, c, body, msg)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, errHalted) {
			return true
		}
		zap.L().Error("dispatch batch error", zap.String("campaign_id", c.ID), zap.Error(err))
	}
	return false
}

func (w *Worker) stillActive(ctx context.Context, campaignID string) (bool, error) {
	var status string
	err := w.db.WithContext(ctx).Model(&campaign.Campaign{}).
		Select("status").
		Where("id = ?", campaignID).
		Scan(&status).Error
	if err != nil {
		return false, err
	}
	return campaign.Status(status) == campaign.StatusActive, nil
}

// sendOne dispatches a single message. Provider rejections are folded
// through the reconciler so the failed counter and the per-message refund
// follow the same idempotent path as webhook failures.
func (w *Worker) sendOne(ctx context.Context, c *campaign.Campaign, body string, msg *campaign.Message) error {
	dispatchID, err := w.sender.Send(ctx, OutboundMessage{
		MessageID:  msg.ID,
		CampaignID: c.ID,
		TenantID:   c.TenantID,
		Recipient:  msg.Recipient,
		Body:       body,
	})
	if err != nil {
		zap.L().Warn("provider rejected message",
			zap.String("campaign_id", c.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return w.reconciler.ApplyMessage(ctx, msg, campaign.MessageFailed)
	}

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&campaign.Message{}).
			Where("id = ? AND status = ?", msg.ID, campaign.MessageQueued).
			Updates(map[string]any{
				"status":      campaign.MessageSent,
				"dispatch_id": dispatchID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already advanced by a concurrent run; it counted the send.
			return nil
		}
		return tx.Model(&campaign.Campaign{}).
			Where("id = ?", c.ID).
			Update("sent_count", gorm.Expr("sent_count + 1")).Error
	})
}

// complete marks a drained campaign completed. The transition is
// conditional on still being active so a concurrent cancel wins cleanly.
func (w *Worker) complete(ctx context.Context, c *campaign.Campaign) error {
	res := w.db.WithContext(ctx).Model(&campaign.Campaign{}).
		Where("id = ? AND status = ?", c.ID, campaign.StatusActive).
		Updates(map[string]any{
			"status":       campaign.StatusCompleted,
			"completed_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		zap.L().Info("campaign completed",
			zap.String("tenant_id", c.TenantID),
			zap.String("campaign_id", c.ID),
		)
	}
	return nil
}

func (w *Worker) continueLater(ctx context.Context, c *campaign.Campaign) error {
	t, err := campaign.NewDispatchTask(campaign.DispatchPayload{
		CampaignID: c.ID,
		TenantID:   c.TenantID,
	})
	if err != nil {
		return err
	}
	if _, err := w.enqueuer.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("failed to re-enqueue dispatch: %w", err)
	}
	return nil
}
