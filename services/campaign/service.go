package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sendloop-engine/pkg/config"
	"sendloop-engine/pkg/db/option"
	"sendloop-engine/pkg/errutil"
	"sendloop-engine/pkg/repository"
	"sendloop-engine/pkg/sequence"
	"sendloop-engine/pkg/task"
	"sendloop-engine/services/contact"
	"sendloop-engine/services/notification"
	"sendloop-engine/services/pricing"
	"sendloop-engine/services/template"
	"sendloop-engine/services/wallet"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	campaigns repository.Repository[Campaign]
	messages  repository.Repository[Message]

	calc      *pricing.Calculator
	wallets   *wallet.Service
	templates *template.Service
	contacts  *contact.Resolver
	enqueuer  task.Enqueuer
	notifier  *notification.Notifier

	grace    time.Duration
	currency string
}

type ServiceParams struct {
	fx.In
	Config    *config.Config
	DB        *gorm.DB
	Node      *snowflake.Node
	Sequence  sequence.Generator
	Calc      *pricing.Calculator
	Wallets   *wallet.Service
	Templates *template.Service
	Contacts  *contact.Resolver
	Enqueuer  task.Enqueuer
	Notifier  *notification.Notifier
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Sequence,
		campaigns: repository.ProvideStore[Campaign](p.DB),
		messages:  repository.ProvideStore[Message](p.DB),
		calc:      p.Calc,
		wallets:   p.Wallets,
		templates: p.Templates,
		contacts:  p.Contacts,
		enqueuer:  p.Enqueuer,
		notifier:  p.Notifier,
		grace:     p.Config.GracePeriod(),
		currency:  p.Config.Currency(),
	}
}

type LaunchInput struct {
	Name          string     `json:"name"`
	TemplateID    string     `json:"template_id"`
	DraftID       string     `json:"draft_id,omitempty"`
	OwnerID       string     `json:"owner_id,omitempty"`
	ScheduleAt    *time.Time `json:"schedule_at,omitempty"`
	International bool       `json:"international,omitempty"`

	Recipients []string `json:"recipients,omitempty"`
	SegmentID  string   `json:"segment_id,omitempty"`
}

type LaunchResult struct {
	Campaign         *Campaign         `json:"campaign"`
	Breakdown        pricing.Breakdown `json:"pricing"`
	TotalCost        int64             `json:"total_cost"`
	RemainingBalance int64             `json:"remaining_balance"`
	Currency         string            `json:"currency"`
}

// Launch prices the audience, charges the wallet and creates the campaign
// with its queued message rows in one transaction. Nothing is written and
// nothing is charged unless every step succeeds. Dispatch itself happens
// asynchronously after commit.
func (s *Service) Launch(ctx context.Context, tenantID string, in LaunchInput) (*LaunchResult, error) {
	if in.Name == "" {
		return nil, errutil.ValidationFailed("campaign name is required",
			errutil.WithDetails(errutil.Detail{Field: "name", Message: "required"}))
	}
	if in.TemplateID == "" {
		return nil, errutil.ValidationFailed("template_id is required",
			errutil.WithDetails(errutil.Detail{Field: "template_id", Message: "required"}))
	}

	tmpl, err := s.templates.Get(ctx, tenantID, in.TemplateID)
	if err != nil {
		return nil, err
	}

	recipients, err := s.resolveAudience(ctx, tenantID, in)
	if err != nil {
		return nil, err
	}
	audience := len(recipients)

	breakdown, err := s.calc.Calculate(tmpl.Category, in.International)
	if err != nil {
		return nil, err
	}
	unitPrice := breakdown.TotalPrice
	totalCost := unitPrice * int64(audience)

	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return nil, errutil.Internal("failed to encode pricing breakdown", errutil.WithErr(err))
	}

	now := time.Now()
	status := StatusActive
	if in.ScheduleAt != nil && in.ScheduleAt.After(now) {
		status = StatusScheduled
	}

	code, err := s.seq.NextCampaignCode(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	c := &Campaign{
		ID:               s.node.Generate().String(),
		Code:             code,
		TenantID:         tenantID,
		OwnerID:          in.OwnerID,
		Name:             in.Name,
		TemplateID:       tmpl.ID,
		Status:           status,
		ScheduleAt:       in.ScheduleAt,
		SegmentID:        in.SegmentID,
		AudienceCount:    audience,
		UnitPrice:        unitPrice,
		TotalCost:        totalCost,
		PricingBreakdown: datatypes.JSON(breakdownJSON),
		TotalMessages:    audience,
	}

	var remaining int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.DraftID != "" {
			if err := s.relaunchDraft(ctx, tx, tenantID, in.DraftID, c); err != nil {
				return err
			}
		} else if err := s.campaigns.WithTrx(tx).Create(ctx, c); err != nil {
			return err
		}

		msgs := make([]*Message, 0, audience)
		for _, recipient := range recipients {
			msgs = append(msgs, &Message{
				ID:         s.node.Generate().String(),
				CampaignID: c.ID,
				TenantID:   tenantID,
				Recipient:  recipient,
				Status:     MessageQueued,
			})
		}
		if err := s.messages.WithTrx(tx).BatchCreate(ctx, msgs); err != nil {
			return err
		}

		// A retried relaunch of the same draft must not charge twice.
		charged, err := s.wallets.HasEntryTx(ctx, tx, tenantID, wallet.ReferenceCampaign, c.ID)
		if err != nil {
			return err
		}
		if !charged {
			if _, err := s.wallets.DebitTx(ctx, tx, tenantID, totalCost, wallet.Reference{
				Type: wallet.ReferenceCampaign,
				ID:   c.ID,
				Metadata: map[string]any{
					"campaign_name": c.Name,
					"unit_price":    unitPrice,
					"audience":      audience,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w, err := s.wallets.Balance(ctx, tenantID); err == nil {
		remaining = w.Balance
	}

	s.scheduleDispatch(ctx, c)
	s.notifier.CampaignLaunched(ctx, notification.CampaignEventPayload{
		TenantID:   tenantID,
		CampaignID: c.ID,
		Name:       c.Name,
		TotalCost:  totalCost,
	})

	zap.L().Info("campaign launched",
		zap.String("tenant_id", tenantID),
		zap.String("campaign_id", c.ID),
		zap.String("status", string(c.Status)),
		zap.Int("audience", audience),
		zap.Int64("total_cost", totalCost),
	)

	return &LaunchResult{
		Campaign:         c,
		Breakdown:        breakdown,
		TotalCost:        totalCost,
		RemainingBalance: remaining,
		Currency:         s.currency,
	}, nil
}

func (s *Service) resolveAudience(ctx context.Context, tenantID string, in LaunchInput) ([]string, error) {
	recipients := in.Recipients
	if len(recipients) == 0 && in.SegmentID != "" {
		var err error
		recipients, err = s.contacts.SegmentRecipients(ctx, tenantID, in.SegmentID)
		if err != nil {
			return nil, err
		}
	}
	if len(recipients) == 0 {
		return nil, errutil.ValidationFailed("campaign audience is empty",
			errutil.WithDetails(errutil.Detail{Field: "recipients", Message: "at least one recipient is required"}))
	}
	return recipients, nil
}

// relaunchDraft reuses an existing draft row instead of inserting a new
// campaign. The draft→launch transition is conditional so two concurrent
// launches of the same draft cannot both win.
func (s *Service) relaunchDraft(ctx context.Context, tx *gorm.DB, tenantID, draftID string, c *Campaign) error {
	draft, err := s.campaigns.WithTrx(tx).FindOne(ctx, &Campaign{ID: draftID, TenantID: tenantID})
	if err != nil {
		return err
	}
	if draft == nil {
		return errutil.NotFound("draft campaign not found")
	}
	if draft.Status != StatusDraft {
		return errutil.BadRequest(fmt.Sprintf("campaign is %s, only drafts can be launched", draft.Status))
	}

	c.ID = draft.ID
	c.Code = draft.Code
	c.CreatedAt = time.Now()

	matched, err := s.campaigns.WithTrx(tx).UpdateMatched(ctx,
		&Campaign{ID: draft.ID, Status: StatusDraft},
		map[string]any{
			"name":              c.Name,
			"owner_id":          c.OwnerID,
			"template_id":       c.TemplateID,
			"status":            c.Status,
			"schedule_at":       c.ScheduleAt,
			"segment_id":        c.SegmentID,
			"audience_count":    c.AudienceCount,
			"unit_price":        c.UnitPrice,
			"total_cost":        c.TotalCost,
			"pricing_breakdown": c.PricingBreakdown,
			"total_messages":    c.TotalMessages,
			"created_at":        c.CreatedAt,
		})
	if err != nil {
		return err
	}
	if matched == 0 {
		return errutil.Conflict("draft was launched concurrently")
	}
	return nil
}

// scheduleDispatch enqueues the post-commit follow-up work. Failures are
// logged, not returned: the campaign row and the charge already committed,
// and the dispatcher re-enqueue path will pick the campaign up again.
func (s *Service) scheduleDispatch(ctx context.Context, c *Campaign) {
	var (
		t   *asynq.Task
		err error
	)
	if c.Status == StatusScheduled && c.ScheduleAt != nil {
		t, err = NewActivateTask(ActivatePayload{CampaignID: c.ID, TenantID: c.TenantID}, *c.ScheduleAt)
	} else {
		t, err = NewDispatchTask(DispatchPayload{CampaignID: c.ID, TenantID: c.TenantID})
	}
	if err == nil {
		_, err = s.enqueuer.Enqueue(ctx, t)
	}
	if err != nil {
		zap.L().Error("failed to enqueue campaign dispatch",
			zap.String("campaign_id", c.ID),
			zap.Error(err),
		)
	}
}

type CancelResult struct {
	Campaign     *Campaign `json:"campaign"`
	RefundAmount int64     `json:"refund_amount"`
	NewBalance   int64     `json:"new_balance"`
	Currency     string    `json:"currency"`
}

// Cancel stops a campaign and refunds the unsent portion. The status flip
// and the wallet credit commit in the same transaction, so a cancelled
// campaign without its refund cannot be observed.
func (s *Service) Cancel(ctx context.Context, tenantID, campaignID string) (*CancelResult, error) {
	var (
		c      *Campaign
		refund int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = s.campaigns.WithTrx(tx).FindOne(ctx,
			&Campaign{ID: campaignID, TenantID: tenantID},
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}
		if c == nil {
			return errutil.NotFound("campaign not found")
		}

		now := time.Now()
		switch c.Status {
		case StatusScheduled:
		case StatusActive:
			if !c.InGracePeriod(now, s.grace) && c.SentCount > 0 {
				return errutil.BadRequest("campaign is already sending and past its grace period")
			}
		case StatusPaused:
		default:
			return errutil.BadRequest(fmt.Sprintf("campaign is already %s", c.Status))
		}

		if c.SentCount == 0 {
			refund = c.TotalCost
		} else {
			refund = int64(c.TotalMessages-c.SentCount) * c.UnitPrice
		}

		res := tx.Model(&Campaign{}).
			Where("id = ? AND status = ?", c.ID, c.Status).
			Updates(map[string]any{
				"status":       StatusCancelled,
				"cancelled_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("campaign state changed concurrently, retry")
		}
		c.Status = StatusCancelled
		c.CancelledAt = &now

		if refund > 0 {
			if _, err := s.wallets.CreditTx(ctx, tx, tenantID, refund, wallet.Reference{
				Type: wallet.ReferenceCampaignRefund,
				ID:   c.ID,
				Metadata: map[string]any{
					"sent_count":     c.SentCount,
					"total_messages": c.TotalMessages,
					"unit_price":     c.UnitPrice,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var balance int64
	if w, err := s.wallets.Balance(ctx, tenantID); err == nil {
		balance = w.Balance
	}

	s.notifier.CampaignCancelled(ctx, notification.CampaignEventPayload{
		TenantID:   tenantID,
		CampaignID: c.ID,
		Name:       c.Name,
		Refund:     refund,
	})

	zap.L().Info("campaign cancelled",
		zap.String("tenant_id", tenantID),
		zap.String("campaign_id", c.ID),
		zap.Int64("refund", refund),
	)

	return &CancelResult{
		Campaign:     c,
		RefundAmount: refund,
		NewBalance:   balance,
		Currency:     s.currency,
	}, nil
}

// Pause suspends dispatch of an active campaign. Pausing inside the grace
// period is rejected because cancel still gives a full refund there, and
// pausing while the worker holds the dispatch claim is rejected to avoid
// racing a batch in flight.
func (s *Service) Pause(ctx context.Context, tenantID, campaignID string) (*Campaign, error) {
	c, err := s.getOwned(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if c.Status != StatusActive {
		return nil, errutil.BadRequest(fmt.Sprintf("campaign is %s, only active campaigns can be paused", c.Status))
	}
	if c.InGracePeriod(now, s.grace) {
		return nil, errutil.BadRequest("use cancel instead; nothing has been confirmed as started")
	}
	if c.Processing {
		return nil, errutil.BadRequest("currently dispatching; retry shortly")
	}

	matched := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ? AND status = ? AND processing = ?", c.ID, StatusActive, false).
		Updates(map[string]any{"status": StatusPaused, "paused_at": now})
	if matched.Error != nil {
		return nil, matched.Error
	}
	if matched.RowsAffected == 0 {
		return nil, errutil.Conflict("campaign state changed concurrently, retry")
	}

	c.Status = StatusPaused
	c.PausedAt = &now
	zap.L().Info("campaign paused", zap.String("campaign_id", c.ID))
	return c, nil
}

// Resume reactivates a paused campaign and re-enqueues dispatch.
func (s *Service) Resume(ctx context.Context, tenantID, campaignID string) (*Campaign, error) {
	c, err := s.getOwned(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPaused {
		return nil, errutil.BadRequest(fmt.Sprintf("campaign is %s, only paused campaigns can be resumed", c.Status))
	}

	now := time.Now()
	matched, err := s.campaigns.UpdateMatched(ctx,
		&Campaign{ID: c.ID, Status: StatusPaused},
		map[string]any{"status": StatusActive, "resumed_at": now})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, errutil.Conflict("campaign state changed concurrently, retry")
	}

	c.Status = StatusActive
	c.ResumedAt = &now
	s.scheduleDispatch(ctx, c)
	zap.L().Info("campaign resumed", zap.String("campaign_id", c.ID))
	return c, nil
}

// Activate flips a scheduled campaign to active when its schedule time
// arrives. A campaign cancelled in the meantime is left alone.
func (s *Service) Activate(ctx context.Context, tenantID, campaignID string) error {
	matched, err := s.campaigns.UpdateMatched(ctx,
		&Campaign{ID: campaignID, TenantID: tenantID, Status: StatusScheduled},
		map[string]any{"status": StatusActive})
	if err != nil {
		return err
	}
	if matched == 0 {
		zap.L().Info("scheduled campaign no longer activatable, skipping",
			zap.String("campaign_id", campaignID))
		return nil
	}

	s.scheduleDispatch(ctx, &Campaign{ID: campaignID, TenantID: tenantID, Status: StatusActive})
	return nil
}

// HandleActivateTask is the asynq consumer for scheduled activations.
func (s *Service) HandleActivateTask(ctx context.Context, t *asynq.Task) error {
	var p ActivatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid activate payload: %w", err)
	}
	return s.Activate(ctx, p.TenantID, p.CampaignID)
}

type StatusView struct {
	Campaign         *Campaign `json:"campaign"`
	IsInGracePeriod  bool      `json:"is_in_grace_period"`
	GraceRemainingMS int64     `json:"grace_remaining_ms"`
}

// Status returns the campaign with its grace-window position so clients
// can show whether a free cancel is still possible.
func (s *Service) Status(ctx context.Context, tenantID, campaignID string) (*StatusView, error) {
	c, err := s.getOwned(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &StatusView{
		Campaign:         c,
		IsInGracePeriod:  c.InGracePeriod(now, s.grace),
		GraceRemainingMS: c.GraceRemaining(now, s.grace).Milliseconds(),
	}, nil
}

// List returns the tenant's campaigns, newest first.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*Campaign, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.campaigns.Find(ctx, &Campaign{TenantID: tenantID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(limit),
	)
}

// SaveDraft stores a campaign shell without pricing or charging it.
func (s *Service) SaveDraft(ctx context.Context, tenantID string, in LaunchInput) (*Campaign, error) {
	if in.Name == "" {
		return nil, errutil.ValidationFailed("campaign name is required",
			errutil.WithDetails(errutil.Detail{Field: "name", Message: "required"}))
	}
	code, err := s.seq.NextCampaignCode(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c := &Campaign{
		ID:         s.node.Generate().String(),
		Code:       code,
		TenantID:   tenantID,
		OwnerID:    in.OwnerID,
		Name:       in.Name,
		TemplateID: in.TemplateID,
		Status:     StatusDraft,
		ScheduleAt: in.ScheduleAt,
		SegmentID:  in.SegmentID,
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) getOwned(ctx context.Context, tenantID, campaignID string) (*Campaign, error) {
	c, err := s.campaigns.FindOne(ctx, &Campaign{ID: campaignID, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found")
	}
	return c, nil
}
