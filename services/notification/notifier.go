package notification

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"sendloop-engine/pkg/task"
	"sendloop-engine/pkg/taskname"
)

var Module = fx.Module("notification.service",
	fx.Provide(NewNotifier),
)

type CampaignEventPayload struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	TotalCost  int64  `json:"total_cost,omitempty"`
	Refund     int64  `json:"refund,omitempty"`
}

// Notifier enqueues user-facing notifications. Every call is best-effort:
// enqueue failures are logged and never returned, so they cannot roll back
// the billing operation that triggered them.
type Notifier struct {
	enqueuer task.Enqueuer
}

type NotifierParams struct {
	fx.In
	Enqueuer task.Enqueuer
}

func NewNotifier(p NotifierParams) *Notifier {
	return &Notifier{enqueuer: p.Enqueuer}
}

func (n *Notifier) CampaignLaunched(ctx context.Context, p CampaignEventPayload) {
	n.fire(ctx, taskname.CampaignLaunched, p)
}

func (n *Notifier) CampaignCancelled(ctx context.Context, p CampaignEventPayload) {
	n.fire(ctx, taskname.CampaignCancelled, p)
}

func (n *Notifier) fire(ctx context.Context, taskType string, p CampaignEventPayload) {
	payload, err := json.Marshal(p)
	if err != nil {
		zap.L().Warn("failed to marshal notification payload", zap.String("task_type", taskType), zap.Error(err))
		return
	}

	if _, err := n.enqueuer.Enqueue(ctx, asynq.NewTask(taskType, payload, asynq.Queue(task.QueueLow))); err != nil {
		zap.L().Warn("failed to enqueue notification",
			zap.String("task_type", taskType),
			zap.String("campaign_id", p.CampaignID),
			zap.Error(err),
		)
	}
}

// HandleCampaignEvent is the dispatcher-side consumer. Delivery of the
// actual email/in-app notice is owned by the notification platform; here we
// only record the event.
func HandleCampaignEvent(ctx context.Context, t *asynq.Task) error {
	var p CampaignEventPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	zap.L().Info("campaign notification",
		zap.String("task_type", t.Type()),
		zap.String("tenant_id", p.TenantID),
		zap.String("campaign_id", p.CampaignID),
		zap.String("name", p.Name),
	)
	return nil
}
