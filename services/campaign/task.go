package campaign

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"sendloop-engine/pkg/task"
	"sendloop-engine/pkg/taskname"
)

// DispatchPayload asks the dispatch worker to (re)claim a campaign and
// push the next batch of queued messages.
type DispatchPayload struct {
	CampaignID string `json:"campaign_id"`
	TenantID   string `json:"tenant_id"`
}

func NewDispatchTask(p DispatchPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.CampaignDispatch, b, asynq.Queue(task.QueueCritical)), nil
}

// ActivatePayload flips a scheduled campaign to active at its schedule
// time and kicks off dispatch.
type ActivatePayload struct {
	CampaignID string `json:"campaign_id"`
	TenantID   string `json:"tenant_id"`
}

func NewActivateTask(p ActivatePayload, at time.Time) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.CampaignActivate, b,
		asynq.Queue(task.QueueDefault), asynq.ProcessAt(at)), nil
}

// ReconcilePayload carries a webhook batch of provider delivery events.
type ReconcilePayload struct {
	Events []DeliveryEvent `json:"events"`
}

func NewReconcileTask(p ReconcilePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.DeliveryReconcile, b, asynq.Queue(task.QueueCritical)), nil
}
