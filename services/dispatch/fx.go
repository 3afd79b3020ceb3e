package dispatch

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"sendloop-engine/pkg/taskname"
	"sendloop-engine/services/campaign"
	"sendloop-engine/services/notification"
)

var Module = fx.Module("dispatch.worker",
	fx.Provide(NewLogSender, NewWorker),
)

var Handlers = fx.Module("dispatch.handlers",
	fx.Invoke(registerHandlers),
)

func registerHandlers(
	mux *asynq.ServeMux,
	worker *Worker,
	svc *campaign.Service,
	reconciler *campaign.Reconciler,
) {
	mux.HandleFunc(taskname.CampaignDispatch, worker.HandleDispatch)
	mux.HandleFunc(taskname.CampaignActivate, svc.HandleActivateTask)
	mux.HandleFunc(taskname.DeliveryReconcile, reconciler.HandleReconcileTask)
	mux.HandleFunc(taskname.CampaignLaunched, notification.HandleCampaignEvent)
	mux.HandleFunc(taskname.CampaignCancelled, notification.HandleCampaignEvent)
}
