package campaign

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("campaign.service",
	fx.Provide(NewService, NewReconciler, NewHandler),
)

var Routes = fx.Module("campaign.routes",
	fx.Invoke(registerRoutes),
)

func registerRoutes(engine *gin.Engine, handler *Handler) {
	handler.Register(engine)
}
