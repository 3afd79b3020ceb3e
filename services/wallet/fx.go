package wallet

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(NewService, NewHandler),
)

var Routes = fx.Module("wallet.routes",
	fx.Invoke(registerRoutes),
)

func registerRoutes(engine *gin.Engine, handler *Handler) {
	handler.Register(engine)
}
