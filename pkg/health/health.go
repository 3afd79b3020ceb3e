package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(NewChecker),
	fx.Invoke(registerRoutes),
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Report struct {
	Status string       `json:"status"`
	Deps   []Dependency `json:"deps,omitempty"`
}

// Checker answers liveness and readiness probes. Liveness never touches a
// dependency; readiness pings whatever was wired in.
type Checker struct {
	db    *gorm.DB
	redis *redis.Client
}

type Params struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func NewChecker(p Params) *Checker {
	return &Checker{db: p.DB, redis: p.Redis}
}

func (h *Checker) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, Report{Status: "ok"})
}

func (h *Checker) Readiness(c *gin.Context) {
	report := Report{Status: "ok"}
	code := http.StatusOK

	if h.db != nil {
		dep := Dependency{Name: "database", Status: "ok"}
		if sql, err := h.db.DB(); err != nil {
			dep.Status, dep.Message = "unavailable", err.Error()
		} else if err := sql.PingContext(c.Request.Context()); err != nil {
			dep.Status, dep.Message = "unavailable", err.Error()
		}
		report.Deps = append(report.Deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: "ok"}
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			dep.Status, dep.Message = "unavailable", err.Error()
		}
		report.Deps = append(report.Deps, dep)
	}

	for _, dep := range report.Deps {
		if dep.Status != "ok" {
			report.Status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, report)
}

func registerRoutes(engine *gin.Engine, checker *Checker) {
	engine.GET("/livez", checker.Liveness)
	engine.GET("/readyz", checker.Readiness)
}
