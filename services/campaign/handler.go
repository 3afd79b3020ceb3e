package campaign

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sendloop-engine/pkg/errutil"
	"sendloop-engine/pkg/middleware"
	"sendloop-engine/pkg/task"
)

type Handler struct {
	service    *Service
	reconciler *Reconciler
	enqueuer   task.Enqueuer
}

func NewHandler(service *Service, reconciler *Reconciler, enqueuer task.Enqueuer) *Handler {
	return &Handler{service: service, reconciler: reconciler, enqueuer: enqueuer}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/campaigns", middleware.RequireTenant())
	g.POST("", h.CreateDraft)
	g.GET("", h.List)
	g.POST("/launch", h.Launch)
	g.GET("/:id/status", h.Status)
	g.POST("/:id/cancel", h.Cancel)
	g.PATCH("/:id/status", h.UpdateStatus)

	// Provider callback; authenticated by the provider's signature at the
	// edge, not by tenant headers.
	r.POST("/v1/webhooks/delivery", h.DeliveryWebhook)
}

func (h *Handler) CreateDraft(c *gin.Context) {
	var in LaunchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid campaign payload", errutil.WithErr(err)))
		return
	}

	draft, err := h.service.SaveDraft(c.Request.Context(), middleware.TenantID(c), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"campaign": draft})
}

func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	campaigns, err := h.service.List(c.Request.Context(), middleware.TenantID(c), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": campaigns})
}

func (h *Handler) Launch(c *gin.Context) {
	var in LaunchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid launch payload", errutil.WithErr(err)))
		return
	}

	result, err := h.service.Launch(c.Request.Context(), middleware.TenantID(c), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Status(c *gin.Context) {
	view, err := h.service.Status(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Cancel(c *gin.Context) {
	result, err := h.service.Cancel(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type updateStatusRequest struct {
	Status Status `json:"status" binding:"required"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("status is required", errutil.WithErr(err)))
		return
	}

	var (
		campaign *Campaign
		err      error
	)
	switch req.Status {
	case StatusPaused:
		campaign, err = h.service.Pause(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	case StatusActive:
		campaign, err = h.service.Resume(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	default:
		err = errutil.BadRequest("status must be \"paused\" or \"active\"")
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign": campaign})
}

// DeliveryWebhook accepts a provider batch of {id, status} events and hands
// it to the reconcile queue. The reconciler is idempotent, so provider
// retries of the same batch are harmless.
func (h *Handler) DeliveryWebhook(c *gin.Context) {
	var events []DeliveryEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid delivery payload", errutil.WithErr(err)))
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusOK, gin.H{"accepted": 0})
		return
	}

	t, err := NewReconcileTask(ReconcilePayload{Events: events})
	if err == nil {
		_, err = h.enqueuer.Enqueue(c.Request.Context(), t)
	}
	if err != nil {
		// Queue unavailable: reconcile inline rather than dropping events.
		zap.L().Warn("reconcile enqueue failed, processing inline", zap.Error(err))
		if err := h.reconciler.Process(c.Request.Context(), events); err != nil {
			_ = c.Error(err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"accepted": len(events)})
}
