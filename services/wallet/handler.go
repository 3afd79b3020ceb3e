package wallet

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sendloop-engine/pkg/db/pagination"
	"sendloop-engine/pkg/errutil"
	"sendloop-engine/pkg/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/wallet", middleware.RequireTenant())
	g.GET("", h.GetBalance)
	g.GET("/transactions", h.ListTransactions)
	g.POST("/topup", h.TopUp)
}

func (h *Handler) GetBalance(c *gin.Context) {
	w, err := h.service.Balance(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": w.TenantID,
		"balance":   w.Balance,
		"currency":  w.Currency,
	})
}

func (h *Handler) ListTransactions(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid pagination parameters", errutil.WithErr(err)))
		return
	}

	txns, info, err := h.service.ListTransactionsPage(c.Request.Context(), middleware.TenantID(c), TransactionFilter{
		ReferenceType: c.Query("reference_type"),
		ReferenceID:   c.Query("reference_id"),
	}, page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txns, "page_info": info})
}

type topUpRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Note   string `json:"note"`
}

func (h *Handler) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("amount must be a positive integer", errutil.WithErr(err)))
		return
	}

	txn, err := h.service.Credit(c.Request.Context(), middleware.TenantID(c), req.Amount, Reference{
		Type:     ReferenceManual,
		Metadata: map[string]any{"note": req.Note},
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	w, err := h.service.Balance(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": txn,
		"balance":     w.Balance,
		"currency":    w.Currency,
	})
}
