package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/httpx"
	"github.com/safehorizon/pipeline/internal/repository"
)

// publicStore is the subset of internal/repository the public handler needs.
type publicStore interface {
	PublicPanicAlerts(ctx context.Context, limit, hoursBack int, showResolved bool) ([]repository.PublicPanicAlertRow, error)
}

// PublicHandler serves the unauthenticated GET /api/public/panic-alerts feed
// (spec §6.1).
type PublicHandler struct {
	store  publicStore
	logger *zap.Logger
}

func NewPublicHandler(store publicStore, logger *zap.Logger) *PublicHandler {
	return &PublicHandler{store: store, logger: logger}
}

// HandlePanicAlerts implements GET /api/public/panic-alerts?limit=&hours_back=&show_resolved=.
func (h *PublicHandler) HandlePanicAlerts(c *gin.Context) {
	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	hoursBack := 24
	if v, err := strconv.Atoi(c.Query("hours_back")); err == nil && v > 0 && v <= 24*30 {
		hoursBack = v
	}
	showResolved := c.Query("show_resolved") == "true"

	rows, err := h.store.PublicPanicAlerts(c.Request.Context(), limit, hoursBack, showResolved)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": rows})
}
