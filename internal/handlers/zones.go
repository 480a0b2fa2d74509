package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/httpx"
	"github.com/safehorizon/pipeline/internal/models"
)

// zoneStore is the subset of internal/repository the zone handler needs.
type zoneStore interface {
	CreateZone(ctx context.Context, z *models.Zone) error
}

// ZoneHandler serves the authority-only zone creation endpoint backing
// Broadcast Dispatcher's zone targeting and the Geofence Index (spec §4.1/§4.7).
type ZoneHandler struct {
	store  zoneStore
	logger *zap.Logger
}

func NewZoneHandler(store zoneStore, logger *zap.Logger) *ZoneHandler {
	return &ZoneHandler{store: store, logger: logger}
}

type createZoneBody struct {
	Name            string       `json:"name" binding:"required"`
	Type            string       `json:"type" binding:"required"`
	CenterLat       float64      `json:"center_lat" binding:"required"`
	CenterLon       float64      `json:"center_lon" binding:"required"`
	RadiusM         *float64     `json:"radius_m"`
	PolygonVertices [][2]float64 `json:"polygon"`
}

// HandleCreate implements the zone-creation endpoint (spec §3 "Zone", §4.1
// "exactly one of disk or polygon").
func (h *ZoneHandler) HandleCreate(c *gin.Context) {
	claims := httpx.Claims(c)
	var body createZoneBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}
	if err := geofence.ValidateZoneParameters(body.Name, body.Type, body.CenterLat, body.CenterLon, body.RadiusM); err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	z := &models.Zone{
		ID:              uuid.NewString(),
		Name:            body.Name,
		Type:            body.Type,
		CenterLat:       body.CenterLat,
		CenterLon:       body.CenterLon,
		RadiusM:         body.RadiusM,
		PolygonVertices: body.PolygonVertices,
		CreatorID:       claims.Subject,
	}
	if err := z.ValidateShape(); err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	if err := h.store.CreateZone(c.Request.Context(), z); err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, z)
}
