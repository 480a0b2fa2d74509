package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/broadcastsvc"
	"github.com/safehorizon/pipeline/internal/httpx"
	"github.com/safehorizon/pipeline/internal/models"
)

// BroadcastHandler serves the authority-only /api/broadcast/* endpoints and
// the tourist-side acknowledgment endpoint (spec §4.7/§6.1).
type BroadcastHandler struct {
	dispatcher *broadcastsvc.Dispatcher
	logger     *zap.Logger
}

func NewBroadcastHandler(d *broadcastsvc.Dispatcher, logger *zap.Logger) *BroadcastHandler {
	return &BroadcastHandler{dispatcher: d, logger: logger}
}

type broadcastBody struct {
	CenterLat float64    `json:"center_lat"`
	CenterLon float64    `json:"center_lon"`
	RadiusKM  float64    `json:"radius_km"`
	ZoneID    string     `json:"zone_id"`
	North     float64    `json:"bounds_north"`
	South     float64    `json:"bounds_south"`
	East      float64    `json:"bounds_east"`
	West      float64    `json:"bounds_west"`
	Title     string     `json:"title" binding:"required"`
	Message   string     `json:"message" binding:"required"`
	Severity  string     `json:"severity"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// handle dispatches one of POST /api/broadcast/{radius|zone|region|all}; the
// targeting type is fixed per route by the HandleRadius/HandleZone/
// HandleRegion/HandleAll wrappers.
func (h *BroadcastHandler) handle(broadcastType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := httpx.Claims(c)
		var body broadcastBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
			return
		}
		if body.Severity == "" {
			body.Severity = models.SeverityMedium
		}
		req := broadcastsvc.Request{
			Type:      broadcastType,
			CenterLat: body.CenterLat,
			CenterLon: body.CenterLon,
			RadiusKM:  body.RadiusKM,
			ZoneID:    body.ZoneID,
			North:     body.North,
			South:     body.South,
			East:      body.East,
			West:      body.West,
			Title:     body.Title,
			Message:   body.Message,
			Severity:  body.Severity,
			SenderID:  claims.Subject,
			ExpiresAt: body.ExpiresAt,
		}
		b, err := h.dispatcher.Dispatch(c.Request.Context(), req)
		if err != nil {
			httpx.WriteError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

func (h *BroadcastHandler) HandleRadius(c *gin.Context) { h.handle(models.BroadcastRadius)(c) }
func (h *BroadcastHandler) HandleZone(c *gin.Context)   { h.handle(models.BroadcastZone)(c) }
func (h *BroadcastHandler) HandleRegion(c *gin.Context) { h.handle(models.BroadcastRegion)(c) }
func (h *BroadcastHandler) HandleAll(c *gin.Context)    { h.handle(models.BroadcastAll)(c) }

type ackBody struct {
	BroadcastID string   `json:"broadcast_id" binding:"required"`
	Status      string   `json:"status" binding:"required"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Notes       string   `json:"notes"`
}

// HandleAcknowledge implements the tourist-side broadcast-acknowledgment
// endpoint (spec §4.7 "Acknowledgment").
func (h *BroadcastHandler) HandleAcknowledge(c *gin.Context) {
	claims := httpx.Claims(c)
	var body ackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}
	ack := &models.BroadcastAck{
		BroadcastID: body.BroadcastID,
		TouristID:   claims.Subject,
		Status:      body.Status,
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		Notes:       body.Notes,
	}
	created, err := h.dispatcher.Acknowledge(c.Request.Context(), ack)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true, "counted": created})
}
