// Package handlers implements the spec §6.1 HTTP/JSON endpoints over gin,
// grounded on the teacher's internal/handlers/location.go handler-struct
// shape (service reference + logger, ShouldBindJSON, gin.H responses)
// generalized from dog-walk tracking to SafeHorizon's ingest/alert/broadcast/
// efir operations.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/alerts"
	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/httpx"
	"github.com/safehorizon/pipeline/internal/ingest"
	"github.com/safehorizon/pipeline/internal/models"
)

// locationStore is the subset of internal/repository the location handlers
// depend on directly (beyond what Ingestor/Generator already wrap).
type locationStore interface {
	GetTourist(ctx context.Context, id string) (*models.Tourist, error)
	NearbyAlerts(ctx context.Context, lat, lon float64, since time.Time, radiusKM float64) ([]models.Alert, error)
}

// LocationHandler serves /api/location/* and /api/sos/trigger (spec §6.1).
type LocationHandler struct {
	ingestor    *ingest.Ingestor
	generator   *alerts.Generator
	geofenceIdx *geofence.Index
	store       locationStore
	logger      *zap.Logger
}

func NewLocationHandler(ingestor *ingest.Ingestor, generator *alerts.Generator, idx *geofence.Index, store locationStore, logger *zap.Logger) *LocationHandler {
	return &LocationHandler{ingestor: ingestor, generator: generator, geofenceIdx: idx, store: store, logger: logger}
}

// updateRequest is the spec §6.1 location/update body.
type updateRequest struct {
	Latitude  float64    `json:"lat" binding:"required"`
	Longitude float64    `json:"lon" binding:"required"`
	Speed     *float64   `json:"speed"`
	Altitude  *float64   `json:"altitude"`
	Accuracy  float64    `json:"accuracy"`
	Timestamp *time.Time `json:"timestamp"`
}

// HandleLocationUpdate implements POST /api/location/update (spec §6.1).
func (h *LocationHandler) HandleLocationUpdate(c *gin.Context) {
	claims := httpx.Claims(c)
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	sample := models.Location{
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Speed:           req.Speed,
		Altitude:        req.Altitude,
		Accuracy:        req.Accuracy,
		ClientTimestamp: ts,
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), claims.Subject, sample)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}

	resp := gin.H{
		"location_id":  result.LocationID,
		"safety_score": result.SafetyScore,
		"risk_level":   result.RiskLevel,
	}
	if result.AlertTriggered {
		resp["alert_triggered"] = true
		resp["alert_id"] = result.AlertID
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSOSTrigger implements POST /api/sos/trigger (spec §6.1): creates a
// panic alert at the tourist's current last_location.
func (h *LocationHandler) HandleSOSTrigger(c *gin.Context) {
	claims := httpx.Claims(c)
	tourist, err := h.store.GetTourist(c.Request.Context(), claims.Subject)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	if !tourist.HasLastLocation() {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "detail": "no known location to attach to SOS"})
		return
	}
	alertID, err := h.generator.TriggerPanic(c.Request.Context(), claims.Subject, *tourist.LastLatitude, *tourist.LastLongitude)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": alertID})
}

// nearbyRisksQuery is the spec §6.1 nearby-risks query shape.
type nearbyRisksQuery struct {
	RadiusKM float64 `form:"radius_km"`
}

// HandleNearbyRisks implements GET /api/location/nearby-risks?radius_km=R
// (spec §6.1): nearby alerts and risky zones with distances.
func (h *LocationHandler) HandleNearbyRisks(c *gin.Context) {
	claims := httpx.Claims(c)
	var q nearbyRisksQuery
	if err := c.ShouldBindQuery(&q); err != nil || q.RadiusKM <= 0 {
		q.RadiusKM = 2
	}

	tourist, err := h.store.GetTourist(c.Request.Context(), claims.Subject)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	if !tourist.HasLastLocation() {
		c.JSON(http.StatusOK, gin.H{"alerts": []any{}, "zones": []any{}})
		return
	}
	lat, lon := *tourist.LastLatitude, *tourist.LastLongitude

	nearbyAlerts, err := h.store.NearbyAlerts(c.Request.Context(), lat, lon, time.Now().Add(-6*time.Hour), q.RadiusKM)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	zones := h.geofenceIdx.Nearby(lat, lon, q.RadiusKM*1000)

	c.JSON(http.StatusOK, gin.H{"alerts": nearbyAlerts, "zones": zones})
}
