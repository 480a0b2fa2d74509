package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/efir"
	"github.com/safehorizon/pipeline/internal/httpx"
	"github.com/safehorizon/pipeline/internal/models"
)

// efirStore is the subset of internal/repository the E-FIR handler needs
// beyond the Issuer it already wraps.
type efirStore interface {
	GetTourist(ctx context.Context, id string) (*models.Tourist, error)
	GetAuthority(ctx context.Context, id string) (*models.Authority, error)
}

// EFIRHandler serves POST /api/efir/generate and GET /api/efir/verify/{tx_id}
// (spec §4.8/§6.1).
type EFIRHandler struct {
	issuer *efir.Issuer
	store  efirStore
	logger *zap.Logger
}

func NewEFIRHandler(issuer *efir.Issuer, store efirStore, logger *zap.Logger) *EFIRHandler {
	return &EFIRHandler{issuer: issuer, store: store, logger: logger}
}

type generateBody struct {
	AlertID           int64     `json:"alert_id" binding:"required"`
	TouristID         string    `json:"tourist_id"`
	Description       string    `json:"description" binding:"required"`
	Latitude          float64   `json:"latitude" binding:"required"`
	Longitude         float64   `json:"longitude" binding:"required"`
	Witnesses         []string  `json:"witnesses"`
	Evidence          []string  `json:"evidence"`
	IncidentTimestamp time.Time `json:"incident_timestamp"`
}

// HandleGenerate implements POST /api/efir/generate (spec §4.8 step 1-5).
func (h *EFIRHandler) HandleGenerate(c *gin.Context) {
	claims := httpx.Claims(c)
	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}
	if body.IncidentTimestamp.IsZero() {
		body.IncidentTimestamp = time.Now().UTC()
	}

	source := models.EFIRSourceAuthority
	var touristSnapshot models.Tourist
	var officerSnapshot *models.Authority
	if claims.Role == models.RoleTourist {
		source = models.EFIRSourceTourist
		t, err := h.store.GetTourist(c.Request.Context(), claims.Subject)
		if err != nil {
			httpx.WriteError(c, h.logger, err)
			return
		}
		touristSnapshot = *t
	} else {
		a, err := h.store.GetAuthority(c.Request.Context(), claims.Subject)
		if err != nil {
			httpx.WriteError(c, h.logger, err)
			return
		}
		officerSnapshot = a
		if body.TouristID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "tourist_id is required when an authority files the report"})
			return
		}
		t, err := h.store.GetTourist(c.Request.Context(), body.TouristID)
		if err != nil {
			httpx.WriteError(c, h.logger, err)
			return
		}
		touristSnapshot = *t
	}

	record, err := h.issuer.Issue(c.Request.Context(), efir.Payload{
		AlertID:           body.AlertID,
		TouristSnapshot:   touristSnapshot,
		OfficerSnapshot:   officerSnapshot,
		Source:            source,
		Description:       body.Description,
		Latitude:          body.Latitude,
		Longitude:         body.Longitude,
		Witnesses:         body.Witnesses,
		Evidence:          body.Evidence,
		IncidentTimestamp: body.IncidentTimestamp,
	})
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// HandleVerify implements GET /api/efir/verify/{tx_id} (spec §4.8
// "Immutability").
func (h *EFIRHandler) HandleVerify(c *gin.Context) {
	txID := c.Param("tx_id")
	result, err := h.issuer.Verify(c.Request.Context(), txID)
	if err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
