package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/httpx"
	"github.com/safehorizon/pipeline/internal/models"
)

// deviceStore is the subset of internal/repository the device-registration
// handler needs.
type deviceStore interface {
	RegisterDevice(ctx context.Context, d *models.DeviceRegistration) error
}

// DeviceHandler serves the tourist-side push-token registration endpoint
// backing the Broadcast Dispatcher's push delivery leg (spec §4.7/§6.4).
type DeviceHandler struct {
	store  deviceStore
	logger *zap.Logger
}

func NewDeviceHandler(store deviceStore, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{store: store, logger: logger}
}

type registerDeviceBody struct {
	PushToken string `json:"push_token" binding:"required"`
	Platform  string `json:"platform" binding:"required"`
}

// HandleRegister implements the device-registration endpoint.
func (h *DeviceHandler) HandleRegister(c *gin.Context) {
	claims := httpx.Claims(c)
	var body registerDeviceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}
	if body.Platform != models.PlatformIOS && body.Platform != models.PlatformAndroid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "platform must be ios or android"})
		return
	}
	d := &models.DeviceRegistration{TouristID: claims.Subject, PushToken: body.PushToken, Platform: body.Platform}
	if err := h.store.RegisterDevice(c.Request.Context(), d); err != nil {
		httpx.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": true})
}
