// Package httpx maps domain errors onto the spec §7 HTTP error taxonomy and
// provides the correlation-id/structured-log middleware gin handlers share.
//
// Grounded on the teacher's logging conventions (go.uber.org/zap fields
// throughout internal/handlers), generalized into a single mapping function
// instead of per-handler ad hoc status codes.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/auth"
	"github.com/safehorizon/pipeline/internal/models"
)

// isTransient reports whether err is the spec §7 "Transient" class: the
// database or broker is unavailable rather than the request itself being
// invalid. A tripped circuit breaker (internal/repository's withBreaker) and
// raw pgx connection failures both land here so the client gets a 503 and
// retries with backoff instead of a misleading 500.
func isTransient(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08 (connection exception) and 57P03 (cannot_connect_now).
		return pgErr.Code[:2] == "08" || pgErr.Code == "57P03"
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// WriteError maps err onto the spec §7 taxonomy and writes the JSON
// response. For transient and internal errors it reads the correlation id
// that CorrelationMiddleware stored on the gin context, logs it as a
// correlation_id field and returns it in the response body.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	var validation models.ErrValidation
	var conflict models.ErrConflict
	var notFound models.ErrNotFound

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "detail": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "detail": err.Error()})
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "detail": err.Error()})
	case errors.Is(err, auth.ErrWrongRole):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "detail": err.Error()})
	case isTransient(err):
		cid, _ := c.Get(correlationIDKey)
		logger.Warn("transient dependency failure", zap.Error(err), zap.Any("correlation_id", cid))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transient_error", "correlation_id": cid})
	default:
		cid, _ := c.Get(correlationIDKey)
		logger.Error("unhandled internal error", zap.Error(err), zap.Any("correlation_id", cid))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "correlation_id": cid})
	}
}
