// Package notifier defines the push/SMS capability interface of spec §6.4.
// Transport adapters themselves are out of scope per spec §1 ("SMS/push-
// notification transport adapters (named via a capability interface)"); this
// package provides the interface plus a bounded-retry wrapper and a
// logging-only stub implementation for local wiring.
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier is the fire-and-forget capability spec §6.4 names.
type Notifier interface {
	Push(ctx context.Context, deviceToken, title, body string, data map[string]any) error
	SMS(ctx context.Context, phoneNumber, body string) error
}

// maxRetries/backoff match spec §6.4 "bounded retries (3, exponential backoff)".
const maxRetries = 3

// Retrying wraps a Notifier with bounded exponential-backoff retries; legs
// still fail silently from the caller's perspective (spec §4.7/§7: "Push/SMS
// leg failures never fail the originating API call") — callers invoke these
// methods in a goroutine and only log the outcome.
type Retrying struct {
	inner  Notifier
	logger *zap.Logger
}

func NewRetrying(inner Notifier, logger *zap.Logger) *Retrying {
	return &Retrying{inner: inner, logger: logger}
}

func (r *Retrying) Push(ctx context.Context, deviceToken, title, body string, data map[string]any) error {
	return r.withRetry(ctx, "push", func(ctx context.Context) error {
		return r.inner.Push(ctx, deviceToken, title, body, data)
	})
}

func (r *Retrying) SMS(ctx context.Context, phoneNumber, body string) error {
	return r.withRetry(ctx, "sms", func(ctx context.Context) error {
		return r.inner.SMS(ctx, phoneNumber, body)
	})
}

func (r *Retrying) withRetry(ctx context.Context, leg string, fn func(context.Context) error) error {
	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < maxRetries; attempt++ {
		legCtx, cancel := context.WithTimeout(ctx, 10*time.Second) // spec §5 "10s per-leg deadline"
		err := fn(legCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.Warn("notifier leg failed, retrying", zap.String("leg", leg), zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
	}
	r.logger.Error("notifier leg exhausted retries", zap.String("leg", leg), zap.Error(lastErr))
	return lastErr
}

// LoggingStub is a dev/local Notifier that only logs; real push/SMS
// transports are external collaborators per spec §1.
type LoggingStub struct {
	logger *zap.Logger
}

func NewLoggingStub(logger *zap.Logger) *LoggingStub { return &LoggingStub{logger: logger} }

func (s *LoggingStub) Push(ctx context.Context, deviceToken, title, body string, data map[string]any) error {
	s.logger.Info("push notification (stub)", zap.String("device_token", deviceToken), zap.String("title", title))
	return nil
}

func (s *LoggingStub) SMS(ctx context.Context, phoneNumber, body string) error {
	s.logger.Info("sms notification (stub)", zap.String("phone", phoneNumber))
	return nil
}
