package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertValidateLifecycle(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Minute)

	t.Run("unacknowledged, unresolved alert is valid", func(t *testing.T) {
		a := &Alert{}
		assert.NoError(t, a.ValidateLifecycle())
	})

	t.Run("acknowledged then resolved is valid", func(t *testing.T) {
		a := &Alert{AcknowledgedAt: &earlier, ResolvedAt: &now}
		assert.NoError(t, a.ValidateLifecycle())
	})

	t.Run("resolved without acknowledgment is rejected", func(t *testing.T) {
		a := &Alert{ResolvedAt: &now}
		assert.Error(t, a.ValidateLifecycle())
	})

	t.Run("acknowledged after resolved is rejected", func(t *testing.T) {
		a := &Alert{AcknowledgedAt: &now, ResolvedAt: &earlier}
		assert.Error(t, a.ValidateLifecycle())
	})
}

func TestSeverityWeight(t *testing.T) {
	assert.Equal(t, 4, SeverityWeight(SeverityCritical))
	assert.Equal(t, 3, SeverityWeight(SeverityHigh))
	assert.Equal(t, 2, SeverityWeight(SeverityMedium))
	assert.Equal(t, 1, SeverityWeight(SeverityLow))
	assert.Equal(t, 0, SeverityWeight("unknown"))
}
