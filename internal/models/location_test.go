package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validLocation() *Location {
	return &Location{
		TouristID:       "tourist-1",
		Latitude:        12.97,
		Longitude:       77.59,
		Accuracy:        15,
		ClientTimestamp: time.Now(),
	}
}

func TestLocationValidate(t *testing.T) {
	t.Run("accepts a well-formed sample", func(t *testing.T) {
		assert.NoError(t, validLocation().Validate())
	})

	t.Run("rejects missing tourist id", func(t *testing.T) {
		l := validLocation()
		l.TouristID = ""
		assert.Error(t, l.Validate())
	})

	t.Run("rejects out-of-range latitude", func(t *testing.T) {
		l := validLocation()
		l.Latitude = 91
		assert.Error(t, l.Validate())
	})

	t.Run("rejects out-of-range longitude", func(t *testing.T) {
		l := validLocation()
		l.Longitude = -181
		assert.Error(t, l.Validate())
	})

	t.Run("rejects negative accuracy", func(t *testing.T) {
		l := validLocation()
		l.Accuracy = -1
		assert.Error(t, l.Validate())
	})

	t.Run("rejects accuracy beyond the ceiling", func(t *testing.T) {
		l := validLocation()
		l.Accuracy = MaxAccuracy + 1
		assert.Error(t, l.Validate())
	})

	t.Run("rejects negative speed", func(t *testing.T) {
		l := validLocation()
		s := -5.0
		l.Speed = &s
		assert.Error(t, l.Validate())
	})

	t.Run("rejects zero client timestamp", func(t *testing.T) {
		l := validLocation()
		l.ClientTimestamp = time.Time{}
		assert.Error(t, l.Validate())
	})
}

func TestLocationClockSkew(t *testing.T) {
	now := time.Now()
	l := &Location{ClientTimestamp: now, ServerIngestTime: now.Add(10 * time.Second)}
	assert.False(t, l.ClockSkew(30*time.Second))
	assert.True(t, l.ClockSkew(5*time.Second))

	// Skew is measured as an absolute delta regardless of direction.
	l2 := &Location{ClientTimestamp: now.Add(10 * time.Second), ServerIngestTime: now}
	assert.True(t, l2.ClockSkew(5*time.Second))
}
