package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTouristTimezoneFallsBackToUTC(t *testing.T) {
	logger := zap.NewNop()
	assert.Equal(t, time.UTC, touristTimezone("", logger))
	assert.Equal(t, time.UTC, touristTimezone("UTC", logger))
	assert.Equal(t, time.UTC, touristTimezone("Not/AZone", logger))
}

func TestTouristTimezoneResolvesIANAName(t *testing.T) {
	loc := touristTimezone("Asia/Kolkata", zap.NewNop())
	assert.Equal(t, "Asia/Kolkata", loc.String())
}
