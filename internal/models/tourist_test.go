package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTouristHasLastLocation(t *testing.T) {
	t.Run("no coordinates reported yet", func(t *testing.T) {
		tr := &Tourist{}
		assert.False(t, tr.HasLastLocation())
	})

	t.Run("only latitude set is still incomplete", func(t *testing.T) {
		lat := 1.0
		tr := &Tourist{LastLatitude: &lat}
		assert.False(t, tr.HasLastLocation())
	})

	t.Run("both coordinates set", func(t *testing.T) {
		lat, lon := 1.0, 2.0
		tr := &Tourist{LastLatitude: &lat, LastLongitude: &lon}
		assert.True(t, tr.HasLastLocation())
	})
}
