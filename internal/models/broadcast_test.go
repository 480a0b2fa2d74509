package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastExpired(t *testing.T) {
	now := time.Now()

	t.Run("no expiry never expires", func(t *testing.T) {
		b := &Broadcast{}
		assert.False(t, b.Expired(now))
	})

	t.Run("expiry in the future is not expired", func(t *testing.T) {
		future := now.Add(time.Hour)
		b := &Broadcast{ExpiresAt: &future}
		assert.False(t, b.Expired(now))
	})

	t.Run("expiry in the past is expired", func(t *testing.T) {
		past := now.Add(-time.Hour)
		b := &Broadcast{ExpiresAt: &past}
		assert.True(t, b.Expired(now))
	})
}

func TestValidAckStatus(t *testing.T) {
	assert.True(t, ValidAckStatus(AckSafe))
	assert.True(t, ValidAckStatus(AckNeedHelp))
	assert.True(t, ValidAckStatus(AckEvacuating))
	assert.False(t, ValidAckStatus("panicking"))
}
