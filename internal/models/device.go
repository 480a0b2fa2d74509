package models

import "time"

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// DeviceRegistration is a push-token binding for a tourist (spec §3).
// Multiple devices may be registered per tourist.
type DeviceRegistration struct {
	ID         int64     `json:"id"`
	TouristID  string    `json:"tourist_id"`
	PushToken  string    `json:"push_token"`
	Platform   string    `json:"platform"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}
