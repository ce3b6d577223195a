package models

import "time"

// DeviceStatus is the per-device presence row. "Online" is derived from
// LastSeen at read time, never stored.
type DeviceStatus struct {
	DeviceID string    `json:"device_id"`
	LastSeen time.Time `json:"last_seen"`
}
