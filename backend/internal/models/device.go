package models

import "time"

// Device is a registered rider device. Registration is an idempotent
// upsert; the stored public key is whatever the device last presented.
type Device struct {
	DeviceID     string    `json:"deviceId"`
	PubKeyPEM    string    `json:"devicePubKeyPem"`
	RegisteredAt time.Time `json:"registeredAt"`
}
