package models

import "time"

// Session is one ride. SessionID and StartTime are immutable after
// creation; EndTime is set exactly once. At most one session per device
// may have a nil EndTime, enforced by a partial unique index.
type Session struct {
	SessionID string     `json:"sessionId"`
	DeviceID  string     `json:"deviceId"`
	VehicleID string     `json:"vehicleId"`
	Token     string     `json:"token"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Ended reports whether the session has completed.
func (s *Session) Ended() bool {
	return s.EndTime != nil
}
