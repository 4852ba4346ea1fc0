package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActiveSession is the cached view of a device's open session, kept for
// quick duplicate-start checks. Postgres remains the source of truth.
type ActiveSession struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	VehicleID string    `json:"vehicle_id"`
	StartedAt time.Time `json:"started_at"`
}

// Store manages the active-session cache.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns a redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(deviceID string) string {
	return fmt.Sprintf("ridepass:active:%s", deviceID)
}

// Save caches the device's open session.
func (s *Store) Save(ctx context.Context, session ActiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(session.DeviceID), data, s.ttl).Err()
}

// Get returns the cached open session for the device.
func (s *Store) Get(ctx context.Context, deviceID string) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(deviceID)).Result()
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes the cached session for the device.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	return s.client.Del(ctx, s.key(deviceID)).Err()
}
