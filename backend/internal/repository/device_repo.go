package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ridepass/backend/internal/models"
)

// ErrDeviceNotFound indicates the device was never registered.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceRepository handles persistence of registered devices.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository returns repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert registers a device or replaces its stored public key.
func (r *DeviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	const query = `
		INSERT INTO devices (device_id, pub_key_pem, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			pub_key_pem = EXCLUDED.pub_key_pem
		RETURNING registered_at
	`
	if device.RegisteredAt.IsZero() {
		device.RegisteredAt = time.Now().UTC()
	}
	return r.db.QueryRowContext(ctx, query,
		device.DeviceID,
		device.PubKeyPEM,
		device.RegisteredAt,
	).Scan(&device.RegisteredAt)
}

// Get returns a device by id.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	const query = `
		SELECT device_id, pub_key_pem, registered_at
		FROM devices
		WHERE device_id = $1
	`
	var device models.Device
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID,
		&device.PubKeyPEM,
		&device.RegisteredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}
