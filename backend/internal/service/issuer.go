package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridepass/backend/internal/models"
	"ridepass/backend/internal/repository"
	"ridepass/token"
)

// ErrDeviceNotRegistered is returned when issuing a credential for a
// device with no stored public key.
var ErrDeviceNotRegistered = errors.New("issuer: device not registered")

// DeviceRepository defines the storage contract used by the issuer.
type DeviceRepository interface {
	Upsert(ctx context.Context, device *models.Device) error
	Get(ctx context.Context, deviceID string) (*models.Device, error)
}

// IssuerService registers device keys and issues signed session
// credentials bound to them.
type IssuerService struct {
	devices  DeviceRepository
	signer   *token.Signer
	validity time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewIssuerService builds the issuer. A non-positive validity falls back
// to the default credential lifetime.
func NewIssuerService(devices DeviceRepository, signer *token.Signer, validity time.Duration, logger *zap.Logger) *IssuerService {
	if validity <= 0 {
		validity = token.DefaultValidity
	}
	return &IssuerService{
		devices:  devices,
		signer:   signer,
		validity: validity,
		logger:   logger,
		now:      time.Now,
	}
}

// IssuedCredential is the result of a successful issuance.
type IssuedCredential struct {
	Token      string
	SessionID  string
	ValidUntil int64
	DayKey     int64
}

// RegisterDevice stores or replaces the device's public key. The upsert is
// idempotent; re-registering an existing device always succeeds.
func (s *IssuerService) RegisterDevice(ctx context.Context, deviceID, pubKeyPEM string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return errors.New("issuer: device id required")
	}
	if strings.TrimSpace(pubKeyPEM) == "" {
		return errors.New("issuer: device public key required")
	}

	device := &models.Device{
		DeviceID:     deviceID,
		PubKeyPEM:    pubKeyPEM,
		RegisteredAt: s.now().UTC(),
	}
	if err := s.devices.Upsert(ctx, device); err != nil {
		return err
	}
	s.logger.Info("device registered", zap.String("device_id", deviceID))
	return nil
}

// IssueCredential signs a fresh credential for the device on the given
// vehicle. The device's current public key is embedded in the claims so
// verification needs no further lookups.
func (s *IssuerService) IssueCredential(ctx context.Context, deviceID, vehicleID string) (*IssuedCredential, error) {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, ErrDeviceNotRegistered
		}
		return nil, err
	}

	now := s.now().UTC()
	claims := token.Claims{
		SessionID:    uuid.NewString(),
		VehicleID:    vehicleID,
		DeviceID:     deviceID,
		ValidUntil:   now.Add(s.validity).Unix(),
		DevicePubKey: device.PubKeyPEM,
		DayKey:       token.DayKey(now),
	}

	signed, err := s.signer.Sign(claims)
	if err != nil {
		return nil, err
	}

	return &IssuedCredential{
		Token:      signed,
		SessionID:  claims.SessionID,
		ValidUntil: claims.ValidUntil,
		DayKey:     claims.DayKey,
	}, nil
}
