// Package session owns the rider-side session lifecycle. All transitions
// for the device go through one controller, which is the single-flight
// point keeping a radio-triggered auto start and a manual start from ever
// issuing two credentials for one ride.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ridepass/rider/internal/api"
)

// State of the controller's session machine.
type State int

const (
	StateNoSession State = iota
	StateStarting
	StateActive
	StateEnding
	StateStartFailed
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateStartFailed:
		return "start_failed"
	default:
		return "unknown"
	}
}

var (
	// ErrStartInFlight is returned when another start or end is already
	// running for this device.
	ErrStartInFlight = errors.New("session: operation in flight")
	// ErrNoActiveSession is returned by EndActive with nothing to end.
	ErrNoActiveSession = errors.New("session: no active session")
)

// Backend is the slice of the API client the controller needs.
type Backend interface {
	RegisterDevice(ctx context.Context, deviceID, pubKeyPEM string) error
	StartSession(ctx context.Context, deviceID, vehicleID string) (*api.StartResult, error)
	EndSession(ctx context.Context, sessionID string) (*api.EndResult, error)
}

// Controller serializes session starts and ends for one device.
type Controller struct {
	backend   Backend
	deviceID  string
	pubKeyPEM string
	logger    *zap.Logger

	mu          sync.Mutex
	state       State
	sessionID   string
	token       string
	lastFailure string
}

// NewController builds a controller for the device identified by deviceID
// whose public key is pubKeyPEM.
func NewController(backend Backend, deviceID, pubKeyPEM string, logger *zap.Logger) *Controller {
	return &Controller{
		backend:   backend,
		deviceID:  deviceID,
		pubKeyPEM: pubKeyPEM,
		logger:    logger,
	}
}

// Active reports whether a session is currently believed active.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive
}

// Current returns the active session's id and credential.
func (c *Controller) Current() (sessionID, token string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return "", "", false
	}
	return c.sessionID, c.token, true
}

// LastFailure returns the reason of the most recent failed start.
func (c *Controller) LastFailure() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFailure
}

// Start opens a session. If one is already active the existing id is
// returned without issuing anything; if a start or end is in flight the
// caller is rejected with ErrStartInFlight. trigger names who asked
// ("beacon" or "manual") and is only used for logging.
func (c *Controller) Start(ctx context.Context, vehicleID, trigger string) (string, error) {
	c.mu.Lock()
	switch c.state {
	case StateActive:
		id := c.sessionID
		c.mu.Unlock()
		return id, nil
	case StateStarting, StateEnding:
		c.mu.Unlock()
		return "", ErrStartInFlight
	}
	c.state = StateStarting
	c.mu.Unlock()

	c.logger.Info("starting session",
		zap.String("vehicle_id", vehicleID),
		zap.String("trigger", trigger),
	)

	result, err := c.backend.StartSession(ctx, c.deviceID, vehicleID)
	if errors.Is(err, api.ErrDeviceNotRegistered) {
		// First contact with this backend; register and try once more.
		if regErr := c.backend.RegisterDevice(ctx, c.deviceID, c.pubKeyPEM); regErr != nil {
			return "", c.failStart(fmt.Errorf("session: register device: %w", regErr))
		}
		result, err = c.backend.StartSession(ctx, c.deviceID, vehicleID)
	}
	if err != nil {
		return "", c.failStart(fmt.Errorf("session: start: %w", err))
	}

	c.mu.Lock()
	c.state = StateActive
	c.sessionID = result.SessionID
	c.token = result.Token
	c.lastFailure = ""
	c.mu.Unlock()

	c.logger.Info("session active", zap.String("session_id", result.SessionID))
	return result.SessionID, nil
}

// EndActive closes the current session. Racing end requests (proximity
// loss vs. manual tap) are safe: the backend treats the second end as
// already-ended, and only one end call is in flight at a time here.
func (c *Controller) EndActive(ctx context.Context, trigger string) (*api.EndResult, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	c.state = StateEnding
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Info("ending session",
		zap.String("session_id", sessionID),
		zap.String("trigger", trigger),
	)

	result, err := c.backend.EndSession(ctx, sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if errors.Is(err, api.ErrSessionNotFound) {
			// The backend no longer knows the session; nothing left to end.
			c.clearLocked()
			return nil, err
		}
		// Transient failure: the session is still open server-side.
		c.state = StateActive
		return nil, fmt.Errorf("session: end: %w", err)
	}

	c.clearLocked()
	c.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.Int("total_cents", result.TotalCents),
		zap.Bool("capped", result.Capped),
	)
	return result, nil
}

func (c *Controller) failStart(err error) error {
	c.mu.Lock()
	// START_FAILED is not terminal: the next Start attempt proceeds as
	// from NO_SESSION.
	c.state = StateStartFailed
	c.lastFailure = err.Error()
	c.sessionID = ""
	c.token = ""
	c.mu.Unlock()
	c.logger.Warn("session start failed", zap.Error(err))
	return err
}

func (c *Controller) clearLocked() {
	c.state = StateNoSession
	c.sessionID = ""
	c.token = ""
}
