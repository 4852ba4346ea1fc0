package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ridepass/backend/internal/models"
	redisstore "ridepass/backend/internal/redis"
	"ridepass/backend/internal/repository"
)

// SessionRepository defines the storage contract for ride sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	GetActiveByDevice(ctx context.Context, deviceID string) (*models.Session, error)
	End(ctx context.Context, sessionID string, endTime time.Time) (*models.Session, bool, error)
	CountEndedBetween(ctx context.Context, deviceID string, from, to time.Time) (int, error)
	ListEndedBetween(ctx context.Context, deviceID string, from, to time.Time) ([]models.Session, error)
	DeleteStartedBetween(ctx context.Context, deviceID string, from, to time.Time) (int64, error)
}

// SessionsService owns the server-side session lifecycle.
type SessionsService struct {
	sessions    SessionRepository
	issuer      *IssuerService
	fare        *FareService
	activeStore *redisstore.Store
	logger      *zap.Logger
	now         func() time.Time
}

// NewSessionsService builds the service. activeStore may be nil, in which
// case the cache layer is skipped.
func NewSessionsService(
	sessions SessionRepository,
	issuer *IssuerService,
	fare *FareService,
	activeStore *redisstore.Store,
	logger *zap.Logger,
) *SessionsService {
	return &SessionsService{
		sessions:    sessions,
		issuer:      issuer,
		fare:        fare,
		activeStore: activeStore,
		logger:      logger,
		now:         time.Now,
	}
}

// StartResult is the response to a session start.
type StartResult struct {
	Token     string
	SessionID string
	// Resumed is set when the device already had an open session and the
	// existing credential was returned instead of issuing a second one.
	Resumed bool
}

// EndResult is the response to a session end.
type EndResult struct {
	AlreadyEnded bool
	TotalCents   int
	Capped       bool
}

// StartSession issues a credential and opens a session. Starting while a
// session is already open is idempotent: the open session's credential is
// returned and no second one is issued.
func (s *SessionsService) StartSession(ctx context.Context, deviceID, vehicleID string) (*StartResult, error) {
	if existing, err := s.sessions.GetActiveByDevice(ctx, deviceID); err == nil {
		s.logger.Info("session start deduplicated",
			zap.String("device_id", deviceID),
			zap.String("session_id", existing.SessionID),
		)
		return &StartResult{Token: existing.Token, SessionID: existing.SessionID, Resumed: true}, nil
	} else if !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, err
	}

	cred, err := s.issuer.IssueCredential(ctx, deviceID, vehicleID)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		SessionID: cred.SessionID,
		DeviceID:  deviceID,
		VehicleID: vehicleID,
		Token:     cred.Token,
		StartTime: s.now().UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			// Lost the race against a concurrent start; the winner's
			// credential is the one that counts.
			existing, lookupErr := s.sessions.GetActiveByDevice(ctx, deviceID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &StartResult{Token: existing.Token, SessionID: existing.SessionID, Resumed: true}, nil
		}
		return nil, err
	}

	s.cacheActive(ctx, session)
	s.logger.Info("session started",
		zap.String("session_id", session.SessionID),
		zap.String("device_id", deviceID),
		zap.String("vehicle_id", vehicleID),
	)
	return &StartResult{Token: cred.Token, SessionID: cred.SessionID}, nil
}

// EndSession closes the session and reports the device's fare for the
// current day. Ending twice is not an error; the second call reports
// AlreadyEnded. Fare recomputation is a side effect report: a failure
// there is logged, not propagated.
func (s *SessionsService) EndSession(ctx context.Context, sessionID string) (*EndResult, error) {
	session, alreadyEnded, err := s.sessions.End(ctx, sessionID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if s.activeStore != nil {
		if cacheErr := s.activeStore.Delete(ctx, session.DeviceID); cacheErr != nil {
			s.logger.Warn("failed to drop active session cache", zap.Error(cacheErr))
		}
	}

	result := &EndResult{AlreadyEnded: alreadyEnded}
	summary, fareErr := s.fare.FareFor(ctx, session.DeviceID, s.now())
	if fareErr != nil {
		s.logger.Warn("fare recomputation failed",
			zap.String("session_id", sessionID),
			zap.Error(fareErr),
		)
	} else {
		result.TotalCents = summary.TotalCents
		result.Capped = summary.Capped
	}

	if !alreadyEnded {
		s.logger.Info("session ended",
			zap.String("session_id", sessionID),
			zap.String("device_id", session.DeviceID),
			zap.Int("total_cents", result.TotalCents),
			zap.Bool("capped", result.Capped),
		)
	}
	return result, nil
}

// DeleteTrips removes the device's sessions started during the UTC day of
// asOf. Exposed only through the trial's debug endpoint.
func (s *SessionsService) DeleteTrips(ctx context.Context, deviceID string, asOf time.Time) (int64, error) {
	from, to := dayWindow(asOf)
	deleted, err := s.sessions.DeleteStartedBetween(ctx, deviceID, from, to)
	if err != nil {
		return 0, err
	}
	if s.activeStore != nil {
		if cacheErr := s.activeStore.Delete(ctx, deviceID); cacheErr != nil {
			s.logger.Warn("failed to drop active session cache", zap.Error(cacheErr))
		}
	}
	s.logger.Info("trips deleted",
		zap.String("device_id", deviceID),
		zap.Int64("count", deleted),
	)
	return deleted, nil
}

func (s *SessionsService) cacheActive(ctx context.Context, session *models.Session) {
	if s.activeStore == nil {
		return
	}
	err := s.activeStore.Save(ctx, redisstore.ActiveSession{
		SessionID: session.SessionID,
		DeviceID:  session.DeviceID,
		VehicleID: session.VehicleID,
		StartedAt: session.StartTime,
	})
	if err != nil {
		s.logger.Warn("failed to cache active session", zap.Error(err))
	}
}
