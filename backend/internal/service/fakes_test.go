package service

import (
	"context"
	"sync"
	"time"

	"ridepass/backend/internal/models"
	"ridepass/backend/internal/repository"
)

// fakeDeviceRepo is an in-memory DeviceRepository.
type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]models.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[string]models.Device)}
}

func (r *fakeDeviceRepo) Upsert(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[device.DeviceID]; ok {
		device.RegisteredAt = existing.RegisteredAt
	}
	r.devices[device.DeviceID] = *device
	return nil
}

func (r *fakeDeviceRepo) Get(_ context.Context, deviceID string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	return &device, nil
}

// fakeSessionRepo is an in-memory SessionRepository enforcing the same
// one-open-session-per-device constraint as the partial unique index.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.DeviceID == session.DeviceID && existing.EndTime == nil {
			return repository.ErrActiveSessionExists
		}
	}
	copied := *session
	r.sessions[session.SessionID] = &copied
	return nil
}

func (r *fakeSessionRepo) Get(_ context.Context, sessionID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) GetActiveByDevice(_ context.Context, deviceID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.DeviceID == deviceID && session.EndTime == nil {
			copied := *session
			return &copied, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *fakeSessionRepo) End(_ context.Context, sessionID string, endTime time.Time) (*models.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, false, repository.ErrSessionNotFound
	}
	if session.EndTime != nil {
		copied := *session
		return &copied, true, nil
	}
	t := endTime
	session.EndTime = &t
	copied := *session
	return &copied, false, nil
}

func (r *fakeSessionRepo) CountEndedBetween(_ context.Context, deviceID string, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, session := range r.sessions {
		if session.DeviceID == deviceID && endedWithin(session, from, to) {
			count++
		}
	}
	return count, nil
}

func (r *fakeSessionRepo) ListEndedBetween(_ context.Context, deviceID string, from, to time.Time) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Session
	for _, session := range r.sessions {
		if session.DeviceID == deviceID && endedWithin(session, from, to) {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) DeleteStartedBetween(_ context.Context, deviceID string, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, session := range r.sessions {
		if session.DeviceID == deviceID && !session.StartTime.Before(from) && session.StartTime.Before(to) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func endedWithin(session *models.Session, from, to time.Time) bool {
	return session.EndTime != nil && !session.EndTime.Before(from) && session.EndTime.Before(to)
}
