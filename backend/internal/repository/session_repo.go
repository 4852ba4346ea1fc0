package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"ridepass/backend/internal/models"
)

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrActiveSessionExists indicates the device already has an open
	// session; the partial unique index rejected the insert.
	ErrActiveSessionExists = errors.New("active session exists for device")
)

const uniqueViolation = "23505"

// SessionRepository handles persistence of ride sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session. The one-open-session-per-device invariant
// is enforced by the database, so concurrent starts cannot both succeed.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	const query = `
		INSERT INTO sessions (session_id, device_id, vehicle_id, token, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, NULL)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.SessionID,
		session.DeviceID,
		session.VehicleID,
		session.Token,
		session.StartTime,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrActiveSessionExists
	}
	return err
}

// Get returns a session by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	const query = `
		SELECT session_id, device_id, vehicle_id, token, start_time, end_time
		FROM sessions
		WHERE session_id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, sessionID))
}

// GetActiveByDevice returns the device's open session, if any.
func (r *SessionRepository) GetActiveByDevice(ctx context.Context, deviceID string) (*models.Session, error) {
	const query = `
		SELECT session_id, device_id, vehicle_id, token, start_time, end_time
		FROM sessions
		WHERE device_id = $1 AND end_time IS NULL
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, deviceID))
}

// End sets end_time exactly once. Returns the ended session and whether it
// had already been ended by an earlier call; concurrent ends for the same
// id serialize on the atomic conditional update.
func (r *SessionRepository) End(ctx context.Context, sessionID string, endTime time.Time) (*models.Session, bool, error) {
	const query = `
		UPDATE sessions
		SET end_time = $2
		WHERE session_id = $1 AND end_time IS NULL
		RETURNING session_id, device_id, vehicle_id, token, start_time, end_time
	`
	session, err := r.scanOne(r.db.QueryRowContext(ctx, query, sessionID, endTime))
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, false, err
	}

	// No row updated: either unknown or already ended.
	session, err = r.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// CountEndedBetween counts completed sessions for the device with end_time
// in [from, to).
func (r *SessionRepository) CountEndedBetween(ctx context.Context, deviceID string, from, to time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM sessions
		WHERE device_id = $1 AND end_time IS NOT NULL AND end_time >= $2 AND end_time < $3
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, deviceID, from, to).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListEndedBetween returns completed sessions for the device with end_time
// in [from, to), oldest first.
func (r *SessionRepository) ListEndedBetween(ctx context.Context, deviceID string, from, to time.Time) ([]models.Session, error) {
	const query = `
		SELECT session_id, device_id, vehicle_id, token, start_time, end_time
		FROM sessions
		WHERE device_id = $1 AND end_time IS NOT NULL AND end_time >= $2 AND end_time < $3
		ORDER BY start_time ASC
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		var endTime sql.NullTime
		if err := rows.Scan(&s.SessionID, &s.DeviceID, &s.VehicleID, &s.Token, &s.StartTime, &endTime); err != nil {
			return nil, err
		}
		if endTime.Valid {
			t := endTime.Time
			s.EndTime = &t
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteStartedBetween removes the device's sessions with start_time in
// [from, to). Trial-operations reset only.
func (r *SessionRepository) DeleteStartedBetween(ctx context.Context, deviceID string, from, to time.Time) (int64, error) {
	const query = `
		DELETE FROM sessions
		WHERE device_id = $1 AND start_time >= $2 AND start_time < $3
	`
	result, err := r.db.ExecContext(ctx, query, deviceID, from, to)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SessionRepository) scanOne(row *sql.Row) (*models.Session, error) {
	var s models.Session
	var endTime sql.NullTime
	err := row.Scan(&s.SessionID, &s.DeviceID, &s.VehicleID, &s.Token, &s.StartTime, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return &s, nil
}
