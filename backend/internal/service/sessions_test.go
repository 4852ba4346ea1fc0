package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ridepass/backend/internal/models"
	"ridepass/token"
)

func newTestIssuer(t *testing.T, devices DeviceRepository) *IssuerService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := token.NewSigner(key, "test-backend")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return NewIssuerService(devices, signer, time.Hour, zap.NewNop())
}

func newTestSessions(t *testing.T) (*SessionsService, *fakeSessionRepo, *fakeDeviceRepo) {
	t.Helper()
	devices := newFakeDeviceRepo()
	sessions := newFakeSessionRepo()
	issuer := newTestIssuer(t, devices)
	fare := NewFareService(sessions, 0, 0)
	svc := NewSessionsService(sessions, issuer, fare, nil, zap.NewNop())
	return svc, sessions, devices
}

func registerTestDevice(t *testing.T, devices *fakeDeviceRepo, deviceID string) {
	t.Helper()
	devices.devices[deviceID] = models.Device{
		DeviceID:     deviceID,
		PubKeyPEM:    "-----BEGIN PUBLIC KEY-----\nMFkw\n-----END PUBLIC KEY-----\n",
		RegisteredAt: time.Now().UTC(),
	}
}

func TestStartSessionIssuesCredential(t *testing.T) {
	svc, sessions, devices := newTestSessions(t)
	registerTestDevice(t, devices, "dev-1")

	result, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if result.Token == "" || result.SessionID == "" {
		t.Fatalf("incomplete result: %+v", result)
	}
	if result.Resumed {
		t.Error("first start must not be a resume")
	}

	stored, err := sessions.GetActiveByDevice(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("active session not persisted: %v", err)
	}
	if stored.SessionID != result.SessionID || stored.VehicleID != "BUS_4711" {
		t.Errorf("persisted session mismatch: %+v", stored)
	}
}

func TestStartSessionUnregisteredDevice(t *testing.T) {
	svc, _, _ := newTestSessions(t)
	_, err := svc.StartSession(context.Background(), "dev-ghost", "BUS_4711")
	if !errors.Is(err, ErrDeviceNotRegistered) {
		t.Fatalf("expected ErrDeviceNotRegistered, got %v", err)
	}
}

func TestStartSessionDeduplicates(t *testing.T) {
	svc, _, devices := newTestSessions(t)
	registerTestDevice(t, devices, "dev-1")

	first, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !second.Resumed {
		t.Error("second start must resume the open session")
	}
	if second.SessionID != first.SessionID || second.Token != first.Token {
		t.Errorf("resume returned a different credential: %q vs %q", second.SessionID, first.SessionID)
	}
}

func TestStartSessionConcurrent(t *testing.T) {
	svc, _, devices := newTestSessions(t)
	registerTestDevice(t, devices, "dev-1")

	const workers = 8
	results := make([]*StartResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.StartSession(context.Background(), "dev-1", "BUS_4711")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		seen[results[i].SessionID] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected a single session id across racing starts, got %d", len(seen))
	}
}

func TestEndSessionReportsFare(t *testing.T) {
	svc, _, devices := newTestSessions(t)
	registerTestDevice(t, devices, "dev-1")

	start, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := svc.EndSession(context.Background(), start.SessionID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if result.AlreadyEnded {
		t.Error("first end must not report AlreadyEnded")
	}
	if result.TotalCents != 300 || result.Capped {
		t.Errorf("expected a single 300 cent trip, got %+v", result)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	svc, _, devices := newTestSessions(t)
	registerTestDevice(t, devices, "dev-1")

	start, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.EndSession(context.Background(), start.SessionID); err != nil {
		t.Fatalf("first end: %v", err)
	}
	second, err := svc.EndSession(context.Background(), start.SessionID)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if !second.AlreadyEnded {
		t.Error("second end must report AlreadyEnded")
	}
	if second.TotalCents != 300 {
		t.Errorf("fare must still be reported, got %+v", second)
	}
}

func TestEndSessionUnknown(t *testing.T) {
	svc, _, _ := newTestSessions(t)
	_, err := svc.EndSession(context.Background(), "no-such-session")
	if err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func TestEndThenStartOpensNewSession(t *testing.T) {
	svc, _, devices := newTestSessions(t)
	registerTestDevice(t, devices, "dev-1")

	first, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := svc.EndSession(context.Background(), first.SessionID); err != nil {
		t.Fatalf("end: %v", err)
	}
	second, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Resumed || second.SessionID == first.SessionID {
		t.Errorf("expected a fresh session after ending, got %+v", second)
	}
}

func TestDeleteTrips(t *testing.T) {
	svc, sessions, devices := newTestSessions(t)
	registerTestDevice(t, devices, "dev-1")

	start, err := svc.StartSession(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.EndSession(context.Background(), start.SessionID); err != nil {
		t.Fatalf("end: %v", err)
	}

	deleted, err := svc.DeleteTrips(context.Background(), "dev-1", time.Now())
	if err != nil {
		t.Fatalf("DeleteTrips: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := sessions.Get(context.Background(), start.SessionID); err == nil {
		t.Error("session should be gone")
	}
}
