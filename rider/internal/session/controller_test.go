package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"ridepass/rider/internal/api"
)

// fakeBackend mimics the backend's idempotent session semantics.
type fakeBackend struct {
	mu         sync.Mutex
	registered map[string]string
	active     map[string]*api.StartResult // deviceID -> open session
	starts     int
	ends       int
	startErr   error
	endErr     error
	startHook  func() // runs at the top of StartSession when set
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		registered: make(map[string]string),
		active:     make(map[string]*api.StartResult),
	}
}

func (b *fakeBackend) RegisterDevice(_ context.Context, deviceID, pubKeyPEM string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered[deviceID] = pubKeyPEM
	return nil
}

func (b *fakeBackend) StartSession(_ context.Context, deviceID, _ string) (*api.StartResult, error) {
	b.mu.Lock()
	hook := b.startHook
	b.mu.Unlock()
	if hook != nil {
		hook()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	if b.startErr != nil {
		return nil, b.startErr
	}
	if _, ok := b.registered[deviceID]; !ok {
		return nil, api.ErrDeviceNotRegistered
	}
	if existing, ok := b.active[deviceID]; ok {
		return existing, nil
	}
	result := &api.StartResult{
		Token:     "tok-" + deviceID,
		SessionID: "sess-" + deviceID,
	}
	b.active[deviceID] = result
	return result, nil
}

func (b *fakeBackend) EndSession(_ context.Context, sessionID string) (*api.EndResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ends++
	if b.endErr != nil {
		return nil, b.endErr
	}
	for deviceID, session := range b.active {
		if session.SessionID == sessionID {
			delete(b.active, deviceID)
			return &api.EndResult{OK: true, TotalCents: 300}, nil
		}
	}
	return &api.EndResult{OK: true, AlreadyEnded: true, TotalCents: 300}, nil
}

func newTestController(backend Backend) *Controller {
	return NewController(backend, "dev-1", "device-pem", zap.NewNop())
}

func TestStartRegistersOnFirstContact(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend)

	id, err := ctrl.Start(context.Background(), "BUS_4711", "beacon")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}
	if backend.registered["dev-1"] != "device-pem" {
		t.Error("device was not registered before the retry")
	}
	if !ctrl.Active() {
		t.Error("controller should report an active session")
	}
	if _, tok, ok := ctrl.Current(); !ok || tok == "" {
		t.Error("Current should expose the credential")
	}
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	backend := newFakeBackend()
	backend.registered["dev-1"] = "device-pem"
	ctrl := newTestController(backend)

	first, err := ctrl.Start(context.Background(), "BUS_4711", "beacon")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	startsAfterFirst := backend.starts

	second, err := ctrl.Start(context.Background(), "BUS_4711", "manual")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second != first {
		t.Errorf("second start returned %q, want %q", second, first)
	}
	if backend.starts != startsAfterFirst {
		t.Error("active start must not hit the backend again")
	}
}

func TestConcurrentStartsSingleFlight(t *testing.T) {
	backend := newFakeBackend()
	backend.registered["dev-1"] = "device-pem"
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.startHook = func() {
		close(entered)
		<-release
	}
	ctrl := newTestController(backend)

	firstErr := make(chan error, 1)
	go func() {
		_, err := ctrl.Start(context.Background(), "BUS_4711", "beacon")
		firstErr <- err
	}()

	// Once the hook fires the first start holds the STARTING state, so the
	// second caller is rejected without reaching the backend.
	<-entered
	if _, err := ctrl.Start(context.Background(), "BUS_4711", "manual"); !errors.Is(err, ErrStartInFlight) {
		t.Fatalf("second start: got %v, want ErrStartInFlight", err)
	}

	close(release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first start: %v", err)
	}
	backend.mu.Lock()
	starts := backend.starts
	backend.mu.Unlock()
	if starts != 1 {
		t.Errorf("backend saw %d starts, want 1", starts)
	}
}

func TestStartFailureIsRecorded(t *testing.T) {
	backend := newFakeBackend()
	backend.registered["dev-1"] = "device-pem"
	backend.startErr = api.ErrUnavailable
	ctrl := newTestController(backend)

	if _, err := ctrl.Start(context.Background(), "BUS_4711", "beacon"); err == nil {
		t.Fatal("expected start to fail")
	}
	if ctrl.Active() {
		t.Error("failed start must not leave the session active")
	}
	if ctrl.LastFailure() == "" {
		t.Error("failure reason must be recorded")
	}

	// A later attempt proceeds normally.
	backend.startErr = nil
	if _, err := ctrl.Start(context.Background(), "BUS_4711", "beacon"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if ctrl.LastFailure() != "" {
		t.Error("failure reason must clear on success")
	}
}

func TestEndActive(t *testing.T) {
	backend := newFakeBackend()
	backend.registered["dev-1"] = "device-pem"
	ctrl := newTestController(backend)

	if _, err := ctrl.Start(context.Background(), "BUS_4711", "beacon"); err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := ctrl.EndActive(context.Background(), "beacon-loss")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if result.TotalCents != 300 {
		t.Errorf("unexpected fare: %+v", result)
	}
	if ctrl.Active() {
		t.Error("session should be cleared after ending")
	}
}

func TestEndWithoutSession(t *testing.T) {
	ctrl := newTestController(newFakeBackend())
	if _, err := ctrl.EndActive(context.Background(), "manual"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("got %v, want ErrNoActiveSession", err)
	}
}

func TestEndTransientFailureKeepsSession(t *testing.T) {
	backend := newFakeBackend()
	backend.registered["dev-1"] = "device-pem"
	ctrl := newTestController(backend)

	if _, err := ctrl.Start(context.Background(), "BUS_4711", "beacon"); err != nil {
		t.Fatalf("start: %v", err)
	}
	backend.endErr = api.ErrUnavailable
	if _, err := ctrl.EndActive(context.Background(), "beacon-loss"); err == nil {
		t.Fatal("expected end to fail")
	}
	if !ctrl.Active() {
		t.Error("session must stay active after a transient end failure")
	}

	backend.endErr = nil
	if _, err := ctrl.EndActive(context.Background(), "beacon-loss"); err != nil {
		t.Fatalf("retry end: %v", err)
	}
	if ctrl.Active() {
		t.Error("session should be cleared after the retry succeeds")
	}
}

func TestEndUnknownSessionClearsState(t *testing.T) {
	backend := newFakeBackend()
	backend.registered["dev-1"] = "device-pem"
	ctrl := newTestController(backend)

	if _, err := ctrl.Start(context.Background(), "BUS_4711", "beacon"); err != nil {
		t.Fatalf("start: %v", err)
	}
	backend.endErr = api.ErrSessionNotFound
	if _, err := ctrl.EndActive(context.Background(), "manual"); !errors.Is(err, api.ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
	if ctrl.Active() {
		t.Error("state must clear when the backend no longer knows the session")
	}
}

func TestRideCycle(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend)

	if _, err := ctrl.Start(context.Background(), "BUS_4711", "beacon"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ctrl.EndActive(context.Background(), "beacon-loss"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := ctrl.Start(context.Background(), "BUS_4711", "beacon"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !ctrl.Active() {
		t.Error("second ride should be active")
	}
}
