package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterDeviceValidatesInput(t *testing.T) {
	issuer := newTestIssuer(t, newFakeDeviceRepo())

	if err := issuer.RegisterDevice(context.Background(), "", "key"); err == nil {
		t.Error("empty device id must be rejected")
	}
	if err := issuer.RegisterDevice(context.Background(), "dev-1", "   "); err == nil {
		t.Error("blank public key must be rejected")
	}
}

func TestRegisterDeviceReplacesKey(t *testing.T) {
	devices := newFakeDeviceRepo()
	issuer := newTestIssuer(t, devices)

	if err := issuer.RegisterDevice(context.Background(), "dev-1", "old-key"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := issuer.RegisterDevice(context.Background(), "dev-1", "new-key"); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	device, err := devices.Get(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if device.PubKeyPEM != "new-key" {
		t.Errorf("key not replaced: %q", device.PubKeyPEM)
	}
}

func TestIssueCredentialEmbedsDeviceKey(t *testing.T) {
	devices := newFakeDeviceRepo()
	issuer := newTestIssuer(t, devices)
	now := time.Unix(1_700_000_000, 0)
	issuer.now = func() time.Time { return now }

	if err := issuer.RegisterDevice(context.Background(), "dev-1", "device-pem"); err != nil {
		t.Fatalf("register: %v", err)
	}
	cred, err := issuer.IssueCredential(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cred.Token == "" || cred.SessionID == "" {
		t.Fatalf("incomplete credential: %+v", cred)
	}
	if cred.ValidUntil != now.Add(time.Hour).Unix() {
		t.Errorf("validUntil = %d, want %d", cred.ValidUntil, now.Add(time.Hour).Unix())
	}
	if cred.DayKey != now.Unix()/86400 {
		t.Errorf("dayKey = %d", cred.DayKey)
	}
}

func TestIssueCredentialUnregistered(t *testing.T) {
	issuer := newTestIssuer(t, newFakeDeviceRepo())
	_, err := issuer.IssueCredential(context.Background(), "dev-ghost", "BUS_4711")
	if !errors.Is(err, ErrDeviceNotRegistered) {
		t.Fatalf("expected ErrDeviceNotRegistered, got %v", err)
	}
}

func TestIssueCredentialFreshSessionIDs(t *testing.T) {
	devices := newFakeDeviceRepo()
	issuer := newTestIssuer(t, devices)

	if err := issuer.RegisterDevice(context.Background(), "dev-1", "device-pem"); err != nil {
		t.Fatalf("register: %v", err)
	}
	a, err := issuer.IssueCredential(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	b, err := issuer.IssueCredential(context.Background(), "dev-1", "BUS_4711")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if a.SessionID == b.SessionID {
		t.Error("session ids must be unique per issuance")
	}
}
