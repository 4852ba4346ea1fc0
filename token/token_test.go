package token

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSignAndParseRoundTrip(t *testing.T) {
	key := testKey(t)
	signer, err := NewSigner(key, "test-backend")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	now := time.Now()
	claims := Claims{
		SessionID:    "sess-1",
		VehicleID:    "BUS_4711",
		DeviceID:     "dev-abc",
		ValidUntil:   now.Add(12 * time.Hour).Unix(),
		DevicePubKey: "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n",
		DayKey:       DayKey(now),
	}

	signed, err := signer.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := Parse(signed, &key.PublicKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.SessionID != claims.SessionID {
		t.Errorf("session id = %q, want %q", parsed.SessionID, claims.SessionID)
	}
	if parsed.VehicleID != claims.VehicleID {
		t.Errorf("vehicle id = %q, want %q", parsed.VehicleID, claims.VehicleID)
	}
	if parsed.DeviceID != claims.DeviceID {
		t.Errorf("device id = %q, want %q", parsed.DeviceID, claims.DeviceID)
	}
	if parsed.ValidUntil != claims.ValidUntil {
		t.Errorf("valid until = %d, want %d", parsed.ValidUntil, claims.ValidUntil)
	}
	if parsed.DevicePubKey != claims.DevicePubKey {
		t.Errorf("device pub key mismatch")
	}
	if parsed.Issuer != "test-backend" {
		t.Errorf("issuer = %q, want test-backend", parsed.Issuer)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	signer, err := NewSigner(testKey(t), "test-backend")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	signed, err := signer.Sign(Claims{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	other := testKey(t)
	if _, err := Parse(signed, &other.PublicKey); err == nil {
		t.Fatal("expected parse to fail with wrong key")
	}
}

func TestParseRejectsTampering(t *testing.T) {
	key := testKey(t)
	signer, err := NewSigner(key, "test-backend")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	signed, err := signer.Sign(Claims{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := []byte(signed)
	tampered[len(tampered)/2] ^= 0x01
	if _, err := Parse(string(tampered), &key.PublicKey); err == nil {
		t.Fatal("expected parse to fail on tampered token")
	}
}

func TestSlot(t *testing.T) {
	at := time.Unix(90, 0)
	if got := Slot(at, 30); got != 3 {
		t.Errorf("Slot(90s, 30) = %d, want 3", got)
	}
	if got := Slot(at, 0); got != 3 {
		t.Errorf("Slot with zero width should use default, got %d", got)
	}
}

func TestSignedPayload(t *testing.T) {
	got := SignedPayload("abc.def.ghi", 1234)
	want := "abc.def.ghi|1234"
	if string(got) != want {
		t.Errorf("payload = %q, want %q", got, want)
	}
}

func TestDayKey(t *testing.T) {
	at := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	if got, want := DayKey(at), at.Unix()/86400; got != want {
		t.Errorf("DayKey = %d, want %d", got, want)
	}
}
