// Package verifier validates rotating travel proofs entirely offline:
// server signature over the credential, slot freshness, then the device
// signature using the public key embedded in the credential itself.
package verifier

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"time"

	"ridepass/token"
)

// Reason classifies why a proof was rejected.
type Reason string

const (
	ReasonInvalidSignature Reason = "InvalidSignature"
	ReasonTokenExpired     Reason = "TokenExpired"
	ReasonSlotStale        Reason = "SlotStale"
)

// Result is the outcome of one verification attempt. On acceptance the
// identifying claims are exposed for display to the inspector.
type Result struct {
	OK        bool
	Reason    Reason
	SessionID string
	DeviceID  string
	VehicleID string
}

// Option tunes a Verifier.
type Option func(*Verifier)

// WithSlotSeconds overrides the slot width.
func WithSlotSeconds(seconds int64) Option {
	return func(v *Verifier) { v.slotSeconds = seconds }
}

// WithSlotTolerance overrides how many slots of skew are accepted in
// either direction.
func WithSlotTolerance(slots int64) Option {
	return func(v *Verifier) { v.slotTolerance = slots }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// Verifier checks rotating proofs against a known server public key.
// Verification performs no I/O; a rejected scan never affects the next one.
type Verifier struct {
	serverKey     *rsa.PublicKey
	slotSeconds   int64
	slotTolerance int64
	now           func() time.Time
}

// New returns a Verifier trusting the given server public key.
func New(serverKey *rsa.PublicKey, opts ...Option) (*Verifier, error) {
	if serverKey == nil {
		return nil, errors.New("verifier: server key is nil")
	}
	v := &Verifier{
		serverKey:     serverKey,
		slotSeconds:   token.DefaultSlotSeconds,
		slotTolerance: 1,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify runs the three ordered checks, short-circuiting on the first
// failure. Each failure mode maps to exactly one Reason.
func (v *Verifier) Verify(proof token.RotatingProof) Result {
	claims, err := token.Parse(proof.Token, v.serverKey)
	if err != nil {
		return Result{Reason: ReasonInvalidSignature}
	}

	now := v.now()
	if now.Unix() > claims.ValidUntil {
		return Result{Reason: ReasonTokenExpired}
	}

	nowSlot := token.Slot(now, v.slotSeconds)
	if diff := proof.Slot - nowSlot; diff > v.slotTolerance || diff < -v.slotTolerance {
		return Result{Reason: ReasonSlotStale}
	}

	deviceKey, err := parseDeviceKey(claims.DevicePubKey)
	if err != nil {
		return Result{Reason: ReasonInvalidSignature}
	}
	sig, err := base64.StdEncoding.DecodeString(proof.Sig)
	if err != nil {
		return Result{Reason: ReasonInvalidSignature}
	}
	digest := sha256.Sum256(token.SignedPayload(proof.Token, proof.Slot))
	if !ecdsa.VerifyASN1(deviceKey, digest[:], sig) {
		return Result{Reason: ReasonInvalidSignature}
	}

	return Result{
		OK:        true,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
		VehicleID: claims.VehicleID,
	}
}

func parseDeviceKey(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("verifier: device key is not PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("verifier: device key is not ECDSA")
	}
	return ecKey, nil
}
