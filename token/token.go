// Package token implements the server-issued ride credential: a signed
// claim set binding a session, a vehicle and a device public key, carried
// by the rider and verified offline by inspectors.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidity bounds the absolute credential lifetime. Ending a session
// does not revoke an issued credential before this runs out; the rotating
// proof's slot check is what limits replay in practice.
const DefaultValidity = 12 * time.Hour

// Claims is the signed payload of a ride credential. The device public key
// is embedded so a verifier needs nothing beyond the server's public key.
type Claims struct {
	SessionID    string `json:"sessionId"`
	VehicleID    string `json:"vehicleId"`
	DeviceID     string `json:"deviceId"`
	ValidUntil   int64  `json:"validUntil"`
	DevicePubKey string `json:"devicePubKey"`
	DayKey       int64  `json:"dayKey"`
	jwt.RegisteredClaims
}

// Signer issues RS256-signed credentials.
type Signer struct {
	key    *rsa.PrivateKey
	issuer string
}

// NewSigner returns a credential signer for the given issuer name.
func NewSigner(key *rsa.PrivateKey, issuer string) (*Signer, error) {
	if key == nil {
		return nil, errors.New("token: signing key is nil")
	}
	if issuer == "" {
		return nil, errors.New("token: issuer is required")
	}
	return &Signer{key: key, issuer: issuer}, nil
}

// Sign produces the compact token string for the given claims. The issuer
// field is always overwritten with the signer's configured name.
func (s *Signer) Sign(claims Claims) (string, error) {
	claims.Issuer = s.issuer
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Parse verifies the server signature over the credential and returns its
// claims. It does not check ValidUntil; callers decide how expiry is
// surfaced (the verifier reports it as a distinct rejection reason).
func Parse(raw string, serverKey *rsa.PublicKey) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return serverKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token: parse: %w", err)
	}
	return claims, nil
}

// DayKey returns the calendar-day bucket used for fare grouping.
func DayKey(now time.Time) int64 {
	return now.Unix() / 86400
}
