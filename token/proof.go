package token

import (
	"strconv"
	"time"
)

// DefaultSlotSeconds is the width of one freshness slot.
const DefaultSlotSeconds = 30

// RotatingProof is the wire form of a device's freshness assertion,
// transferred out of band (e.g. rendered as a QR code by an external
// codec). Sig is the base64 DER-encoded ECDSA signature over
// SignedPayload(Token, Slot).
type RotatingProof struct {
	Token string `json:"token"`
	Slot  int64  `json:"slot"`
	Sig   string `json:"sig"`
}

// Slot returns the time bucket for now given the slot width in seconds.
func Slot(now time.Time, slotSeconds int64) int64 {
	if slotSeconds <= 0 {
		slotSeconds = DefaultSlotSeconds
	}
	return now.Unix() / slotSeconds
}

// SignedPayload builds the exact byte string the device signs each slot.
func SignedPayload(tok string, slot int64) []byte {
	return []byte(tok + "|" + strconv.FormatInt(slot, 10))
}
