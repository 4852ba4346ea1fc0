// Package proof regenerates the device's slot-bound freshness proof.
// Every slot boundary it signs token|slot with the device key and hands
// the result to whatever renders it (the QR codec is external). Only the
// latest proof matters; nothing is retained or transmitted by this package.
package proof

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridepass/token"
)

// Signer is the keystore operation the generator needs.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// TokenSource reports the active session's credential, if any.
type TokenSource func() (tok string, ok bool)

// Generator produces the current rotating proof while a session is active.
type Generator struct {
	signer      Signer
	source      TokenSource
	slotSeconds int64
	onProof     func(token.RotatingProof)
	logger      *zap.Logger

	mu      sync.Mutex
	current *token.RotatingProof

	now func() time.Time
}

// NewGenerator builds a generator. onProof may be nil; slotSeconds <= 0
// takes the default slot width.
func NewGenerator(signer Signer, source TokenSource, slotSeconds int64, onProof func(token.RotatingProof), logger *zap.Logger) *Generator {
	if slotSeconds <= 0 {
		slotSeconds = token.DefaultSlotSeconds
	}
	return &Generator{
		signer:      signer,
		source:      source,
		slotSeconds: slotSeconds,
		onProof:     onProof,
		logger:      logger,
		now:         time.Now,
	}
}

// Current returns the latest proof. ok is false when no session is active
// or no proof has been generated yet.
func (g *Generator) Current() (token.RotatingProof, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return token.RotatingProof{}, false
	}
	return *g.current, true
}

// Refresh recomputes the proof for the current slot. Purely local; no
// network is involved.
func (g *Generator) Refresh() error {
	tok, ok := g.source()
	if !ok {
		g.mu.Lock()
		g.current = nil
		g.mu.Unlock()
		return nil
	}

	now := g.now()
	slot := token.Slot(now, g.slotSeconds)
	sig, err := g.signer.Sign(token.SignedPayload(tok, slot))
	if err != nil {
		return err
	}

	p := token.RotatingProof{Token: tok, Slot: slot, Sig: sig}
	g.mu.Lock()
	g.current = &p
	g.mu.Unlock()

	if g.onProof != nil {
		g.onProof(p)
	}
	return nil
}

// Run refreshes on every slot boundary until ctx is cancelled. The first
// refresh happens immediately so a freshly started session shows a proof
// without waiting out the current slot.
func (g *Generator) Run(ctx context.Context) error {
	for {
		if err := g.Refresh(); err != nil {
			g.logger.Warn("proof refresh failed", zap.Error(err))
		}

		wait := g.untilNextSlot()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.mu.Lock()
			g.current = nil
			g.mu.Unlock()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *Generator) untilNextSlot() time.Duration {
	now := g.now()
	next := (token.Slot(now, g.slotSeconds) + 1) * g.slotSeconds
	return time.Duration(next-now.Unix())*time.Second + 50*time.Millisecond
}
