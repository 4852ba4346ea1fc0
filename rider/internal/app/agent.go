package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"ridepass/rider/internal/api"
	"ridepass/rider/internal/config"
	"ridepass/rider/internal/keystore"
	"ridepass/rider/internal/proof"
	"ridepass/rider/internal/proximity"
	"ridepass/rider/internal/radio"
	"ridepass/rider/internal/session"
	"ridepass/token"
)

const actionTimeout = 15 * time.Second

// Agent wires the rider device: keystore, backend client, session
// controller, proximity monitor and proof generator.
type Agent struct {
	cfg        *config.Config
	logger     *zap.Logger
	ks         *keystore.Keystore
	client     *api.Client
	controller *session.Controller
	monitor    *proximity.Monitor
	generator  *proof.Generator
	source     *radio.WSSource
}

// New constructs the agent graph.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	ks, err := keystore.Open(cfg.Keystore.Dir)
	if err != nil {
		return nil, err
	}
	pubPEM, err := ks.PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.Backend.BaseURL, logger)
	controller := session.NewController(client, ks.DeviceID(), pubPEM, logger)

	a := &Agent{
		cfg:        cfg,
		logger:     logger.With(zap.String("device_id", ks.DeviceID())),
		ks:         ks,
		client:     client,
		controller: controller,
	}

	a.generator = proof.NewGenerator(ks, a.currentToken, int64(cfg.Proof.SlotSeconds), a.publishProof, a.logger)
	a.monitor = proximity.NewMonitor(proximity.Config{
		BeaconName:    cfg.Beacon.Name,
		RSSIThreshold: cfg.Beacon.RSSIThreshold,
		StableFor:     cfg.StableFor(),
		LossTimeout:   cfg.LossTimeout(),
		Tick:          cfg.Tick(),
	}, proximity.Callbacks{
		SessionActive: controller.Active,
		OnEntered:     a.onProximityEntered,
		OnLost:        a.onProximityLost,
		OnStatus:      func(status string) { a.logger.Info("proximity status", zap.String("status", status)) },
	})
	a.source = radio.NewWSSource(cfg.Radio.FeedURL,
		func(status string) { a.logger.Info("radio status", zap.String("status", status)) },
		a.logger,
	)
	return a, nil
}

// Run registers the device and runs the radio source, the proximity
// monitor and the proof generator until ctx is cancelled. Stopping
// mid-session leaves the session open: absence of the monitor is not
// proof of absence of the rider.
func (a *Agent) Run(ctx context.Context) error {
	regCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	pubPEM, _ := a.ks.PublicKeyPEM()
	if err := a.client.RegisterDevice(regCtx, a.ks.DeviceID(), pubPEM); err != nil {
		// Not fatal; the controller re-registers on demand.
		a.logger.Warn("device registration failed", zap.Error(err))
	}
	cancel()

	go func() {
		if err := a.source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("radio source stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := a.generator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("proof generator stopped", zap.Error(err))
		}
	}()

	err := a.monitor.Run(ctx, a.source.Observations())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Agent) currentToken() (string, bool) {
	_, tok, ok := a.controller.Current()
	return tok, ok
}

// publishProof hands the fresh proof to the external QR codec. In this
// headless agent that boundary is a log line carrying the wire JSON.
func (a *Agent) publishProof(p token.RotatingProof) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	a.logger.Info("proof rotated",
		zap.Int64("slot", p.Slot),
		zap.ByteString("qr", data),
	)
}

func (a *Agent) onProximityEntered() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		_, err := a.controller.Start(ctx, a.cfg.Beacon.Name, "beacon")
		if err != nil {
			if !errors.Is(err, session.ErrStartInFlight) {
				a.logger.Warn("auto start failed", zap.Error(err))
			}
			return
		}
		// Show a proof right away instead of waiting out the slot.
		if err := a.generator.Refresh(); err != nil {
			a.logger.Warn("proof refresh failed", zap.Error(err))
		}
	}()
}

func (a *Agent) onProximityLost() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		result, err := a.controller.EndActive(ctx, "beacon-loss")
		if err != nil {
			if !errors.Is(err, session.ErrNoActiveSession) {
				a.logger.Warn("auto end failed", zap.Error(err))
			}
			return
		}
		_ = a.generator.Refresh() // clears the displayed proof

		a.logger.Info("day fare after trip",
			zap.Int("total_cents", result.TotalCents),
			zap.Bool("capped", result.Capped),
		)
	}()
}
