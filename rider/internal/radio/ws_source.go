package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	reconnectBaseDelay  = 1 * time.Second
	maxReconnectTries   = 6
	observationBuffer   = 64
	wsHandshakeDeadline = 5 * time.Second
)

// WSSource consumes beacon observations pushed by the radio stack over a
// WebSocket and delivers them on a bounded channel, decoupling radio
// timing from monitor logic. Malformed frames are dropped silently; when
// the buffer is full the oldest pending observation is discarded.
type WSSource struct {
	url      string
	out      chan Observation
	onStatus func(status string)
	logger   *zap.Logger
}

// NewWSSource builds a source for the given feed URL. onStatus may be nil.
func NewWSSource(url string, onStatus func(string), logger *zap.Logger) *WSSource {
	return &WSSource{
		url:      url,
		out:      make(chan Observation, observationBuffer),
		onStatus: onStatus,
		logger:   logger,
	}
}

// Observations returns the delivery channel. It is closed when Run returns.
func (s *WSSource) Observations() <-chan Observation {
	return s.out
}

// Run connects and reads until ctx is cancelled. Connection failures are
// retried with capped exponential backoff; after the attempt budget is
// spent a fatal status is reported and Run returns instead of retrying
// forever.
func (s *WSSource) Run(ctx context.Context) error {
	defer close(s.out)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempt++
			if attempt >= maxReconnectTries {
				s.status(fmt.Sprintf("radio feed unreachable after %d attempts", attempt))
				return fmt.Errorf("radio: connect %s: %w", s.url, err)
			}
			delay := reconnectBaseDelay << (attempt - 1)
			s.status(fmt.Sprintf("radio feed retry in %s", delay))
			s.logger.Warn("radio feed connect failed",
				zap.String("url", s.url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		s.status("radio feed connected")
		s.read(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.status("radio feed disconnected")
	}
}

func (s *WSSource) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, wsHandshakeDeadline)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	return conn, err
}

func (s *WSSource) read(ctx context.Context, conn *websocket.Conn) {
	// Unblock the reader when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil || f.Name == "" {
			continue
		}

		obs := f.observation(time.Now())
		select {
		case s.out <- obs:
		default:
			select {
			case <-s.out:
			default:
			}
			select {
			case s.out <- obs:
			default:
			}
		}
	}
}

func (s *WSSource) status(msg string) {
	if s.onStatus != nil {
		s.onStatus(msg)
	}
}
