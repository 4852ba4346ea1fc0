// Package api is the rider's HTTP client for the ridepass backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDeviceNotRegistered is returned when the backend does not know
	// this device's public key.
	ErrDeviceNotRegistered = errors.New("api: device not registered")
	// ErrSessionNotFound is returned when ending an unknown session.
	ErrSessionNotFound = errors.New("api: session not found")
	// ErrUnavailable wraps transport failures and 5xx responses that
	// survived the bounded retry.
	ErrUnavailable = errors.New("api: backend unavailable")
)

const (
	requestTimeout = 5 * time.Second
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Client talks to the backend. All billing-affecting calls surface their
// failures as typed errors; nothing is swallowed.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient builds the client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// StartResult is the backend's response to a session start.
type StartResult struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// EndResult is the backend's response to a session end.
type EndResult struct {
	OK           bool `json:"ok"`
	AlreadyEnded bool `json:"alreadyEnded"`
	TotalCents   int  `json:"totalCents"`
	Capped       bool `json:"capped"`
}

// FareResult is the day fare summary.
type FareResult struct {
	TotalCents int  `json:"totalCents"`
	Capped     bool `json:"capped"`
}

// TripsResult is the itemized day bill.
type TripsResult struct {
	Trips []struct {
		SessionID string `json:"sessionId"`
		VehicleID string `json:"vehicleId"`
		StartTime int64  `json:"startTime"`
		EndTime   int64  `json:"endTime"`
	} `json:"trips"`
	TripCount     int  `json:"tripCount"`
	PricePerTrip  int  `json:"pricePerTrip"`
	SubtotalCents int  `json:"subtotalCents"`
	TotalCents    int  `json:"totalCents"`
	Capped        bool `json:"capped"`
	DayCap        int  `json:"dayCap"`
}

// RegisterDevice upserts the device public key. Safe to repeat.
func (c *Client) RegisterDevice(ctx context.Context, deviceID, pubKeyPEM string) error {
	body := map[string]string{"deviceId": deviceID, "devicePubKeyPem": pubKeyPEM}
	return c.postJSON(ctx, "/device/register", body, nil)
}

// StartSession asks the backend to open a session and issue a credential.
// The backend deduplicates concurrent and repeated starts per device, so
// retrying this call cannot issue a second credential.
func (c *Client) StartSession(ctx context.Context, deviceID, vehicleID string) (*StartResult, error) {
	body := map[string]string{"deviceId": deviceID, "vehicleId": vehicleID}
	var result StartResult
	if err := c.postJSON(ctx, "/session/start", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EndSession closes the session. Idempotent on the backend.
func (c *Client) EndSession(ctx context.Context, sessionID string) (*EndResult, error) {
	body := map[string]string{"sessionId": sessionID}
	var result EndResult
	if err := c.postJSON(ctx, "/session/end", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FareToday fetches the device's current day total.
func (c *Client) FareToday(ctx context.Context, deviceID string) (*FareResult, error) {
	var result FareResult
	if err := c.getJSON(ctx, "/fare/today?deviceId="+url.QueryEscape(deviceID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TripsToday fetches the device's itemized day bill.
func (c *Client) TripsToday(ctx context.Context, deviceID string) (*TripsResult, error) {
	var result TripsResult
	if err := c.getJSON(ctx, "/trips/today?deviceId="+url.QueryEscape(deviceID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchPublicKeyPEM retrieves the backend's signing key from its
// well-known endpoint.
func (c *Client) FetchPublicKeyPEM(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/.well-known/backend-public.pem", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	}, out)
}

// doWithRetry retries transport failures and 5xx responses a bounded
// number of times. 4xx responses are mapped to typed errors immediately.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error), out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := build()
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			c.logger.Warn("backend request failed",
				zap.String("path", req.URL.Path),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		done, err := c.consume(resp, out)
		if done {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// consume reads the response. The bool reports whether the outcome is
// final (success or non-retryable failure).
func (c *Client) consume(resp *http.Response, out interface{}) (bool, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "session not found" {
			return true, ErrSessionNotFound
		}
		return true, ErrDeviceNotRegistered
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return true, fmt.Errorf("api: status %d: %s", resp.StatusCode, payload.Error)
	}

	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return true, fmt.Errorf("api: decode response: %w", err)
	}
	return true, nil
}
