package service

import (
	"context"
	"time"
)

// Default pricing in minor currency units.
const (
	DefaultPriceCents  = 300
	DefaultDayCapCents = 800
)

// FareService computes a device's charge for one calendar day. It is a
// pure function of persisted sessions; nothing is accumulated here.
type FareService struct {
	sessions    SessionRepository
	priceCents  int
	dayCapCents int
}

// NewFareService builds the aggregator. Non-positive price or cap values
// fall back to the trial defaults.
func NewFareService(sessions SessionRepository, priceCents, dayCapCents int) *FareService {
	if priceCents <= 0 {
		priceCents = DefaultPriceCents
	}
	if dayCapCents <= 0 {
		dayCapCents = DefaultDayCapCents
	}
	return &FareService{
		sessions:    sessions,
		priceCents:  priceCents,
		dayCapCents: dayCapCents,
	}
}

// FareSummary is the day total for a device.
type FareSummary struct {
	TotalCents int
	Capped     bool
}

// Trip is one completed ride in a trips listing, with epoch-second times
// as transmitted on the wire.
type Trip struct {
	SessionID string `json:"sessionId"`
	VehicleID string `json:"vehicleId"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// TripsSummary is the itemized bill for a device's day.
type TripsSummary struct {
	Trips         []Trip `json:"trips"`
	TripCount     int    `json:"tripCount"`
	PricePerTrip  int    `json:"pricePerTrip"`
	SubtotalCents int    `json:"subtotalCents"`
	TotalCents    int    `json:"totalCents"`
	Capped        bool   `json:"capped"`
	DayCap        int    `json:"dayCap"`
}

// FareFor totals the device's completed sessions within the UTC day of
// asOf, applying the per-trip price and the daily cap.
func (s *FareService) FareFor(ctx context.Context, deviceID string, asOf time.Time) (FareSummary, error) {
	from, to := dayWindow(asOf)
	count, err := s.sessions.CountEndedBetween(ctx, deviceID, from, to)
	if err != nil {
		return FareSummary{}, err
	}
	total, capped := s.applyCap(count)
	return FareSummary{TotalCents: total, Capped: capped}, nil
}

// TripsFor itemizes the device's completed sessions for the UTC day of asOf.
func (s *FareService) TripsFor(ctx context.Context, deviceID string, asOf time.Time) (TripsSummary, error) {
	from, to := dayWindow(asOf)
	sessions, err := s.sessions.ListEndedBetween(ctx, deviceID, from, to)
	if err != nil {
		return TripsSummary{}, err
	}

	trips := make([]Trip, 0, len(sessions))
	for _, sess := range sessions {
		trip := Trip{
			SessionID: sess.SessionID,
			VehicleID: sess.VehicleID,
			StartTime: sess.StartTime.Unix(),
		}
		if sess.EndTime != nil {
			trip.EndTime = sess.EndTime.Unix()
		}
		trips = append(trips, trip)
	}

	total, capped := s.applyCap(len(trips))
	return TripsSummary{
		Trips:         trips,
		TripCount:     len(trips),
		PricePerTrip:  s.priceCents,
		SubtotalCents: len(trips) * s.priceCents,
		TotalCents:    total,
		Capped:        capped,
		DayCap:        s.dayCapCents,
	}, nil
}

func (s *FareService) applyCap(count int) (int, bool) {
	subtotal := count * s.priceCents
	if subtotal > s.dayCapCents {
		return s.dayCapCents, true
	}
	return subtotal, false
}

func dayWindow(asOf time.Time) (time.Time, time.Time) {
	utc := asOf.UTC()
	from := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour)
}
