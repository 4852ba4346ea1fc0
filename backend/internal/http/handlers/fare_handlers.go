package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"ridepass/backend/internal/service"
)

// FareHandlers holds the billing read endpoints.
type FareHandlers struct {
	fare   *service.FareService
	logger *zap.Logger
}

// NewFareHandlers builds the handler set.
func NewFareHandlers(fare *service.FareService, logger *zap.Logger) *FareHandlers {
	return &FareHandlers{fare: fare, logger: logger}
}

// HandleFareToday handles GET /fare/today?deviceId=...
func (h *FareHandlers) HandleFareToday(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId required")
		return
	}

	summary, err := h.fare.FareFor(r.Context(), deviceID, time.Now())
	if err != nil {
		h.logger.Error("fare lookup failed", zap.String("device_id", deviceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute fare")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalCents": summary.TotalCents,
		"capped":     summary.Capped,
	})
}

// HandleTripsToday handles GET /trips/today?deviceId=...
func (h *FareHandlers) HandleTripsToday(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId required")
		return
	}

	summary, err := h.fare.TripsFor(r.Context(), deviceID, time.Now())
	if err != nil {
		h.logger.Error("trips lookup failed", zap.String("device_id", deviceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list trips")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
