package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ridepass/backend/internal/service"
)

type deleteTripsRequest struct {
	DeviceID string `json:"deviceId"`
}

// NewDeleteTodayTripsHandler returns POST /debug/delete-today-trips,
// a trial-operations reset that wipes a device's sessions for the current
// UTC day. Only routed when debug endpoints are enabled in config.
func NewDeleteTodayTripsHandler(svc *service.SessionsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteTripsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.DeviceID == "" {
			writeError(w, http.StatusBadRequest, "deviceId required")
			return
		}

		deleted, err := svc.DeleteTrips(r.Context(), req.DeviceID, time.Now())
		if err != nil {
			logger.Error("trip delete failed", zap.String("device_id", req.DeviceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to delete trips")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":           true,
			"deletedCount": deleted,
		})
	}
}
