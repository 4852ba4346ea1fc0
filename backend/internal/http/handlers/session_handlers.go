package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ridepass/backend/internal/repository"
	"ridepass/backend/internal/service"
)

// SessionHandlers holds the session lifecycle endpoints.
type SessionHandlers struct {
	svc    *service.SessionsService
	logger *zap.Logger
}

// NewSessionHandlers builds the handler set.
func NewSessionHandlers(svc *service.SessionsService, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{svc: svc, logger: logger}
}

type startSessionRequest struct {
	DeviceID  string `json:"deviceId"`
	VehicleID string `json:"vehicleId"`
}

type endSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// HandleStart handles POST /session/start.
func (h *SessionHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeviceID == "" || req.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "deviceId and vehicleId required")
		return
	}

	result, err := h.svc.StartSession(r.Context(), req.DeviceID, req.VehicleID)
	if err != nil {
		if errors.Is(err, service.ErrDeviceNotRegistered) {
			writeError(w, http.StatusNotFound, "device not registered")
			return
		}
		h.logger.Error("session start failed", zap.String("device_id", req.DeviceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     result.Token,
		"sessionId": result.SessionID,
	})
}

// HandleEnd handles POST /session/end.
func (h *SessionHandlers) HandleEnd(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId required")
		return
	}

	result, err := h.svc.EndSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("session end failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	resp := map[string]interface{}{
		"ok":         true,
		"totalCents": result.TotalCents,
		"capped":     result.Capped,
	}
	if result.AlreadyEnded {
		resp["alreadyEnded"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}
