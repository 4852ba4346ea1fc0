package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"ridepass/backend/internal/service"
)

type registerDeviceRequest struct {
	DeviceID        string `json:"deviceId"`
	DevicePubKeyPEM string `json:"devicePubKeyPem"`
}

// NewRegisterDeviceHandler returns the POST /device/register handler.
func NewRegisterDeviceHandler(issuer *service.IssuerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.DeviceID == "" || req.DevicePubKeyPEM == "" {
			writeError(w, http.StatusBadRequest, "deviceId and devicePubKeyPem required")
			return
		}

		if err := issuer.RegisterDevice(r.Context(), req.DeviceID, req.DevicePubKeyPEM); err != nil {
			logger.Error("device registration failed", zap.String("device_id", req.DeviceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to register device")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
