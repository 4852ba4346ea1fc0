package handlers

import "net/http"

// NewPublicKeyHandler serves the server's public signing key as PEM at a
// well-known path so any verifier can bootstrap trust without auth.
func NewPublicKeyHandler(publicKeyPEM []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(publicKeyPEM)
	}
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
