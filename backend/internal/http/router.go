package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	RegisterDevice   http.HandlerFunc
	SessionStart     http.HandlerFunc
	SessionEnd       http.HandlerFunc
	FareToday        http.HandlerFunc
	TripsToday       http.HandlerFunc
	PublicKey        http.HandlerFunc
	Health           http.HandlerFunc
	DeleteTodayTrips http.HandlerFunc
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.RegisterDevice != nil {
		mux.Handle("/device/register", method(http.MethodPost, routes.RegisterDevice))
	}
	if routes.SessionStart != nil {
		mux.Handle("/session/start", method(http.MethodPost, routes.SessionStart))
	}
	if routes.SessionEnd != nil {
		mux.Handle("/session/end", method(http.MethodPost, routes.SessionEnd))
	}
	if routes.FareToday != nil {
		mux.Handle("/fare/today", method(http.MethodGet, routes.FareToday))
	}
	if routes.TripsToday != nil {
		mux.Handle("/trips/today", method(http.MethodGet, routes.TripsToday))
	}
	if routes.PublicKey != nil {
		mux.Handle("/.well-known/backend-public.pem", method(http.MethodGet, routes.PublicKey))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.DeleteTodayTrips != nil {
		mux.Handle("/debug/delete-today-trips", method(http.MethodPost, routes.DeleteTodayTrips))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
