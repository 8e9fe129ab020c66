package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pippuri/whim-bot-sub001/internal/handlers"
)

// SetupRouter creates and configures the HTTP router
func SetupRouter(h *handlers.Handler) *mux.Router {
	r := mux.NewRouter()

	// CORS middleware
	r.Use(corsMiddleware)

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Trips
	api.HandleFunc("/trips", h.CreateTrip).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/trips/{referenceId}", h.CancelTrip).Methods(http.MethodDelete, http.MethodOptions)

	// WebSocket for real-time trip notifications
	api.HandleFunc("/identities/{id}/notifications/ws", h.Notifications)

	// Health check
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
