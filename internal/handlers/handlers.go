// Package handlers contains the HTTP handlers of the trip API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/fault"
	"github.com/pippuri/whim-bot-sub001/internal/notify"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

// TripService starts and cancels trip workflows.
type TripService interface {
	StartTrip(ctx context.Context, t trip.Trip) (string, error)
	CancelTrip(ctx context.Context, t trip.Trip) error
}

// Handler contains the HTTP handlers for the API.
type Handler struct {
	trips TripService
	hub   *notify.Hub
	log   *zap.Logger
}

func NewHandler(trips TripService, hub *notify.Hub, log *zap.Logger) *Handler {
	return &Handler{trips: trips, hub: hub, log: log}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// CreateTripRequest is a request to start tracking a booked itinerary.
type CreateTripRequest struct {
	ReferenceID   string `json:"referenceId"`
	ReferenceType string `json:"referenceType"`
	IdentityID    string `json:"identityId"`
	EndTime       int64  `json:"endTime"`
}

// CreateTripResponse acknowledges a started trip workflow.
type CreateTripResponse struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

// CreateTrip handles POST /api/trips
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req CreateTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := trip.New(req.ReferenceID, trip.ReferenceType(req.ReferenceType), req.IdentityID, req.EndTime)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID, err := h.trips.StartTrip(r.Context(), t)
	if err != nil {
		h.log.Error("failed to start trip workflow",
			zap.String("workflowId", t.Reference()),
			zap.Error(err))
		respondError(w, statusFor(err), "Failed to start trip")
		return
	}

	respondJSON(w, http.StatusCreated, CreateTripResponse{
		WorkflowID: t.Reference(),
		RunID:      runID,
	})
}

// CancelTrip handles DELETE /api/trips/{referenceId}. The caller is expected
// to have cancelled the itinerary already; this only winds down the workflow.
func (h *Handler) CancelTrip(w http.ResponseWriter, r *http.Request) {
	referenceID := mux.Vars(r)["referenceId"]

	var req struct {
		IdentityID string `json:"identityId"`
		EndTime    int64  `json:"endTime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := trip.New(referenceID, trip.ReferenceTypeItinerary, req.IdentityID, req.EndTime)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.trips.CancelTrip(r.Context(), t); err != nil {
		h.log.Error("failed to cancel trip workflow",
			zap.String("workflowId", t.Reference()),
			zap.Error(err))
		respondError(w, statusFor(err), "Failed to cancel trip")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Trip cancelled"})
}

// Notifications handles GET /api/identities/{id}/notifications/ws, upgrading
// to a WebSocket subscription for the identity's trip notifications.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	identityID := mux.Vars(r)["id"]
	if identityID == "" {
		respondError(w, http.StatusBadRequest, "Identity id is required")
		return
	}
	h.hub.ServeWS(w, r, identityID)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func statusFor(err error) int {
	var fe *fault.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fault.KindValidation:
			return http.StatusBadRequest
		case fault.KindDomain:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}
