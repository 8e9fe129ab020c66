package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/fault"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

type mockTripService struct {
	mock.Mock
}

func (m *mockTripService) StartTrip(ctx context.Context, t trip.Trip) (string, error) {
	args := m.Called(ctx, t)
	return args.String(0), args.Error(1)
}

func (m *mockTripService) CancelTrip(ctx context.Context, t trip.Trip) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func newTestRouter(trips TripService) *mux.Router {
	h := NewHandler(trips, nil, zap.NewNop())
	r := mux.NewRouter()
	r.HandleFunc("/api/trips", h.CreateTrip).Methods(http.MethodPost)
	r.HandleFunc("/api/trips/{referenceId}", h.CancelTrip).Methods(http.MethodDelete)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	return r
}

func TestCreateTrip_StartsWorkflow(t *testing.T) {
	trips := new(mockTripService)
	trips.On("StartTrip", mock.Anything, mock.MatchedBy(func(tr trip.Trip) bool {
		return tr.ReferenceID == "itn-1" && tr.IdentityID == "identity-1"
	})).Return("run-42", nil)

	body, _ := json.Marshal(CreateTripRequest{
		ReferenceID:   "itn-1",
		ReferenceType: "itinerary",
		IdentityID:    "identity-1",
		EndTime:       time.Now().Add(2 * time.Hour).UnixMilli(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/trips", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(trips).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateTripResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "itinerary.itn-1", resp.WorkflowID)
	assert.Equal(t, "run-42", resp.RunID)
	trips.AssertExpectations(t)
}

func TestCreateTrip_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{not json`},
		{name: "unsupported reference type", body: `{"referenceId":"b-1","referenceType":"bus","identityId":"identity-1","endTime":1700000000000}`},
		{name: "missing identity", body: `{"referenceId":"itn-1","referenceType":"itinerary","endTime":1700000000000}`},
		{name: "zero end time", body: `{"referenceId":"itn-1","referenceType":"itinerary","identityId":"identity-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trips := new(mockTripService)

			req := httptest.NewRequest(http.MethodPost, "/api/trips", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			newTestRouter(trips).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			trips.AssertNotCalled(t, "StartTrip", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateTrip_EngineFailureMapsToStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "domain conflict", err: fault.New(fault.KindDomain, "workflow already started"), expected: http.StatusConflict},
		{name: "transient failure", err: fault.New(fault.KindTransient, "engine unreachable"), expected: http.StatusInternalServerError},
		{name: "untyped failure", err: assert.AnError, expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trips := new(mockTripService)
			trips.On("StartTrip", mock.Anything, mock.Anything).Return("", tt.err)

			body, _ := json.Marshal(CreateTripRequest{
				ReferenceID:   "itn-1",
				ReferenceType: "itinerary",
				IdentityID:    "identity-1",
				EndTime:       time.Now().Add(time.Hour).UnixMilli(),
			})

			req := httptest.NewRequest(http.MethodPost, "/api/trips", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			newTestRouter(trips).ServeHTTP(rec, req)

			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestCancelTrip_SignalsWorkflow(t *testing.T) {
	trips := new(mockTripService)
	trips.On("CancelTrip", mock.Anything, mock.MatchedBy(func(tr trip.Trip) bool {
		return tr.ReferenceID == "itn-1"
	})).Return(nil)

	body := []byte(`{"identityId":"identity-1","endTime":1700000000000}`)
	req := httptest.NewRequest(http.MethodDelete, "/api/trips/itn-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(trips).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	trips.AssertExpectations(t)
}

func TestCancelTrip_MissingIdentityRejected(t *testing.T) {
	trips := new(mockTripService)

	body := []byte(`{"endTime":1700000000000}`)
	req := httptest.NewRequest(http.MethodDelete, "/api/trips/itn-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(trips).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	trips.AssertNotCalled(t, "CancelTrip", mock.Anything, mock.Anything)
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	newTestRouter(new(mockTripService)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp["status"])
}
