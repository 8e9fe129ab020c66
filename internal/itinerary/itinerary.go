// Package itinerary consumes the itinerary/leg/booking aggregates owned by the
// trips service. State transition rules live in that service; this package
// defines the call contract and the states the orchestrator reacts to.
package itinerary

import (
	"context"

	"github.com/pippuri/whim-bot-sub001/internal/ledger"
)

// State is the lifecycle state of an itinerary.
type State string

const (
	StatePlanned             State = "PLANNED"
	StatePaid                State = "PAID"
	StateActivated           State = "ACTIVATED"
	StateCancelled           State = "CANCELLED"
	StateCancelledWithErrors State = "CANCELLED_WITH_ERRORS"
	StateFinished            State = "FINISHED"
	StateAbandoned           State = "ABANDONED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCancelled, StateCancelledWithErrors, StateFinished, StateAbandoned:
		return true
	}
	return false
}

// InProgress reports whether legs of this itinerary should be swept.
func (s State) InProgress() bool {
	return s == StatePaid || s == StateActivated
}

// LegState is the lifecycle state of a single leg.
type LegState string

const (
	LegUpcoming            LegState = "UPCOMING"
	LegActivated           LegState = "ACTIVATED"
	LegFinished            LegState = "FINISHED"
	LegCancelled           LegState = "CANCELLED"
	LegCancelledWithErrors LegState = "CANCELLED_WITH_ERRORS"
)

// Terminal reports whether the leg can no longer be activated.
func (s LegState) Terminal() bool {
	switch s {
	case LegFinished, LegCancelled, LegCancelledWithErrors:
		return true
	}
	return false
}

// BookingState is the provider-side state of a leg's booking.
type BookingState string

const (
	BookingReserved  BookingState = "RESERVED"
	BookingConfirmed BookingState = "CONFIRMED"
	BookingActivated BookingState = "ACTIVATED"
	BookingCancelled BookingState = "CANCELLED"
	BookingRejected  BookingState = "REJECTED"
	BookingExpired   BookingState = "EXPIRED"
)

// Usable reports whether the booking is in a state the traveller can ride on.
func (s BookingState) Usable() bool {
	switch s {
	case BookingReserved, BookingConfirmed, BookingActivated:
		return true
	}
	return false
}

// Booking is the third-party reservation backing a leg, if any.
type Booking struct {
	ID     string       `json:"id"`
	State  BookingState `json:"state"`
	Agency string       `json:"agencyId,omitempty"`
}

// Leg is one atomic segment of an itinerary. Times are epoch milliseconds.
type Leg struct {
	ID        string   `json:"id"`
	Mode      string   `json:"mode"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	StartTime int64    `json:"startTime"`
	EndTime   int64    `json:"endTime"`
	State     LegState `json:"state"`
	Booking   *Booking `json:"booking,omitempty"`
}

// Itinerary is an ordered collection of legs representing a planned trip.
type Itinerary struct {
	ID         string `json:"id"`
	IdentityID string `json:"identityId"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	State      State  `json:"state"`
	Legs       []Leg  `json:"legs"`
}

// Leg returns the leg with the given id, or nil.
func (it *Itinerary) Leg(id string) *Leg {
	for i := range it.Legs {
		if it.Legs[i].ID == id {
			return &it.Legs[i]
		}
	}
	return nil
}

// ActivateLegOptions tunes a leg activation.
type ActivateLegOptions struct {
	// ReuseBooking permits re-using an existing booking instead of making a
	// fresh one, which keeps redelivered activations idempotent.
	ReuseBooking bool `json:"reuseBooking"`
}

// Service is the trips-service call contract consumed by the orchestrator.
// Each state-changing call fails with a typed error when the aggregate is in a
// state that does not permit the transition.
type Service interface {
	Retrieve(ctx context.Context, id string) (*Itinerary, error)
	Pay(ctx context.Context, id string) (*Itinerary, error)
	Activate(ctx context.Context, id string) (*Itinerary, error)
	Finish(ctx context.Context, id string) (*Itinerary, error)

	// ActivateLeg activates one leg, recording any point charge on the open
	// ledger transaction. The caller owns commit/rollback.
	ActivateLeg(ctx context.Context, tx ledger.Transaction, itineraryID, legID string, opts ActivateLegOptions) (*Leg, error)
	FinishLeg(ctx context.Context, itineraryID, legID string) (*Leg, error)
}
