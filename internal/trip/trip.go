// Package trip defines the value object identifying what a workflow tracks.
package trip

import (
	"github.com/pippuri/whim-bot-sub001/internal/fault"
)

// ReferenceType identifies the kind of aggregate a trip tracks.
type ReferenceType string

// ReferenceTypeItinerary is the only reference type currently supported.
const ReferenceTypeItinerary ReferenceType = "itinerary"

// Trip identifies the aggregate a workflow drives through its lifecycle.
// Construct it with New; a Trip is never mutated after construction.
type Trip struct {
	ReferenceID   string        `json:"referenceId"`
	ReferenceType ReferenceType `json:"referenceType"`
	IdentityID    string        `json:"identityId"`
	// EndTime is the scheduled trip end, epoch milliseconds.
	EndTime int64 `json:"endTime"`
}

// New validates the fields and returns an immutable Trip.
func New(referenceID string, referenceType ReferenceType, identityID string, endTime int64) (Trip, error) {
	t := Trip{
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		IdentityID:    identityID,
		EndTime:       endTime,
	}
	if err := t.Validate(); err != nil {
		return Trip{}, err
	}
	return t, nil
}

// Validate checks the invariants New enforces. It exists separately so trips
// decoded from a flow envelope go through the same checks.
func (t Trip) Validate() error {
	if t.ReferenceID == "" {
		return fault.New(fault.KindValidation, "trip reference id must not be empty")
	}
	if t.ReferenceType != ReferenceTypeItinerary {
		return fault.Newf(fault.KindValidation, "unsupported trip reference type %q", t.ReferenceType)
	}
	if t.IdentityID == "" {
		return fault.New(fault.KindValidation, "trip identity id must not be empty")
	}
	if t.EndTime <= 0 {
		return fault.New(fault.KindValidation, "trip end time must be set")
	}
	return nil
}

// Reference derives the workflow identity for this trip.
func (t Trip) Reference() string {
	return string(t.ReferenceType) + "." + t.ReferenceID
}
