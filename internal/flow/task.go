// Package flow carries state across the orchestrator's stateless invocations.
// Because the engine is the only durable store, every scheduled task and timer
// embeds a flow envelope {trip, stage, task}, and every decision round starts
// by recovering that envelope from the workflow's event history.
package flow

import (
	"encoding/json"
	"fmt"

	"github.com/pippuri/whim-bot-sub001/internal/fault"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

// TaskName identifies one unit of lifecycle work.
type TaskName string

const (
	TaskNoOperation    TaskName = "NO_OPERATION"
	TaskStartTrip      TaskName = "START_TRIP"
	TaskActivateTrip   TaskName = "ACTIVATE_TRIP"
	TaskCheckItinerary TaskName = "CHECK_ITINERARY"
	TaskCheckLeg       TaskName = "CHECK_LEG"
	TaskCloseTrip      TaskName = "CLOSE_TRIP"
	TaskCancelTrip     TaskName = "CANCEL_TRIP"
)

// ParamLegID is the task parameter naming the leg a CHECK_LEG round targets.
const ParamLegID = "legId"

// Task is one named unit of work with opaque parameters.
type Task struct {
	Name   TaskName       `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// LegID returns the leg id parameter, or "" when absent.
func (t Task) LegID() string {
	id, _ := t.Params[ParamLegID].(string)
	return id
}

// Lifecycle stages recorded in the flow envelope. The stage is informational
// context for the engine's execution-context field and for debugging; the
// decision logic keys on the task name.
const (
	StageStart      = "start"
	StageActivation = "activation"
	StageInProgress = "in-progress"
	StageClosing    = "closing"
)

// StageFor maps a task to the lifecycle stage it runs in.
func StageFor(name TaskName) string {
	switch name {
	case TaskStartTrip:
		return StageStart
	case TaskActivateTrip:
		return StageActivation
	case TaskCloseTrip, TaskCancelTrip:
		return StageClosing
	default:
		return StageInProgress
	}
}

// Envelope is the full flow state embedded in every scheduled task and timer.
type Envelope struct {
	Trip  trip.Trip `json:"trip"`
	Stage string    `json:"stage"`
	Task  Task      `json:"task"`
}

// Encode serializes the envelope for an activity input or timer control.
func (e Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode flow envelope: %w", err)
	}
	return string(raw), nil
}

// ParseEnvelope decodes and validates a flow envelope recovered from history.
func ParseEnvelope(raw string) (*Envelope, error) {
	if raw == "" {
		return nil, fault.New(fault.KindDomain, "empty flow envelope")
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fault.Wrap(fault.KindDomain, "malformed flow envelope", err)
	}
	if err := env.Trip.Validate(); err != nil {
		return nil, fault.Wrap(fault.KindDomain, "flow envelope carries an invalid trip", err)
	}
	if env.Task.Name == "" {
		return nil, fault.New(fault.KindDomain, "flow envelope carries no task")
	}
	return &env, nil
}

// ActivityResult is the payload an executed activity reports back. The input
// envelope is echoed so the next decision round can recover state from the
// completion event alone.
type ActivityResult struct {
	Input  Envelope        `json:"input"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
