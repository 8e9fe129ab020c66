package flow

import (
	"encoding/json"
	"fmt"

	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

// WorkflowContext is the trip state reconstructed from one decision task's
// bounded page of event history. Reconstruction is pure: it performs no I/O
// and is deterministic for a given page. A context holds either a current
// task or a lost-context classification, never neither.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	TaskToken  string

	Trip  trip.Trip
	Stage string
	Task  Task

	lostReason string
}

// Lost reports whether the page did not allow state recovery. A lost context
// forces the round to abort the workflow.
func (c *WorkflowContext) Lost() bool {
	return c.lostReason != ""
}

// LostReason describes why reconstruction failed, or "".
func (c *WorkflowContext) LostReason() string {
	return c.lostReason
}

// NewWorkflowContext reconstructs trip state from a polled decision task.
// The task's events are expected newest first; the scan trusts only the
// newest business-relevant event, which makes duplicate or out-of-order
// delivery of older events harmless.
func NewWorkflowContext(task *engine.DecisionTask) *WorkflowContext {
	ctx := &WorkflowContext{
		WorkflowID: task.WorkflowExecution.WorkflowID,
		RunID:      task.WorkflowExecution.RunID,
		TaskToken:  task.TaskToken,
	}

	env, err := reconstruct(task.Events)
	if err != nil {
		ctx.lostReason = err.Error()
		return ctx
	}

	ctx.Trip = env.Trip
	ctx.Stage = env.Stage
	ctx.Task = env.Task
	return ctx
}

// reconstruct scans newest to oldest for the first business-relevant event
// and recovers the flow envelope it carries.
func reconstruct(events []engine.HistoryEvent) (*Envelope, error) {
	for i := range events {
		ev := &events[i]

		if ev.Type.IsError() {
			return nil, fmt.Errorf("history head is an error event %s", ev.Type)
		}

		switch ev.Type {
		case engine.EventWorkflowStarted:
			if ev.WorkflowStarted == nil {
				return nil, fmt.Errorf("started event %d carries no attributes", ev.ID)
			}
			return ParseEnvelope(ev.WorkflowStarted.Input)

		case engine.EventWorkflowSignaled:
			if ev.Signaled == nil {
				return nil, fmt.Errorf("signal event %d carries no attributes", ev.ID)
			}
			return ParseEnvelope(ev.Signaled.Input)

		case engine.EventActivityCompleted:
			if ev.ActivityCompleted == nil {
				return nil, fmt.Errorf("completion event %d carries no attributes", ev.ID)
			}
			return envelopeFromResult(ev.ActivityCompleted.Result)

		case engine.EventTimerFired:
			if ev.TimerFired == nil {
				return nil, fmt.Errorf("timer fired event %d carries no attributes", ev.ID)
			}
			return envelopeFromTimer(events, ev.TimerFired)

		case engine.EventActivityFailed:
			if ev.ActivityFailed == nil {
				return nil, fmt.Errorf("failure event %d carries no attributes", ev.ID)
			}
			return envelopeFromFailure(events, ev.ActivityFailed)

		default:
			// Bookkeeping: decision-task progress, schedule/start records,
			// markers. Keep scanning.
		}
	}
	return nil, fmt.Errorf("no business event in a page of %d events", len(events))
}

// envelopeFromResult recovers state from a completed activity. The result
// embeds {input, result}; the input is the envelope the activity was
// scheduled with.
func envelopeFromResult(raw string) (*Envelope, error) {
	var res ActivityResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("malformed activity result: %w", err)
	}
	if err := res.Input.Trip.Validate(); err != nil {
		return nil, fmt.Errorf("activity result carries an invalid trip: %w", err)
	}
	if res.Input.Task.Name == "" {
		return nil, fmt.Errorf("activity result carries no task")
	}
	return &res.Input, nil
}

// envelopeFromTimer recovers state from a fired timer: the firing event
// carries no payload, so the originating TimerStarted event must be present
// in the same page and is located by timer id.
func envelopeFromTimer(events []engine.HistoryEvent, fired *engine.TimerFiredAttributes) (*Envelope, error) {
	for i := range events {
		ev := &events[i]
		if ev.Type != engine.EventTimerStarted || ev.TimerStarted == nil {
			continue
		}
		if ev.TimerStarted.TimerID == fired.TimerID {
			return ParseEnvelope(ev.TimerStarted.Control)
		}
	}
	return nil, fmt.Errorf("no started event for timer %s in this page", fired.TimerID)
}

// envelopeFromFailure recovers state from a failed activity via its
// originating schedule event's input.
func envelopeFromFailure(events []engine.HistoryEvent, failed *engine.ActivityFailedAttributes) (*Envelope, error) {
	for i := range events {
		ev := &events[i]
		if ev.Type != engine.EventActivityScheduled || ev.ActivityScheduled == nil {
			continue
		}
		// Correlate by event id when present; otherwise the newest scheduled
		// event is the only candidate the engine can have failed.
		if failed.ScheduledEventID == 0 || ev.ID == failed.ScheduledEventID {
			return ParseEnvelope(ev.ActivityScheduled.Input)
		}
	}
	return nil, fmt.Errorf("no scheduled event %d for failed activity in this page", failed.ScheduledEventID)
}
