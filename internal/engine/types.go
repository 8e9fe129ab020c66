// Package engine speaks the contract of the external durable
// workflow-orchestration service: starting workflows, long-polling for
// decision tasks with a bounded page of event history, and submitting the
// resulting decision batch. The engine itself is an external collaborator;
// this package only defines its wire shapes and a client for them.
package engine

import "context"

// EventType enumerates the history event kinds the orchestrator consumes.
type EventType string

const (
	EventWorkflowStarted   EventType = "WorkflowExecutionStarted"
	EventWorkflowSignaled  EventType = "WorkflowExecutionSignaled"
	EventTimerStarted      EventType = "TimerStarted"
	EventTimerFired        EventType = "TimerFired"
	EventTimerCanceled     EventType = "TimerCanceled"
	EventActivityScheduled EventType = "ActivityTaskScheduled"
	EventActivityStarted   EventType = "ActivityTaskStarted"
	EventActivityCompleted EventType = "ActivityTaskCompleted"
	EventActivityFailed    EventType = "ActivityTaskFailed"

	// Error kinds. Any of these at the head of the history means the
	// in-flight unit of work was lost and the round cannot recover state.
	EventActivityTimedOut       EventType = "ActivityTaskTimedOut"
	EventScheduleActivityFailed EventType = "ScheduleActivityTaskFailed"
	EventStartTimerFailed       EventType = "StartTimerFailed"
	EventWorkflowTimedOut       EventType = "WorkflowExecutionTimedOut"

	// Bookkeeping kinds, skipped during reconstruction.
	EventDecisionScheduled EventType = "DecisionTaskScheduled"
	EventDecisionStarted   EventType = "DecisionTaskStarted"
	EventDecisionCompleted EventType = "DecisionTaskCompleted"
	EventDecisionTimedOut  EventType = "DecisionTaskTimedOut"
	EventMarkerRecorded    EventType = "MarkerRecorded"
)

// IsError reports whether the event kind signals a lost unit of work.
func (t EventType) IsError() bool {
	switch t {
	case EventActivityTimedOut, EventScheduleActivityFailed, EventStartTimerFailed, EventWorkflowTimedOut:
		return true
	}
	return false
}

// HistoryEvent is one entry of a workflow's append-only event history.
// Exactly one attribute struct is set, matching Type.
type HistoryEvent struct {
	ID        int64     `json:"eventId"`
	Type      EventType `json:"eventType"`
	Timestamp int64     `json:"eventTimestamp"`

	WorkflowStarted   *WorkflowStartedAttributes   `json:"workflowExecutionStartedEventAttributes,omitempty"`
	Signaled          *SignaledAttributes          `json:"workflowExecutionSignaledEventAttributes,omitempty"`
	TimerStarted      *TimerStartedAttributes      `json:"timerStartedEventAttributes,omitempty"`
	TimerFired        *TimerFiredAttributes        `json:"timerFiredEventAttributes,omitempty"`
	ActivityScheduled *ActivityScheduledAttributes `json:"activityTaskScheduledEventAttributes,omitempty"`
	ActivityCompleted *ActivityCompletedAttributes `json:"activityTaskCompletedEventAttributes,omitempty"`
	ActivityFailed    *ActivityFailedAttributes    `json:"activityTaskFailedEventAttributes,omitempty"`
}

type WorkflowStartedAttributes struct {
	Input string `json:"input"`
}

type SignaledAttributes struct {
	SignalName string `json:"signalName"`
	Input      string `json:"input"`
}

type TimerStartedAttributes struct {
	TimerID          string `json:"timerId"`
	Control          string `json:"control"`
	FireAfterSeconds int64  `json:"startToFireTimeoutSeconds"`
}

type TimerFiredAttributes struct {
	TimerID        string `json:"timerId"`
	StartedEventID int64  `json:"startedEventId"`
}

type ActivityScheduledAttributes struct {
	ActivityID   string `json:"activityId"`
	ActivityType string `json:"activityType"`
	Input        string `json:"input"`
}

type ActivityCompletedAttributes struct {
	Result           string `json:"result"`
	ScheduledEventID int64  `json:"scheduledEventId"`
}

type ActivityFailedAttributes struct {
	Reason           string `json:"reason"`
	Details          string `json:"details"`
	ScheduledEventID int64  `json:"scheduledEventId"`
}

// DecisionType enumerates the action kinds a decision round may produce.
type DecisionType string

const (
	DecisionScheduleActivityTask DecisionType = "ScheduleActivityTask"
	DecisionStartTimer           DecisionType = "StartTimer"
	DecisionCompleteWorkflow     DecisionType = "CompleteWorkflowExecution"
	DecisionFailWorkflow         DecisionType = "FailWorkflowExecution"
)

// Decision is one action of a decision batch. Exactly one attribute struct is
// set, matching Type.
type Decision struct {
	Type DecisionType `json:"decisionType"`

	ScheduleActivityTask *ScheduleActivityTaskAttributes `json:"scheduleActivityTaskDecisionAttributes,omitempty"`
	StartTimer           *StartTimerAttributes           `json:"startTimerDecisionAttributes,omitempty"`
	CompleteWorkflow     *CompleteWorkflowAttributes     `json:"completeWorkflowExecutionDecisionAttributes,omitempty"`
	FailWorkflow         *FailWorkflowAttributes         `json:"failWorkflowExecutionDecisionAttributes,omitempty"`
}

type ScheduleActivityTaskAttributes struct {
	ActivityID                 string `json:"activityId"`
	ActivityType               string `json:"activityType"`
	Input                      string `json:"input"`
	StartToCloseTimeoutSeconds int64  `json:"startToCloseTimeoutSeconds"`
}

type StartTimerAttributes struct {
	TimerID          string `json:"timerId"`
	FireAfterSeconds int64  `json:"startToFireTimeoutSeconds"`
	Control          string `json:"control"`
}

type CompleteWorkflowAttributes struct {
	Result string `json:"result"`
}

type FailWorkflowAttributes struct {
	Reason string `json:"reason"`
}

// WorkflowExecution identifies one run of a workflow.
type WorkflowExecution struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

// WorkflowType names a registered workflow definition.
type WorkflowType struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DecisionTask is one pending decision round handed out by a poll.
type DecisionTask struct {
	TaskToken         string            `json:"taskToken"`
	WorkflowExecution WorkflowExecution `json:"workflowExecution"`
	WorkflowType      WorkflowType      `json:"workflowType"`
	// Events is a bounded page of history, newest first when the poll
	// requested reverse order.
	Events []HistoryEvent `json:"events"`
}

type StartWorkflowRequest struct {
	Domain                  string       `json:"domain"`
	WorkflowID              string       `json:"workflowId"`
	WorkflowType            WorkflowType `json:"workflowType"`
	TaskList                string       `json:"taskList"`
	Input                   string       `json:"input"`
	ExecutionTimeoutSeconds int64        `json:"executionStartToCloseTimeoutSeconds"`
}

type StartWorkflowResponse struct {
	RunID string `json:"runId"`
}

type PollForDecisionTaskRequest struct {
	Domain       string `json:"domain"`
	TaskList     string `json:"taskList"`
	MaxPageSize  int    `json:"maximumPageSize"`
	ReverseOrder bool   `json:"reverseOrder"`
}

type RespondDecisionTaskCompletedRequest struct {
	TaskToken        string     `json:"taskToken"`
	Decisions        []Decision `json:"decisions"`
	ExecutionContext string     `json:"executionContext,omitempty"`
}

type SignalWorkflowRequest struct {
	Domain     string `json:"domain"`
	WorkflowID string `json:"workflowId"`
	SignalName string `json:"signalName"`
	Input      string `json:"input"`
}

// Client is the engine collaborator contract. PollForDecisionTask returns
// (nil, nil) when the long poll expires with the engine's empty marker.
type Client interface {
	StartWorkflow(ctx context.Context, req *StartWorkflowRequest) (*StartWorkflowResponse, error)
	PollForDecisionTask(ctx context.Context, req *PollForDecisionTaskRequest) (*DecisionTask, error)
	RespondDecisionTaskCompleted(ctx context.Context, req *RespondDecisionTaskCompletedRequest) error
	SignalWorkflow(ctx context.Context, req *SignalWorkflowRequest) error
}
