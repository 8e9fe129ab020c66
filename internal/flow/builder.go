package flow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

// Activities are short calls into collaborator services.
const activityTimeoutSeconds = 300

// DecisionBuilder accumulates the action batch for one decision round and
// serializes it for submission. A round yields either zero or more schedule
// actions or exactly one terminal action; when a terminal action is requested
// it supersedes the schedules, and a later terminal request supersedes an
// earlier one.
type DecisionBuilder struct {
	workflowID string
	taskToken  string
	trip       trip.Trip
	stage      string
	now        func() time.Time

	schedules []engine.Decision
	terminal  *engine.Decision
}

// NewDecisionBuilder creates a builder for the round identified by wctx.
func NewDecisionBuilder(wctx *WorkflowContext, now func() time.Time) *DecisionBuilder {
	if now == nil {
		now = time.Now
	}
	return &DecisionBuilder{
		workflowID: wctx.WorkflowID,
		taskToken:  wctx.TaskToken,
		trip:       wctx.Trip,
		stage:      StageFor(wctx.Task.Name),
		now:        now,
	}
}

// ScheduleTask appends an action scheduling the named task. The activity
// input embeds the entire current flow state so the next invocation can
// recover it from the task's own input or result.
func (b *DecisionBuilder) ScheduleTask(name TaskName, params map[string]any) error {
	input, err := b.envelope(name, params)
	if err != nil {
		return err
	}
	b.schedules = append(b.schedules, engine.Decision{
		Type: engine.DecisionScheduleActivityTask,
		ScheduleActivityTask: &engine.ScheduleActivityTaskAttributes{
			ActivityID:                 uuid.New().String(),
			ActivityType:               string(name),
			Input:                      input,
			StartToCloseTimeoutSeconds: activityTimeoutSeconds,
		},
	})
	return nil
}

// ScheduleTimer appends a timer firing at fireAt (epoch ms) whose control
// field embeds the flow state for the named task. The timer id is derived
// from the workflow id, task name and fire time, so a redelivered round
// producing the same timer collides instead of duplicating it.
func (b *DecisionBuilder) ScheduleTimer(fireAt int64, name TaskName, params map[string]any) error {
	control, err := b.envelope(name, params)
	if err != nil {
		return err
	}

	delayMs := fireAt - b.now().UnixMilli()
	if delayMs < 0 {
		delayMs = 0
	}

	b.schedules = append(b.schedules, engine.Decision{
		Type: engine.DecisionStartTimer,
		StartTimer: &engine.StartTimerAttributes{
			TimerID:          fmt.Sprintf("%s.%s.%d", b.workflowID, name, fireAt),
			FireAfterSeconds: (delayMs + 999) / 1000,
			Control:          control,
		},
	})
	return nil
}

// Complete requests workflow completion, replacing any earlier terminal
// action.
func (b *DecisionBuilder) Complete(reason string) {
	b.terminal = &engine.Decision{
		Type:             engine.DecisionCompleteWorkflow,
		CompleteWorkflow: &engine.CompleteWorkflowAttributes{Result: reason},
	}
}

// Abort requests workflow failure, replacing any earlier terminal action.
func (b *DecisionBuilder) Abort(reason string) {
	b.terminal = &engine.Decision{
		Type:         engine.DecisionFailWorkflow,
		FailWorkflow: &engine.FailWorkflowAttributes{Reason: reason},
	}
}

// Terminal reports whether the round will end the workflow.
func (b *DecisionBuilder) Terminal() bool {
	return b.terminal != nil
}

// Decisions returns the action batch the round will submit.
func (b *DecisionBuilder) Decisions() []engine.Decision {
	if b.terminal != nil {
		return []engine.Decision{*b.terminal}
	}
	return b.schedules
}

// Response assembles the submission for this round. The batch is submitted
// atomically by the engine.
func (b *DecisionBuilder) Response() *engine.RespondDecisionTaskCompletedRequest {
	return &engine.RespondDecisionTaskCompletedRequest{
		TaskToken:        b.taskToken,
		Decisions:        b.Decisions(),
		ExecutionContext: b.stage,
	}
}

func (b *DecisionBuilder) envelope(name TaskName, params map[string]any) (string, error) {
	return Envelope{
		Trip:  b.trip,
		Stage: StageFor(name),
		Task:  Task{Name: name, Params: params},
	}.Encode()
}
