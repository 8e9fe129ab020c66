package flow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

// The execution deadline pads the trip end so close/cancel rounds and their
// redeliveries fit inside it.
const (
	executionPadding        = 24 * time.Hour
	minimumExecutionSeconds = 3600
)

// StarterOptions identify where trip workflows run on the engine.
type StarterOptions struct {
	Domain          string
	TaskList        string
	WorkflowName    string
	WorkflowVersion string
}

// Starter creates the durable workflow for a trip. After the create call the
// workflow becomes pollable and the first decision round receives START_TRIP.
type Starter struct {
	client engine.Client
	opts   StarterOptions
	log    *zap.Logger
	now    func() time.Time
}

func NewStarter(client engine.Client, opts StarterOptions, log *zap.Logger) *Starter {
	return &Starter{client: client, opts: opts, log: log, now: time.Now}
}

// StartTrip starts the lifecycle workflow for t. The workflow id is the
// trip's derived reference, so identity is assigned once and cannot change.
func (s *Starter) StartTrip(ctx context.Context, t trip.Trip) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	input, err := Envelope{
		Trip:  t,
		Stage: StageStart,
		Task:  Task{Name: TaskStartTrip},
	}.Encode()
	if err != nil {
		return "", err
	}

	timeout := (t.EndTime-s.now().UnixMilli())/1000 + int64(executionPadding.Seconds())
	if timeout < minimumExecutionSeconds {
		timeout = minimumExecutionSeconds
	}

	resp, err := s.client.StartWorkflow(ctx, &engine.StartWorkflowRequest{
		Domain:     s.opts.Domain,
		WorkflowID: t.Reference(),
		WorkflowType: engine.WorkflowType{
			Name:    s.opts.WorkflowName,
			Version: s.opts.WorkflowVersion,
		},
		TaskList:                s.opts.TaskList,
		Input:                   input,
		ExecutionTimeoutSeconds: timeout,
	})
	if err != nil {
		return "", fmt.Errorf("start trip workflow %s: %w", t.Reference(), err)
	}

	s.log.Info("trip workflow started",
		zap.String("workflowId", t.Reference()),
		zap.String("runId", resp.RunID))
	return resp.RunID, nil
}

// CancelTrip signals a running trip workflow to wind down. The itinerary is
// assumed already cancelled by the caller; the signalled round completes the
// workflow.
func (s *Starter) CancelTrip(ctx context.Context, t trip.Trip) error {
	if err := t.Validate(); err != nil {
		return err
	}

	input, err := Envelope{
		Trip:  t,
		Stage: StageClosing,
		Task:  Task{Name: TaskCancelTrip},
	}.Encode()
	if err != nil {
		return err
	}

	if err := s.client.SignalWorkflow(ctx, &engine.SignalWorkflowRequest{
		Domain:     s.opts.Domain,
		WorkflowID: t.Reference(),
		SignalName: string(TaskCancelTrip),
		Input:      input,
	}); err != nil {
		return fmt.Errorf("cancel trip workflow %s: %w", t.Reference(), err)
	}

	s.log.Info("trip workflow cancel signalled", zap.String("workflowId", t.Reference()))
	return nil
}
