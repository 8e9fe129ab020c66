// Package invoker executes previously scheduled units of work. An activity's
// input is a flow envelope; its report echoes that envelope alongside the
// result so the next decision round can recover state from the completion
// event alone.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/flow"
)

// Handler executes one named unit of work with the envelope it was scheduled
// with. The returned value is embedded in the activity's reported result.
type Handler func(ctx context.Context, env flow.Envelope) (any, error)

// Invoker looks up and runs activity handlers by task name.
type Invoker struct {
	handlers map[flow.TaskName]Handler
	log      *zap.Logger
}

func New(log *zap.Logger) *Invoker {
	return &Invoker{
		handlers: make(map[flow.TaskName]Handler),
		log:      log,
	}
}

// Register binds a handler to a task name, replacing any previous binding.
func (inv *Invoker) Register(name flow.TaskName, h Handler) {
	inv.handlers[name] = h
}

// Invoke runs the unit of work embedded in input and returns the serialized
// report. Handler failures are embedded in the report rather than returned:
// the engine must see a completed activity either way, or the envelope would
// be lost to the next round. Only an unreadable input fails the invocation.
func (inv *Invoker) Invoke(ctx context.Context, input string) (string, error) {
	env, err := flow.ParseEnvelope(input)
	if err != nil {
		return "", fmt.Errorf("invoke activity: %w", err)
	}

	report := flow.ActivityResult{Input: *env}

	h, ok := inv.handlers[env.Task.Name]
	if !ok {
		report.Error = fmt.Sprintf("no handler registered for task %q", env.Task.Name)
	} else if result, err := h(ctx, *env); err != nil {
		inv.log.Warn("activity handler failed",
			zap.String("task", string(env.Task.Name)),
			zap.String("workflowId", env.Trip.Reference()),
			zap.Error(err))
		report.Error = err.Error()
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("encode result of %s: %w", env.Task.Name, err)
		}
		report.Result = raw
	}

	out, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode activity report: %w", err)
	}
	return string(out), nil
}
