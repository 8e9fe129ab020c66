package decider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/flow"
)

// Handler runs one full decision round for a polled decision task:
// reconstruct, decide, submit. It is the poller's dispatch target.
type Handler struct {
	client  engine.Client
	decider *Decider
	log     *zap.Logger
	now     func() time.Time
}

func NewHandler(client engine.Client, d *Decider, log *zap.Logger) *Handler {
	return &Handler{client: client, decider: d, log: log, now: time.Now}
}

// HandleDecisionTask processes one decision round end to end. When the
// decider leaves the round undecided the task token is never answered; the
// engine's decision-task timeout redelivers the round.
func (h *Handler) HandleDecisionTask(ctx context.Context, task *engine.DecisionTask) error {
	wctx := flow.NewWorkflowContext(task)
	b := flow.NewDecisionBuilder(wctx, h.now)

	if err := h.decider.Decide(ctx, wctx, b); err != nil {
		h.log.Warn("decision round left undecided",
			zap.String("workflowId", wctx.WorkflowID),
			zap.Error(err))
		return err
	}

	if err := h.client.RespondDecisionTaskCompleted(ctx, b.Response()); err != nil {
		return fmt.Errorf("submit decisions for %s: %w", wctx.WorkflowID, err)
	}

	h.log.Info("decision round submitted",
		zap.String("workflowId", wctx.WorkflowID),
		zap.Int("decisions", len(b.Decisions())),
		zap.Bool("terminal", b.Terminal()))
	return nil
}
