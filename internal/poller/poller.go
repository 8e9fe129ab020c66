// Package poller acquires pending decision rounds from the engine within a
// fixed time budget and hands them to an independent executor. The loop does
// no decision logic of its own.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/fault"
)

const (
	minBlockingTimeSec = 10
	maxBlockingTimeSec = 300
	defaultPageSize    = 30

	// pollHeadroom keeps one full long-poll round trip inside the budget.
	pollHeadroom = 70 * time.Second
)

// Dispatcher receives polled decision tasks. Implementations must not block
// the caller: polling continues regardless of decision-round completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *engine.DecisionTask)
}

// TaskHandler is the decision-round pathway a dispatcher feeds.
type TaskHandler interface {
	HandleDecisionTask(ctx context.Context, task *engine.DecisionTask) error
}

// GoDispatcher runs each decision round on its own goroutine. Round failures
// are logged; the engine's redelivery handles them.
type GoDispatcher struct {
	handler TaskHandler
	log     *zap.Logger
}

func NewGoDispatcher(handler TaskHandler, log *zap.Logger) *GoDispatcher {
	return &GoDispatcher{handler: handler, log: log}
}

func (d *GoDispatcher) Dispatch(ctx context.Context, task *engine.DecisionTask) {
	go func() {
		if err := d.handler.HandleDecisionTask(ctx, task); err != nil {
			d.log.Warn("decision round failed",
				zap.String("workflowId", task.WorkflowExecution.WorkflowID),
				zap.Error(err))
		}
	}()
}

// Config bounds one polling run.
type Config struct {
	Domain   string
	TaskList string
	// MaxBlockingTime is the run's total time budget in seconds; it must be
	// within [10, 300].
	MaxBlockingTime int
	// PageSize bounds the history page per decision task; defaults to 30.
	PageSize int
}

// Poller is a bounded long-poll loop over the engine's decision task list.
type Poller struct {
	client     engine.Client
	cfg        Config
	dispatcher Dispatcher
	log        *zap.Logger
	now        func() time.Time
}

// New validates cfg and creates a poller. An out-of-range blocking time fails
// here, before any engine call is made.
func New(client engine.Client, cfg Config, dispatcher Dispatcher, log *zap.Logger) (*Poller, error) {
	if cfg.MaxBlockingTime < minBlockingTimeSec || cfg.MaxBlockingTime > maxBlockingTimeSec {
		return nil, fault.Newf(fault.KindValidation,
			"max blocking time %d out of range [%d, %d]",
			cfg.MaxBlockingTime, minBlockingTimeSec, maxBlockingTimeSec)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Poller{
		client:     client,
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}, nil
}

// Run polls until the remaining budget no longer fits one long-poll round
// trip. Polled tasks are dispatched without waiting for them to finish; an
// expired poll (empty marker) just loops again. Poll errors propagate and
// fail the invocation.
func (p *Poller) Run(ctx context.Context) error {
	budget := time.Duration(p.cfg.MaxBlockingTime) * time.Second
	started := p.now()

	for p.now().Sub(started) <= budget-pollHeadroom {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := p.client.PollForDecisionTask(ctx, &engine.PollForDecisionTaskRequest{
			Domain:       p.cfg.Domain,
			TaskList:     p.cfg.TaskList,
			MaxPageSize:  p.cfg.PageSize,
			ReverseOrder: true,
		})
		if err != nil {
			return fmt.Errorf("poll decision task: %w", err)
		}
		if task == nil {
			continue
		}

		p.log.Info("decision task acquired",
			zap.String("workflowId", task.WorkflowExecution.WorkflowID),
			zap.Int("events", len(task.Events)))
		p.dispatcher.Dispatch(ctx, task)
	}

	p.log.Debug("polling budget exhausted",
		zap.Duration("budget", budget),
		zap.Duration("elapsed", p.now().Sub(started)))
	return nil
}
