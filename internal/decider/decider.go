// Package decider holds the state machine driving a trip through its
// lifecycle. Each decision round reconstructs state from the workflow's event
// history, consults the trips service, and emits one atomic batch of actions.
// The decider itself is stateless; everything it needs arrives in the
// reconstructed context or is fetched fresh inside the round.
package decider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/fault"
	"github.com/pippuri/whim-bot-sub001/internal/flow"
	"github.com/pippuri/whim-bot-sub001/internal/itinerary"
	"github.com/pippuri/whim-bot-sub001/internal/ledger"
	"github.com/pippuri/whim-bot-sub001/internal/notify"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

const (
	// activationLead is how long before its start a leg (or the whole trip)
	// becomes due for activation.
	activationLead = 2 * time.Minute
	// checkItineraryDelay pads recheck timers past the earliest pending
	// activation so the leg is due when the timer fires.
	checkItineraryDelay = 5 * time.Second
	// closeGrace is how long after the scheduled trip end the workflow waits
	// before closing.
	closeGrace = 30 * time.Minute
)

// Decider populates a DecisionBuilder for one reconstructed workflow context.
type Decider struct {
	itineraries itinerary.Service
	ledger      ledger.Ledger
	notifier    notify.Notifier
	log         *zap.Logger
	now         func() time.Time
}

func New(itineraries itinerary.Service, l ledger.Ledger, notifier notify.Notifier, log *zap.Logger) *Decider {
	return &Decider{
		itineraries: itineraries,
		ledger:      l,
		notifier:    notifier,
		log:         log,
		now:         time.Now,
	}
}

// Decide runs one decision round. A nil return means the builder holds a
// valid (possibly empty) batch ready for submission. A non-nil return leaves
// the round undecided: nothing is submitted and the engine's own retry
// redelivers the decision task.
func (d *Decider) Decide(ctx context.Context, wctx *flow.WorkflowContext, b *flow.DecisionBuilder) error {
	if wctx.Lost() {
		d.log.Warn("workflow context lost",
			zap.String("workflowId", wctx.WorkflowID),
			zap.String("reason", wctx.LostReason()))
		b.Abort("workflow context lost: " + wctx.LostReason())
		return nil
	}

	log := d.log.With(
		zap.String("workflowId", wctx.WorkflowID),
		zap.String("task", string(wctx.Task.Name)))
	log.Info("decision round started")

	switch wctx.Task.Name {
	case flow.TaskStartTrip:
		return d.startTrip(ctx, wctx, b, log)
	case flow.TaskActivateTrip:
		return d.activateTrip(ctx, wctx, b, log)
	case flow.TaskCheckItinerary:
		return d.checkItinerary(ctx, wctx, b, log)
	case flow.TaskCheckLeg:
		return d.checkLeg(ctx, wctx, b, log)
	case flow.TaskCloseTrip:
		return d.closeTrip(ctx, wctx, b, log)
	case flow.TaskCancelTrip:
		// The itinerary was already cancelled by whoever signalled us.
		b.Complete("trip cancelled")
		return nil
	case flow.TaskNoOperation:
		log.Info("no-operation round")
		return nil
	default:
		log.Warn("unknown task in flow envelope")
		b.Abort(fmt.Sprintf("unknown task %q", wctx.Task.Name))
		return nil
	}
}

// startTrip pays a planned itinerary and either activates immediately or arms
// a timer for the start time.
func (d *Decider) startTrip(ctx context.Context, wctx *flow.WorkflowContext, b *flow.DecisionBuilder, log *zap.Logger) error {
	it, err := d.itineraries.Retrieve(ctx, wctx.Trip.ReferenceID)
	if err != nil {
		b.Abort(fmt.Sprintf("itinerary %s unavailable: %v", wctx.Trip.ReferenceID, err))
		return nil
	}

	if it.State == itinerary.StatePlanned {
		paid, err := d.itineraries.Pay(ctx, it.ID)
		if err != nil {
			// Leave the round undecided so the engine redelivers it; the
			// traveller hears about the failed charge right away.
			d.send(ctx, notify.Notification{
				IdentityID: wctx.Trip.IdentityID,
				Type:       notify.TypeTripAlert,
				Severity:   notify.SeverityAlert,
				Message:    "We could not charge your trip. We will retry shortly.",
			})
			return fault.Wrap(fault.KindTransient, "pay itinerary "+it.ID, err)
		}
		it = paid
		log.Info("itinerary paid")
	}

	start := time.UnixMilli(it.StartTime)
	if start.Sub(d.now()) > activationLead {
		log.Info("trip starts later, arming activation timer", zap.Time("startTime", start))
		return b.ScheduleTimer(it.StartTime, flow.TaskActivateTrip, nil)
	}
	return d.activateNow(ctx, wctx, it, b, log)
}

// activateTrip handles the timer-driven activation round.
func (d *Decider) activateTrip(ctx context.Context, wctx *flow.WorkflowContext, b *flow.DecisionBuilder, log *zap.Logger) error {
	it, err := d.itineraries.Retrieve(ctx, wctx.Trip.ReferenceID)
	if err != nil {
		b.Abort(fmt.Sprintf("itinerary %s unavailable: %v", wctx.Trip.ReferenceID, err))
		return nil
	}

	if it.State.Terminal() {
		d.send(ctx, notify.Notification{
			IdentityID: wctx.Trip.IdentityID,
			Type:       notify.TypeTripAlert,
			Severity:   notify.SeverityAlert,
			Message:    "Your trip could not be started.",
		})
		b.Abort(fmt.Sprintf("itinerary %s is %s, cannot activate", it.ID, it.State))
		return nil
	}
	return d.activateNow(ctx, wctx, it, b, log)
}

// activateNow activates the itinerary, tells the traveller the trip is
// starting, sweeps the legs and arms the close timer.
func (d *Decider) activateNow(ctx context.Context, wctx *flow.WorkflowContext, it *itinerary.Itinerary, b *flow.DecisionBuilder, log *zap.Logger) error {
	if it.State != itinerary.StateActivated {
		activated, err := d.itineraries.Activate(ctx, it.ID)
		if err != nil {
			b.Abort(fmt.Sprintf("activate itinerary %s: %v", it.ID, err))
			return nil
		}
		it = activated
		log.Info("itinerary activated")

		d.send(ctx, notify.Notification{
			IdentityID: wctx.Trip.IdentityID,
			Type:       notify.TypeTripStarting,
			Severity:   notify.SeverityInfo,
			Message:    startingMessage(it.Legs),
		})
	}

	d.sweepLegs(ctx, wctx, it, b)

	closeAt := wctx.Trip.EndTime + closeGrace.Milliseconds()
	return b.ScheduleTimer(closeAt, flow.TaskCloseTrip, nil)
}

// checkItinerary is the periodic leg sweep round.
func (d *Decider) checkItinerary(ctx context.Context, wctx *flow.WorkflowContext, b *flow.DecisionBuilder, log *zap.Logger) error {
	it, err := d.itineraries.Retrieve(ctx, wctx.Trip.ReferenceID)
	if err != nil {
		b.Abort(fmt.Sprintf("itinerary %s unavailable: %v", wctx.Trip.ReferenceID, err))
		return nil
	}

	if !it.State.InProgress() {
		log.Info("itinerary no longer in progress, skipping sweep", zap.String("state", string(it.State)))
		return nil
	}

	d.sweepLegs(ctx, wctx, it, b)
	return nil
}

// checkLeg re-examines one specific leg.
func (d *Decider) checkLeg(ctx context.Context, wctx *flow.WorkflowContext, b *flow.DecisionBuilder, log *zap.Logger) error {
	legID := wctx.Task.LegID()
	if legID == "" {
		b.Abort("check leg round without a leg id")
		return nil
	}

	it, err := d.itineraries.Retrieve(ctx, wctx.Trip.ReferenceID)
	if err != nil {
		b.Abort(fmt.Sprintf("itinerary %s unavailable: %v", wctx.Trip.ReferenceID, err))
		return nil
	}

	if !it.State.InProgress() {
		log.Info("itinerary no longer in progress, skipping leg check",
			zap.String("state", string(it.State)),
			zap.String("legId", legID))
		return nil
	}

	leg := it.Leg(legID)
	if leg == nil {
		b.Abort(fmt.Sprintf("leg %s not found on itinerary %s", legID, it.ID))
		return nil
	}

	if err := d.activateLeg(ctx, wctx.Trip, it.ID, *leg, b); err != nil {
		log.Warn("leg activation failed", zap.String("legId", legID), zap.Error(err))
		d.send(ctx, notify.Notification{
			IdentityID: wctx.Trip.IdentityID,
			Type:       notify.TypeTripAlert,
			Severity:   notify.SeverityAlert,
			Message:    "Part of your trip needs attention.",
			Data:       map[string]any{"legId": legID, "error": err.Error()},
		})
		return nil
	}

	d.send(ctx, notify.Notification{
		IdentityID: wctx.Trip.IdentityID,
		Type:       notify.TypeTripUpdated,
		Severity:   notify.SeverityInfo,
		Data:       map[string]any{"legId": legID},
	})
	return nil
}

// closeTrip finishes the itinerary and completes the workflow. The round
// always completes, even when finishing fails: by this point the trip is
// over, and redelivering the round could not finish it any harder.
func (d *Decider) closeTrip(ctx context.Context, wctx *flow.WorkflowContext, b *flow.DecisionBuilder, log *zap.Logger) error {
	if _, err := d.itineraries.Finish(ctx, wctx.Trip.ReferenceID); err != nil {
		log.Warn("finishing itinerary failed, closing anyway", zap.Error(err))
		d.send(ctx, notify.Notification{
			IdentityID: wctx.Trip.IdentityID,
			Type:       notify.TypeTripAlert,
			Severity:   notify.SeverityAlert,
			Message:    "Your trip has ended but could not be closed cleanly.",
		})
	} else {
		d.send(ctx, notify.Notification{
			IdentityID: wctx.Trip.IdentityID,
			Type:       notify.TypeTripClosed,
			Severity:   notify.SeverityInfo,
			Message:    "Your trip is complete. Thanks for travelling with us!",
		})
	}

	b.Complete("trip closed")
	return nil
}

// sweepLegs walks the legs in itinerary order, strictly sequentially: finish
// what has ended, activate what is due, and track the earliest pending
// activation. A failure on one leg never stops evaluation of the rest; the
// outcomes are aggregated into exactly one notification.
func (d *Decider) sweepLegs(ctx context.Context, wctx *flow.WorkflowContext, it *itinerary.Itinerary, b *flow.DecisionBuilder) {
	nowMs := d.now().UnixMilli()

	var sweepErr error
	var pendingAt int64
	pending := false

	for i := range it.Legs {
		leg := it.Legs[i]

		switch {
		case leg.State == itinerary.LegFinished:
			continue

		case leg.State == itinerary.LegActivated:
			if leg.EndTime > nowMs {
				continue
			}
			if _, err := d.itineraries.FinishLeg(ctx, it.ID, leg.ID); err != nil {
				sweepErr = multierr.Append(sweepErr, fmt.Errorf("finish leg %s: %w", leg.ID, err))
			}
			continue

		case leg.State.Terminal():
			// Cancelled legs never reactivate; rechecking them would spin
			// timers until the trip closes.
			continue
		}

		activationAt := leg.StartTime - activationLead.Milliseconds()
		if activationAt <= nowMs {
			if err := d.activateLeg(ctx, wctx.Trip, it.ID, leg, b); err != nil {
				sweepErr = multierr.Append(sweepErr, fmt.Errorf("activate leg %s: %w", leg.ID, err))
			}
		} else if !pending || activationAt < pendingAt {
			pending = true
			pendingAt = activationAt
		}
	}

	if sweepErr != nil {
		d.log.Warn("leg sweep finished with failures",
			zap.String("itineraryId", it.ID),
			zap.Error(sweepErr))
		d.send(ctx, notify.Notification{
			IdentityID: wctx.Trip.IdentityID,
			Type:       notify.TypeTripAlert,
			Severity:   notify.SeverityAlert,
			Message:    "Some parts of your trip need attention.",
			Data:       map[string]any{"error": sweepErr.Error()},
		})
	} else {
		d.send(ctx, notify.Notification{
			IdentityID: wctx.Trip.IdentityID,
			Type:       notify.TypeTripUpdated,
			Severity:   notify.SeverityInfo,
		})
	}

	if pending {
		if err := b.ScheduleTimer(pendingAt+checkItineraryDelay.Milliseconds(), flow.TaskCheckItinerary, nil); err != nil {
			d.log.Warn("failed to arm itinerary recheck timer", zap.Error(err))
		}
	}
}

// activateLeg activates one leg inside an identity-scoped ledger transaction.
// The transaction is committed on every non-error path and rolled back
// otherwise; errors are returned to the caller for aggregation, never
// escalated to the round.
func (d *Decider) activateLeg(ctx context.Context, tr trip.Trip, itineraryID string, leg itinerary.Leg, b *flow.DecisionBuilder) error {
	if leg.State.Terminal() {
		return nil
	}

	var activated *itinerary.Leg
	err := ledger.WithTransaction(ctx, d.ledger, tr.IdentityID, func(tx ledger.Transaction) error {
		updated, err := d.itineraries.ActivateLeg(ctx, tx, itineraryID, leg.ID, itinerary.ActivateLegOptions{ReuseBooking: true})
		if err != nil {
			return fmt.Errorf("activate leg %s of itinerary %s: %w", leg.ID, itineraryID, err)
		}

		if bk := updated.Booking; bk != nil && !bk.State.Usable() {
			// The traveller needs to know before we commit the charge.
			d.send(ctx, notify.Notification{
				IdentityID: tr.IdentityID,
				Type:       notify.TypeTripAlert,
				Severity:   notify.SeverityAlert,
				Message:    "A booking on your trip is in an unexpected state.",
				Data:       map[string]any{"legId": leg.ID, "bookingState": string(bk.State)},
			})
		}

		activated = updated
		return nil
	})
	if err != nil {
		return err
	}

	d.log.Info("leg activated",
		zap.String("itineraryId", itineraryID),
		zap.String("legId", leg.ID))

	// A leg still well before its start gets a dedicated recheck.
	if activated.StartTime-d.now().UnixMilli() > activationLead.Milliseconds() {
		recheckAt := activated.StartTime - activationLead.Milliseconds()
		if err := b.ScheduleTimer(recheckAt, flow.TaskCheckLeg, map[string]any{flow.ParamLegID: leg.ID}); err != nil {
			return fmt.Errorf("arm recheck timer for leg %s: %w", leg.ID, err)
		}
	}
	return nil
}

// send delivers a notification, logging and swallowing failures so they can
// never fail a decision round.
func (d *Decider) send(ctx context.Context, n notify.Notification) {
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("identityId", n.IdentityID),
			zap.String("type", string(n.Type)),
			zap.Error(err))
	}
}
