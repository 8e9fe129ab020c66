package decider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/flow"
	"github.com/pippuri/whim-bot-sub001/internal/itinerary"
	"github.com/pippuri/whim-bot-sub001/internal/ledger"
	"github.com/pippuri/whim-bot-sub001/internal/notify"
	"github.com/pippuri/whim-bot-sub001/internal/trip"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

// mockTrips mocks the trips service contract.
type mockTrips struct {
	mock.Mock
}

func (m *mockTrips) Retrieve(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	args := m.Called(ctx, id)
	if it := args.Get(0); it != nil {
		return it.(*itinerary.Itinerary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTrips) Pay(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	args := m.Called(ctx, id)
	if it := args.Get(0); it != nil {
		return it.(*itinerary.Itinerary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTrips) Activate(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	args := m.Called(ctx, id)
	if it := args.Get(0); it != nil {
		return it.(*itinerary.Itinerary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTrips) Finish(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	args := m.Called(ctx, id)
	if it := args.Get(0); it != nil {
		return it.(*itinerary.Itinerary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTrips) ActivateLeg(ctx context.Context, tx ledger.Transaction, itineraryID, legID string, opts itinerary.ActivateLegOptions) (*itinerary.Leg, error) {
	args := m.Called(ctx, tx, itineraryID, legID, opts)
	if leg := args.Get(0); leg != nil {
		return leg.(*itinerary.Leg), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTrips) FinishLeg(ctx context.Context, itineraryID, legID string) (*itinerary.Leg, error) {
	args := m.Called(ctx, itineraryID, legID)
	if leg := args.Get(0); leg != nil {
		return leg.(*itinerary.Leg), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeTx records ledger mutations and outcome.
type fakeTx struct {
	debits     int64
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Debit(_ context.Context, amount int64, _ string) error {
	t.debits += amount
	return nil
}
func (t *fakeTx) Credit(context.Context, int64, string) error { return nil }
func (t *fakeTx) Commit(context.Context) error                { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// fakeLedger hands out fakeTx instances and keeps them for inspection.
type fakeLedger struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (l *fakeLedger) Begin(context.Context, string) (ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := &fakeTx{}
	l.txs = append(l.txs, tx)
	return tx, nil
}

// recordingNotifier captures everything sent through it.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) bySeverity(s notify.Severity) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, msg := range n.sent {
		if msg.Severity == s {
			out = append(out, msg)
		}
	}
	return out
}

type fixture struct {
	decider  *Decider
	trips    *mockTrips
	ledger   *fakeLedger
	notifier *recordingNotifier
}

func newFixture() *fixture {
	trips := new(mockTrips)
	l := &fakeLedger{}
	n := &recordingNotifier{}
	d := New(trips, l, n, zap.NewNop())
	d.now = func() time.Time { return testNow }
	return &fixture{decider: d, trips: trips, ledger: l, notifier: n}
}

func testTrip(t *testing.T) trip.Trip {
	t.Helper()
	tr, err := trip.New("itn-1", trip.ReferenceTypeItinerary, "identity-1", testNow.Add(2*time.Hour).UnixMilli())
	require.NoError(t, err)
	return tr
}

func workflowContext(t *testing.T, name flow.TaskName, params map[string]any) (*flow.WorkflowContext, *flow.DecisionBuilder) {
	t.Helper()
	wctx := &flow.WorkflowContext{
		WorkflowID: "itinerary.itn-1",
		TaskToken:  "token-1",
		Trip:       testTrip(t),
		Stage:      flow.StageFor(name),
		Task:       flow.Task{Name: name, Params: params},
	}
	return wctx, flow.NewDecisionBuilder(wctx, func() time.Time { return testNow })
}

func in(d time.Duration) int64 {
	return testNow.Add(d).UnixMilli()
}

func timerTask(t *testing.T, decision engine.Decision) flow.TaskName {
	t.Helper()
	require.Equal(t, engine.DecisionStartTimer, decision.Type)
	var env flow.Envelope
	require.NoError(t, json.Unmarshal([]byte(decision.StartTimer.Control), &env))
	return env.Task.Name
}

func TestDecide_LostContext_Aborts(t *testing.T) {
	f := newFixture()

	wctx := flow.NewWorkflowContext(&engine.DecisionTask{
		TaskToken:         "token-1",
		WorkflowExecution: engine.WorkflowExecution{WorkflowID: "itinerary.itn-1"},
	})
	require.True(t, wctx.Lost())
	b := flow.NewDecisionBuilder(wctx, func() time.Time { return testNow })

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, engine.DecisionFailWorkflow, decisions[0].Type)
	f.trips.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
}

func TestDecide_UnknownTask_Aborts(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, "REBOOK_TRIP", nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, engine.DecisionFailWorkflow, decisions[0].Type)
}

func TestCancelTrip_CompletesWithoutCollaborators(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCancelTrip, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, engine.DecisionCompleteWorkflow, decisions[0].Type)
	f.trips.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
}

func TestCloseTrip_AlwaysCompletes(t *testing.T) {
	tests := []struct {
		name      string
		finishErr error
	}{
		{name: "finish succeeds"},
		{name: "finish fails", finishErr: errors.New("already finished")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			wctx, b := workflowContext(t, flow.TaskCloseTrip, nil)

			if tt.finishErr != nil {
				f.trips.On("Finish", mock.Anything, "itn-1").Return(nil, tt.finishErr)
			} else {
				f.trips.On("Finish", mock.Anything, "itn-1").Return(&itinerary.Itinerary{
					ID:    "itn-1",
					State: itinerary.StateFinished,
				}, nil)
			}

			require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

			decisions := b.Decisions()
			require.Len(t, decisions, 1)
			assert.Equal(t, engine.DecisionCompleteWorkflow, decisions[0].Type)
			assert.Len(t, f.notifier.sent, 1)
			f.trips.AssertExpectations(t)
		})
	}
}

func TestStartTrip_PlannedPaysAndArmsActivationTimer(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskStartTrip, nil)

	startTime := in(90 * time.Minute)
	planned := &itinerary.Itinerary{ID: "itn-1", IdentityID: "identity-1", StartTime: startTime, State: itinerary.StatePlanned}
	paid := &itinerary.Itinerary{ID: "itn-1", IdentityID: "identity-1", StartTime: startTime, State: itinerary.StatePaid}

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(planned, nil)
	f.trips.On("Pay", mock.Anything, "itn-1").Return(paid, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, flow.TaskActivateTrip, timerTask(t, decisions[0]))
	assert.Contains(t, decisions[0].StartTimer.TimerID, fmt.Sprintf("%d", startTime))
	f.trips.AssertExpectations(t)
}

func TestStartTrip_PaymentFailureLeavesRoundUndecided(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskStartTrip, nil)

	planned := &itinerary.Itinerary{ID: "itn-1", IdentityID: "identity-1", StartTime: in(time.Hour), State: itinerary.StatePlanned}
	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(planned, nil)
	f.trips.On("Pay", mock.Anything, "itn-1").Return(nil, errors.New("card declined"))

	err := f.decider.Decide(context.Background(), wctx, b)
	require.Error(t, err)

	assert.Empty(t, b.Decisions())
	alerts := f.notifier.bySeverity(notify.SeverityAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, notify.TypeTripAlert, alerts[0].Type)
}

func TestStartTrip_ImminentStartActivatesSweepsAndArmsClose(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskStartTrip, nil)

	legs := []itinerary.Leg{{
		ID:        "leg-1",
		Mode:      "BUS",
		StartTime: in(10 * time.Minute),
		EndTime:   in(40 * time.Minute),
		State:     itinerary.LegUpcoming,
	}}
	startTime := in(time.Minute)
	planned := &itinerary.Itinerary{ID: "itn-1", IdentityID: "identity-1", StartTime: startTime, State: itinerary.StatePlanned, Legs: legs}
	paid := &itinerary.Itinerary{ID: "itn-1", IdentityID: "identity-1", StartTime: startTime, State: itinerary.StatePaid, Legs: legs}
	activated := &itinerary.Itinerary{ID: "itn-1", IdentityID: "identity-1", StartTime: startTime, State: itinerary.StateActivated, Legs: legs}

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(planned, nil)
	f.trips.On("Pay", mock.Anything, "itn-1").Return(paid, nil)
	f.trips.On("Activate", mock.Anything, "itn-1").Return(activated, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 2)

	// The sweep arms a recheck ahead of the bus leg, then the close timer.
	assert.Equal(t, flow.TaskCheckItinerary, timerTask(t, decisions[0]))
	assert.Equal(t, flow.TaskCloseTrip, timerTask(t, decisions[1]))

	closeAt := wctx.Trip.EndTime + closeGrace.Milliseconds()
	assert.Contains(t, decisions[1].StartTimer.TimerID, fmt.Sprintf("%d", closeAt))

	// Trip-starting message plus one aggregate sweep notice.
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, notify.TypeTripStarting, f.notifier.sent[0].Type)
	assert.Equal(t, notify.TypeTripUpdated, f.notifier.sent[1].Type)
	f.trips.AssertExpectations(t)
}

func TestActivateTrip_TerminalItineraryAborts(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskActivateTrip, nil)

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(&itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StateCancelled,
	}, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, engine.DecisionFailWorkflow, decisions[0].Type)
	require.Len(t, f.notifier.bySeverity(notify.SeverityAlert), 1)
	f.trips.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
}

func TestCheckItinerary_WrongStateNoOps(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCheckItinerary, nil)

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(&itinerary.Itinerary{
		ID:    "itn-1",
		State: itinerary.StateFinished,
	}, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	assert.Empty(t, b.Decisions())
	assert.Empty(t, f.notifier.sent)
	f.trips.AssertNotCalled(t, "ActivateLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Legs: one finished, one activated and past its end, one starting in ten
// minutes. The sweep finishes the second, leaves the first alone, and arms
// exactly one recheck just past the third's activation time.
func TestCheckItinerary_Sweep(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCheckItinerary, nil)

	l3Start := in(10 * time.Minute)
	it := &itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StateActivated,
		Legs: []itinerary.Leg{
			{ID: "leg-1", Mode: "WALK", StartTime: in(-time.Hour), EndTime: in(-50 * time.Minute), State: itinerary.LegFinished},
			{ID: "leg-2", Mode: "BUS", StartTime: in(-45 * time.Minute), EndTime: in(-5 * time.Minute), State: itinerary.LegActivated},
			{ID: "leg-3", Mode: "TRAIN", StartTime: l3Start, EndTime: in(40 * time.Minute), State: itinerary.LegUpcoming},
		},
	}

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(it, nil)
	f.trips.On("FinishLeg", mock.Anything, "itn-1", "leg-2").Return(&itinerary.Leg{
		ID: "leg-2", State: itinerary.LegFinished,
	}, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, flow.TaskCheckItinerary, timerTask(t, decisions[0]))

	recheckAt := l3Start - activationLead.Milliseconds() + checkItineraryDelay.Milliseconds()
	assert.Contains(t, decisions[0].StartTimer.TimerID, fmt.Sprintf("%d", recheckAt))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.SeverityInfo, f.notifier.sent[0].Severity)

	f.trips.AssertExpectations(t)
	f.trips.AssertNotCalled(t, "ActivateLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckItinerary_AllLegsFinishedIsIdempotent(t *testing.T) {
	f := newFixture()

	it := &itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StateActivated,
		Legs: []itinerary.Leg{
			{ID: "leg-1", State: itinerary.LegFinished},
			{ID: "leg-2", State: itinerary.LegFinished},
		},
	}
	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(it, nil)

	for i := 0; i < 2; i++ {
		wctx, b := workflowContext(t, flow.TaskCheckItinerary, nil)
		require.NoError(t, f.decider.Decide(context.Background(), wctx, b))
		assert.Empty(t, b.Decisions())
	}

	f.trips.AssertNotCalled(t, "ActivateLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.trips.AssertNotCalled(t, "FinishLeg", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.ledger.txs)
}

func TestSweep_FailingLegDoesNotBlockOthers(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCheckItinerary, nil)

	it := &itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StateActivated,
		Legs: []itinerary.Leg{
			{ID: "leg-1", Mode: "BUS", StartTime: in(time.Minute), EndTime: in(30 * time.Minute), State: itinerary.LegUpcoming},
			{ID: "leg-2", Mode: "TRAIN", StartTime: in(time.Minute), EndTime: in(50 * time.Minute), State: itinerary.LegUpcoming},
		},
	}

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(it, nil)
	f.trips.On("ActivateLeg", mock.Anything, mock.Anything, "itn-1", "leg-1", mock.Anything).
		Return(nil, errors.New("provider unavailable"))
	f.trips.On("ActivateLeg", mock.Anything, mock.Anything, "itn-1", "leg-2", mock.Anything).
		Return(&itinerary.Leg{ID: "leg-2", StartTime: in(time.Minute), State: itinerary.LegActivated}, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	// Both legs were attempted; the failure is aggregated into one alert and
	// the round still produces a valid batch.
	f.trips.AssertExpectations(t)
	assert.Empty(t, b.Decisions())

	alerts := f.notifier.bySeverity(notify.SeverityAlert)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Data["error"], "leg-1")

	// First transaction rolled back, second committed.
	require.Len(t, f.ledger.txs, 2)
	assert.True(t, f.ledger.txs[0].rolledBack)
	assert.True(t, f.ledger.txs[1].committed)
}

func TestCheckLeg_ActivatesAndArmsRecheck(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCheckLeg, map[string]any{flow.ParamLegID: "leg-1"})

	legStart := in(10 * time.Minute)
	it := &itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StatePaid,
		Legs: []itinerary.Leg{
			{ID: "leg-1", Mode: "TAXI", StartTime: legStart, EndTime: in(30 * time.Minute), State: itinerary.LegUpcoming},
		},
	}

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(it, nil)
	f.trips.On("ActivateLeg", mock.Anything, mock.Anything, "itn-1", "leg-1", itinerary.ActivateLegOptions{ReuseBooking: true}).
		Return(&itinerary.Leg{ID: "leg-1", Mode: "TAXI", StartTime: legStart, State: itinerary.LegActivated}, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, flow.TaskCheckLeg, timerTask(t, decisions[0]))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.TypeTripUpdated, f.notifier.sent[0].Type)
	assert.Equal(t, "leg-1", f.notifier.sent[0].Data["legId"])

	require.Len(t, f.ledger.txs, 1)
	assert.True(t, f.ledger.txs[0].committed)
	f.trips.AssertExpectations(t)
}

func TestCheckLeg_UnknownLegAborts(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCheckLeg, map[string]any{flow.ParamLegID: "leg-9"})

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(&itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StateActivated,
	}, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	decisions := b.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, engine.DecisionFailWorkflow, decisions[0].Type)
}

func TestActivateLeg_UnusableBookingAlertsBeforeCommit(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCheckLeg, map[string]any{flow.ParamLegID: "leg-1"})

	it := &itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StateActivated,
		Legs: []itinerary.Leg{
			{ID: "leg-1", Mode: "BUS", StartTime: in(time.Minute), EndTime: in(20 * time.Minute), State: itinerary.LegUpcoming},
		},
	}

	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(it, nil)
	f.trips.On("ActivateLeg", mock.Anything, mock.Anything, "itn-1", "leg-1", mock.Anything).
		Return(&itinerary.Leg{
			ID:        "leg-1",
			StartTime: in(time.Minute),
			State:     itinerary.LegActivated,
			Booking:   &itinerary.Booking{ID: "bk-1", State: itinerary.BookingRejected},
		}, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	alerts := f.notifier.bySeverity(notify.SeverityAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, "leg-1", alerts[0].Data["legId"])
	assert.Equal(t, string(itinerary.BookingRejected), alerts[0].Data["bookingState"])

	require.Len(t, f.ledger.txs, 1)
	assert.True(t, f.ledger.txs[0].committed)
}

// stubEngine records submitted decision batches.
type stubEngine struct {
	mu        sync.Mutex
	responses []*engine.RespondDecisionTaskCompletedRequest
}

func (e *stubEngine) StartWorkflow(context.Context, *engine.StartWorkflowRequest) (*engine.StartWorkflowResponse, error) {
	return nil, errors.New("not used")
}

func (e *stubEngine) PollForDecisionTask(context.Context, *engine.PollForDecisionTaskRequest) (*engine.DecisionTask, error) {
	return nil, errors.New("not used")
}

func (e *stubEngine) RespondDecisionTaskCompleted(_ context.Context, req *engine.RespondDecisionTaskCompletedRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append(e.responses, req)
	return nil
}

func (e *stubEngine) SignalWorkflow(context.Context, *engine.SignalWorkflowRequest) error {
	return errors.New("not used")
}

func cancelDecisionTask(t *testing.T) *engine.DecisionTask {
	t.Helper()
	input, err := flow.Envelope{
		Trip:  testTrip(t),
		Stage: flow.StageClosing,
		Task:  flow.Task{Name: flow.TaskCancelTrip},
	}.Encode()
	require.NoError(t, err)

	return &engine.DecisionTask{
		TaskToken:         "token-1",
		WorkflowExecution: engine.WorkflowExecution{WorkflowID: "itinerary.itn-1", RunID: "run-1"},
		Events: []engine.HistoryEvent{{
			ID:       2,
			Type:     engine.EventWorkflowSignaled,
			Signaled: &engine.SignaledAttributes{SignalName: "CANCEL_TRIP", Input: input},
		}},
	}
}

func TestHandleDecisionTask_SubmitsBatch(t *testing.T) {
	f := newFixture()
	eng := &stubEngine{}
	h := NewHandler(eng, f.decider, zap.NewNop())

	require.NoError(t, h.HandleDecisionTask(context.Background(), cancelDecisionTask(t)))

	require.Len(t, eng.responses, 1)
	resp := eng.responses[0]
	assert.Equal(t, "token-1", resp.TaskToken)
	require.Len(t, resp.Decisions, 1)
	assert.Equal(t, engine.DecisionCompleteWorkflow, resp.Decisions[0].Type)
}

func TestHandleDecisionTask_UndecidedRoundNeverResponds(t *testing.T) {
	f := newFixture()
	eng := &stubEngine{}
	h := NewHandler(eng, f.decider, zap.NewNop())

	planned := &itinerary.Itinerary{ID: "itn-1", IdentityID: "identity-1", StartTime: in(time.Hour), State: itinerary.StatePlanned}
	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(planned, nil)
	f.trips.On("Pay", mock.Anything, "itn-1").Return(nil, errors.New("card declined"))

	input, err := flow.Envelope{
		Trip:  testTrip(t),
		Stage: flow.StageStart,
		Task:  flow.Task{Name: flow.TaskStartTrip},
	}.Encode()
	require.NoError(t, err)

	task := &engine.DecisionTask{
		TaskToken:         "token-1",
		WorkflowExecution: engine.WorkflowExecution{WorkflowID: "itinerary.itn-1"},
		Events: []engine.HistoryEvent{{
			ID:              1,
			Type:            engine.EventWorkflowStarted,
			WorkflowStarted: &engine.WorkflowStartedAttributes{Input: input},
		}},
	}

	require.Error(t, h.HandleDecisionTask(context.Background(), task))
	assert.Empty(t, eng.responses)
}

func TestSweep_SkipsTerminalLegs(t *testing.T) {
	f := newFixture()
	wctx, b := workflowContext(t, flow.TaskCheckItinerary, nil)

	it := &itinerary.Itinerary{
		ID:         "itn-1",
		IdentityID: "identity-1",
		State:      itinerary.StateActivated,
		Legs: []itinerary.Leg{
			{ID: "leg-1", StartTime: in(time.Minute), State: itinerary.LegCancelled},
			{ID: "leg-2", StartTime: in(30 * time.Minute), State: itinerary.LegCancelledWithErrors},
		},
	}
	f.trips.On("Retrieve", mock.Anything, "itn-1").Return(it, nil)

	require.NoError(t, f.decider.Decide(context.Background(), wctx, b))

	assert.Empty(t, b.Decisions())
	f.trips.AssertNotCalled(t, "ActivateLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.ledger.txs)
}
