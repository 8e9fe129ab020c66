package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/config"
	"github.com/pippuri/whim-bot-sub001/internal/decider"
	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/flow"
	"github.com/pippuri/whim-bot-sub001/internal/invoker"
	"github.com/pippuri/whim-bot-sub001/internal/itinerary"
	"github.com/pippuri/whim-bot-sub001/internal/ledger"
	"github.com/pippuri/whim-bot-sub001/internal/notify"
	"github.com/pippuri/whim-bot-sub001/internal/poller"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.WorkerFromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the ledger database
	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	log.Info("connected to database")

	// Collaborators
	engineClient := engine.NewHTTPClient(cfg.Engine.BaseURL, log.Named("engine"))
	trips := itinerary.NewClient(cfg.TripsServiceURL, log.Named("trips"))
	points := ledger.NewPostgresLedger(pool, log.Named("ledger"))

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.PushGatewayURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.PushGatewayURL, log.Named("notify"))
	}

	// Decision pathway
	d := decider.New(trips, points, notifier, log.Named("decider"))
	handler := decider.NewHandler(engineClient, d, log.Named("rounds"))
	dispatcher := poller.NewGoDispatcher(handler, log.Named("dispatch"))

	p, err := poller.New(engineClient, poller.Config{
		Domain:          cfg.Engine.Domain,
		TaskList:        cfg.Engine.TaskList,
		MaxBlockingTime: cfg.MaxBlockingTime,
	}, dispatcher, log.Named("poller"))
	if err != nil {
		log.Fatal("invalid poller configuration", zap.Error(err))
	}

	// Activity endpoint: the engine pushes scheduled units of work here.
	// Every lifecycle task acknowledges by echoing its envelope; the decision
	// logic runs when the completion re-enters the next round.
	inv := invoker.New(log.Named("invoker"))
	for _, name := range []flow.TaskName{
		flow.TaskNoOperation,
		flow.TaskStartTrip,
		flow.TaskActivateTrip,
		flow.TaskCheckItinerary,
		flow.TaskCheckLeg,
		flow.TaskCloseTrip,
		flow.TaskCancelTrip,
	} {
		inv.Register(name, func(context.Context, flow.Envelope) (any, error) {
			return nil, nil
		})
	}

	activitySrv := &http.Server{
		Addr:         cfg.ActivityBindAddr,
		Handler:      activityHandler(inv, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info("activity endpoint listening", zap.String("addr", cfg.ActivityBindAddr))
		if err := activitySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("activity endpoint failed", zap.Error(err))
		}
	}()

	// Poll until interrupted. Each Run consumes one time budget; the worker
	// loops budgets back to back.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		activitySrv.Shutdown(shutdownCtx)
	}()

	log.Info("worker started",
		zap.String("domain", cfg.Engine.Domain),
		zap.String("taskList", cfg.Engine.TaskList))
	for ctx.Err() == nil {
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("polling run failed", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}
	log.Info("worker stopped")
}

// activityHandler exposes the invoker as POST /activities/invoke.
func activityHandler(inv *invoker.Invoker, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/activities/invoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		result, err := inv.Invoke(r.Context(), req.Input)
		if err != nil {
			log.Warn("activity invocation rejected", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"result": result})
	})
	return mux
}
