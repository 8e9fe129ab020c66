package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/config"
	"github.com/pippuri/whim-bot-sub001/internal/engine"
	"github.com/pippuri/whim-bot-sub001/internal/flow"
	"github.com/pippuri/whim-bot-sub001/internal/handlers"
	"github.com/pippuri/whim-bot-sub001/internal/notify"
	"github.com/pippuri/whim-bot-sub001/internal/router"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.ServerFromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Engine client and trip starter
	engineClient := engine.NewHTTPClient(cfg.Engine.BaseURL, log.Named("engine"))
	starter := flow.NewStarter(engineClient, flow.StarterOptions{
		Domain:          cfg.Engine.Domain,
		TaskList:        cfg.Engine.TaskList,
		WorkflowName:    cfg.Engine.WorkflowName,
		WorkflowVersion: cfg.Engine.WorkflowVersion,
	}, log.Named("starter"))

	// Notification hub for live trip updates
	hub := notify.NewHub(log.Named("hub"))
	go hub.Run(ctx)

	// Handlers and router
	h := handlers.NewHandler(starter, hub, log.Named("api"))
	r := router.SetupRouter(h)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("trip API listening",
			zap.String("port", cfg.Port),
			zap.String("engine", cfg.Engine.BaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
