package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketplace-settlement/app"
	"marketplace-settlement/config"
	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
)

func main() {
	cfg := config.LoadConfig()
	log := app.NewLogger(cfg)
	logger.SetDefault(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Error initializing application: %v", err)
	}
	defer a.Close()

	if err := db.Migrate(ctx, a.DB); err != nil {
		log.Fatal("Error creating tables: %v", err)
	}

	go a.RunEmailConsumer(ctx)
	go a.RunReminderLoop(ctx, cfg.ReminderInterval)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received, draining requests...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during server shutdown: %v", err)
	}

	log.Info("Server shutdown complete")
}
