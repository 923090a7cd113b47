// Command dashjobsd runs the backend's asynchronous job workers: the
// geo-location enrichment and login-alert email consumers, the retention
// cleaner, and a small diagnostics HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dashngshop/dash-jobs/internal/api"
	"github.com/dashngshop/dash-jobs/internal/config"
	"github.com/dashngshop/dash-jobs/internal/geoip"
	"github.com/dashngshop/dash-jobs/internal/jobqueue"
	"github.com/dashngshop/dash-jobs/internal/mail"
	"github.com/dashngshop/dash-jobs/internal/store"
	"github.com/dashngshop/dash-jobs/internal/workers"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		logger.Error("dashjobsd exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg := config.Load()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	sender := mail.NewSender(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}, logger)

	registry := jobqueue.NewWorkers()
	jobqueue.AddWorker(registry, workers.NewGeoWorker(geoip.NewClient(cfg.GeoAPIBaseURL), st, logger))
	jobqueue.AddWorker(registry, workers.NewEmailAlertWorker(sender, logger))

	client, err := jobqueue.NewClient(st, &jobqueue.Config{
		Logger:  logger,
		Queues:  workers.DefaultQueues(),
		Workers: registry,
	})
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewHandler(client, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("diagnostics API listening", slog.String("addr", cfg.APIAddr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("diagnostics API server error", slog.String("error", err.Error()))
		}
	}()

	manager := workers.NewManager(client, logger, &httpService{server: apiServer})
	return manager.Run(ctx)
}

// httpService adapts the diagnostics server to the manager's shutdown.
type httpService struct {
	server *http.Server
}

func (s *httpService) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
