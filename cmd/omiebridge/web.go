package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omiebridge/internal/cache"
	"omiebridge/internal/catalog"
	"omiebridge/internal/config"
	"omiebridge/internal/customers"
	"omiebridge/internal/logsink"
	"omiebridge/internal/omie"
	"omiebridge/internal/respond"
	"omiebridge/internal/sales"
	"omiebridge/internal/static"
	"omiebridge/internal/stock"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// services are the long lived pieces shared by the server and the one shot commands.
type services struct {
	client *omie.Client
	stock  *stock.Service
}

func newServices(cfg *config.Config) (*services, error) {
	if cfg.Omie.UsingDefaults() {
		slog.Warn("OMIE_API_KEY/OMIE_API_SECRET not set, using placeholder credentials")
	}
	client, err := omie.NewClient(cfg.Omie)
	if err != nil {
		return nil, fmt.Errorf("failed to create omie client: %w", err)
	}
	loc, err := cfg.Server.Location()
	if err != nil {
		return nil, err
	}
	results := cache.NewResultCache[*stock.Response]()
	svc := stock.NewService(catalog.NewBuilder(client), stock.NewEnricher(client), results, loc)
	return &services{client: client, stock: svc}, nil
}

func newHandler(cfg *config.Config) (http.Handler, error) {
	svcs, err := newServices(cfg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	stock.NewHandler(svcs.stock).Register(mux)
	customers.NewHandler(
		customers.NewSearcher(svcs.client),
		customers.NewResolver(svcs.client, customers.NewRegistry(cfg.CNPJ)),
	).Register(mux)
	sales.NewService(svcs.client).Register(mux)

	mux.HandleFunc("GET /api/test", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, r, http.StatusOK, map[string]string{"status": "ok", "message": "API funcionando"})
	})

	if cfg.LogSink.Enabled() && cfg.LogSink.ReadToken != "" {
		reader, err := logsink.NewReader(cfg.LogSink)
		if err != nil {
			return nil, fmt.Errorf("failed to create log reader: %w", err)
		}
		logsink.NewLogsHandler(reader, cfg.LogSink.ReadToken).Register(mux)
	}

	mux.Handle("GET /ready", newReadiness(svcs.stock))
	mux.Handle("GET /metrics", promhttp.Handler())

	files, err := static.New(cfg.Server.StaticDir)
	if err != nil {
		return nil, err
	}
	if !files.Enabled() {
		slog.Warn("static dir not found, front end disabled", "dir", cfg.Server.StaticDir)
	}
	files.Register(mux)

	return WithMiddleware(mux), nil
}

func runServer(cfg *config.Config, addr string) error {
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	handler, err := newHandler(cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Serving omiebridge", "address", addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)
		return gracefulShutdown(server)
	}
}

func gracefulShutdown(svr *http.Server) error {
	// Give outstanding requests 25 seconds to complete (kubernetes has 30 second grace period)
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := svr.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
		if closeErr := svr.Close(); closeErr != nil {
			slog.Error("Server close error", "error", closeErr)
		}
		return err
	}
	return nil
}
