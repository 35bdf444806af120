package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/expenseops/invoice-assistant/internal/adapters/http"
	"github.com/expenseops/invoice-assistant/internal/bootstrap"
	"github.com/expenseops/invoice-assistant/internal/config"
	"github.com/expenseops/invoice-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "invoice-assistant-api", cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	// Seed the built-in policy so chat has policy context before the first
	// upload. The store may still be starting; the API serves regardless.
	if err := app.Seeder.EnsureDefaultPolicy(ctx); err != nil {
		app.Logger.Warn("default policy seeding failed", "error", err)
	}

	m := metrics.NewHTTPServerMetrics("invoice-assistant-api")
	router := httpadapter.NewRouter(
		app.Pipeline,
		app.Query,
		app.Sessions,
		app.Uploads,
		m,
		app.Logger,
		httpadapter.RouterOptions{
			RateLimitPerSecond: cfg.RateLimitPerSecond,
			RateLimitBurst:     cfg.RateLimitBurst,
			MaxConcurrent:      cfg.MaxConcurrent,
		},
	).Handler()

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
		// Batch analysis and SSE streams stay open well past typical
		// request timeouts, so only reads are bounded.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		app.Logger.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("api shutdown error", "error", err)
	}
}
