package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/expenseops/invoice-assistant/internal/bootstrap"
	"github.com/expenseops/invoice-assistant/internal/config"
	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/observability/metrics"
	"github.com/expenseops/invoice-assistant/internal/report"
)

const workerService = "invoice-assistant-worker"

// The worker consumes batch-completed events and writes one XLSX expense
// report per batch under the configured report directory.
func main() {
	cfg := config.Load()
	if cfg.NATSURL == "" {
		log.Fatal("worker requires NATS_URL to be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, workerService, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if err := os.MkdirAll(cfg.ReportPath, 0o755); err != nil {
		log.Fatalf("create report dir: %v", err)
	}

	m := metrics.NewWorkerMetrics(workerService)
	go serveMetrics(app, m, cfg.WorkerMetricsPort)

	app.Logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeBatchCompleted(ctx, func(handlerCtx context.Context, done domain.BatchDone) error {
		if !done.Timestamp.IsZero() {
			m.ObserveQueueLag(workerService, time.Since(done.Timestamp))
		}

		m.StartReport()
		start := time.Now()
		path, writeErr := writeReport(cfg.ReportPath, done)
		m.FinishReport(workerService, time.Since(start), writeErr)

		if writeErr != nil {
			app.Logger.Error("report generation failed",
				"employee", done.EmployeeName, "error", writeErr)
			return writeErr
		}
		app.Logger.Info("report written",
			"employee", done.EmployeeName,
			"invoices", done.TotalInvoices,
			"path", path)
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

func writeReport(dir string, done domain.BatchDone) (string, error) {
	name := fmt.Sprintf("%s_%s.xlsx",
		sanitizeName(done.EmployeeName),
		done.Timestamp.UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := report.WriteBatchReport(f, done); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func sanitizeName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	if clean == "" {
		return "batch"
	}
	return clean
}

func serveMetrics(app *bootstrap.App, m *metrics.WorkerMetrics, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	app.Logger.Info("worker metrics listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		app.Logger.Error("worker metrics server error", "error", err)
	}
}
