package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/expenseops/invoice-assistant/internal/bootstrap"
	"github.com/expenseops/invoice-assistant/internal/config"
)

// seedpolicy stores a reimbursement policy document in the vector store
// outside a batch run: a file given on the command line, or the built-in
// default policy when invoked without arguments.
func main() {
	flag.Usage = func() {
		log.Printf("usage: seedpolicy [policy-file]")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "invoice-assistant-seedpolicy", cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if flag.NArg() == 0 {
		if err := app.Seeder.EnsureDefaultPolicy(ctx); err != nil {
			log.Fatalf("seed default policy: %v", err)
		}
		app.Logger.Info("default policy is in place")
		return
	}

	for _, path := range flag.Args() {
		id, err := app.Seeder.SeedFromFile(ctx, path)
		if err != nil {
			log.Fatalf("seed %s: %v", path, err)
		}
		app.Logger.Info("policy stored", "path", path, "id", id)
	}
}
