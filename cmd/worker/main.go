package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"splitflow/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring.
// 3) Run the batch ticker, outbox relay, stale reset and payment consumer.
func main() {
	log.Println("splitflow worker starting")
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	app, err := bootstrap.BuildWorker(envFile)
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Printf("splitflow worker stopped with error: %v", err)
	}
}
