package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"splitflow/internal/app/bootstrap"
)

// API process entrypoint.
// Data flow:
// 1) Load config from the environment and an optional dotenv file.
// 2) Build app wiring (storage + settlement + use cases).
// 3) Serve HTTP until SIGINT/SIGTERM, then drain.
func main() {
	log.Println("splitflow api starting")
	app, err := bootstrap.BuildAPI(envFile())
	if err != nil {
		log.Fatalf("bootstrap api failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("api shutdown close failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Printf("splitflow api stopped with error: %v", err)
	}
}

func envFile() string {
	if path := os.Getenv("ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}
