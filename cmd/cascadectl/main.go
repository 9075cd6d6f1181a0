package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"splitflow/cmd/cascadectl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.App().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
