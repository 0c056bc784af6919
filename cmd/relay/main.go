package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"visionrelay/internal/app"
	"visionrelay/internal/config"
	"visionrelay/internal/logger"
)

func main() {
	cfg := config.LoadRelay()

	logs, err := logger.New(cfg.LogDirectory, cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logs.Close()

	relay, err := app.NewRelay(cfg, logs)
	if err != nil {
		logs.Error("Failed to start relay: %v", err)
		logs.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		logs.Error("Relay stopped: %v", err)
		logs.Close()
		os.Exit(1)
	}
}
