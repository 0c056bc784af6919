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
	cfg, err := config.LoadDetector()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logs, err := logger.New(cfg.LogDirectory, cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logs.Close()

	detector, err := app.NewDetector(cfg, logs)
	if err != nil {
		logs.Error("Failed to start detection service: %v", err)
		logs.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := detector.Run(ctx); err != nil {
		logs.Error("Detection service stopped: %v", err)
		logs.Close()
		os.Exit(1)
	}
}
