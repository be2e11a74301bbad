package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"peoplecounter/internal/app"
	"peoplecounter/internal/config"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/pipeline"
)

func main() {
	cfg, err := config.Load(os.Args[1:]...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logger.NewLogger(cfg)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to start people counter: %v", err)
		logger.Close()
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			logger.Error("Pipeline stopped in %s stage at frame %d: %v", stageErr.Stage, stageErr.Seq, stageErr.Err)
		} else {
			logger.Error("Pipeline stopped: %v", err)
		}
		logger.Close()
		os.Exit(1)
	}
}
