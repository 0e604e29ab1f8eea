package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"tickflow.com/internal/quotes/app"
	"tickflow.com/internal/quotes/config"
	"tickflow.com/pkg/logger"
)

func main() {
	// Ctrl+C / kubernetes stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quotesApp, err := app.New(config.ServiceName)
	if err != nil {
		log.Fatalf("init quotes-service: %v", err)
	}
	cleanUp, err := quotesApp.StartService(ctx)
	if err != nil {
		log.Fatalf("start quotes-service: %v", err)
	}
	defer cleanUp()

	srv := quotesApp.StartHttp()
	if err := quotesApp.Run(ctx, srv); err != nil {
		logger.Error(ctx, "quotes-service stopped", zap.Error(err))
		return
	}
	logger.Info(ctx, "quotes-service exit")
}
