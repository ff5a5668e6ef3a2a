package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veldt/crystal-backend/internal/app"
	"github.com/veldt/crystal-backend/internal/observability"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}

	shutdownTracing := observability.InitOTel(context.Background(), a.Log, observability.OtelConfig{
		ServiceName: "crystal-backend",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.Log.Error("Server stopped", "error", err)
	case sig := <-quit:
		a.Log.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			a.Log.Warn("Tracing shutdown failed", "error", err)
		}
	}
	a.Close(ctx)
}
