// Command homeapi serves the GraphQL API over HTTP.
//
// Configuration is read from the YAML file named by HOMEAPI_CONFIG, if set,
// and from the environment. Point HOMEAPI_DYNAMODB_ENDPOINT at DynamoDB Local
// for development.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacentio/homeapi/internal/app"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	a, err := app.Load(ctx, version)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Logger.Info("starting homeapi", "version", version, "commit", commit)

	srv, err := a.Server(version)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	<-ctx.Done()
	a.Logger.Info("shutdown signal received")

	if err := srv.Close(); err != nil {
		a.Logger.Error("error stopping server", "error", err)
	}
	a.Logger.Info("homeapi stopped")
	return nil
}
