// Command remo-import copies Nature Remo devices and their latest sensor
// readings into the device collection.
//
// It runs once and exits. Under the Lambda runtime (AWS_LAMBDA_RUNTIME_API
// set) it serves scheduled invocations instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/homeapi/internal/app"
)

var version = "dev"

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

	importer, err := a.RemoImporter()
	if err != nil {
		return fmt.Errorf("creating importer: %w", err)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(func(ctx context.Context) error {
			_, err := importer.Import(ctx)
			return err
		})
		return nil
	}

	res, err := importer.Import(ctx)
	if err != nil {
		return fmt.Errorf("importing devices: %w", err)
	}
	fmt.Printf("created %d, updated %d, unchanged %d, skipped %d\n",
		res.Created, res.Updated, res.Unchanged, res.Skipped)
	return nil
}
