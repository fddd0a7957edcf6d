// Command homeapi-lambda serves the GraphQL API behind an API Gateway HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/homeapi/internal/app"
)

var version = "dev"

func main() {
	ctx := context.Background()

	a, err := app.Load(ctx, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	srv, err := a.Server(version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating server: %v\n", err)
		os.Exit(1)
	}

	lambda.StartWithOptions(srv.HandleAPIGateway, lambda.WithEnableSIGTERM(a.Close))
}
