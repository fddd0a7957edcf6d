// Command place-cascade consumes the table's DynamoDB stream and moves the
// devices of removed places to the fallback place.
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
	a, err := app.Load(context.Background(), version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	lambda.Start(a.PlaceCascade().HandlePlaceRemoval)
}
