// Command smarthome-lambda serves the smart-home routes behind API Gateway.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/goliatone/go-smarthome/bootstrap"
	"github.com/goliatone/go-smarthome/inbound"
)

func main() {
	app, err := bootstrap.New(context.Background(), bootstrap.Options{
		ConfigPath: os.Getenv("SMARTHOME_CONFIG"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	lambda.Start(inbound.NewLambdaHandler(app.Dispatcher))
}
