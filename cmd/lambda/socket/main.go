package main

import (
	"skylift/cmd/lambda/app"
	"skylift/internal/adapters/lambda"
	"skylift/internal/config"
	"skylift/pkg/server"

	awslambda "github.com/aws/aws-lambda-go/lambda"
)

func init() {
	cfg, err := config.GetOptimizedConfig()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if err := server.GetWarmManager().Initialize(cfg, app.Definition()); err != nil {
		panic("Failed to initialize container: " + err.Error())
	}
}

func main() {
	awslambda.Start(lambda.SocketHandler())
}
