// Package main runs the translation pipeline as an AWS Lambda function.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/function"
	"github.com/raaihank/nmt-proxy/internal/logger"
	"github.com/raaihank/nmt-proxy/internal/registry"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

func main() {
	// NMT_CONFIG points at the bundled config file
	cfg, err := config.Load(os.Getenv("NMT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Models load once per cold start
	models := registry.New(registry.NewLoader(cfg.Models, log.WithComponent("loader").Logger), 0, log.WithComponent("registry").Logger)
	if err := models.Refresh(context.Background()); err != nil {
		log.Fatal("Failed to load models", zap.Error(err))
	}

	handler := function.NewHandler(
		translate.New(models, log.WithComponent("translate").Logger),
		func() int { return len(models.Models()) },
		log.WithComponent("function").Logger,
	)

	lambda.Start(handler.Handle)
}
