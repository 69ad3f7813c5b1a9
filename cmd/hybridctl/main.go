package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kirillkom/hybrid-retriever/internal/adapters/cli"
	"github.com/kirillkom/hybrid-retriever/internal/bootstrap"
	"github.com/kirillkom/hybrid-retriever/internal/config"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
	"github.com/kirillkom/hybrid-retriever/internal/observability/logging"
)

const serviceName = "hybridctl"

func main() {
	root := cli.NewRootCommand(openService)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openService(ctx context.Context) (ports.RetrievalService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, serviceName, cfg.LogLevel, "text")

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service: serviceName,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app.Retrieval, app.Close, nil
}
