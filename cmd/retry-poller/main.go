// Package main is the entry point for the retry queue poller.
//
// As a long-running process it drains due retry entries on
// RETRY_POLL_SCHEDULE until SIGINT or SIGTERM, then waits for the running
// cycle to finish. Inside AWS Lambda each invocation (an EventBridge
// schedule) runs exactly one cycle.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"

	"alertrelay/internal/app"
	"alertrelay/internal/config"
	"alertrelay/internal/notifications/core"
	"alertrelay/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("retry poller starting",
		"environment", cfg.Environment,
		"schedule", cfg.Retry.Schedule,
		"batch_size", cfg.Retry.BatchSize,
		"concurrency", cfg.Retry.Concurrency,
	)

	rt, err := app.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	poller := app.NewRetryPoller(cfg, rt.Engine)

	if isLambdaEnvironment() {
		lambda.Start(newLambdaHandler(poller))
		return nil
	}

	if err := poller.Start(); err != nil {
		return fmt.Errorf("starting poller: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := poller.Stop(ctx); err != nil {
		return fmt.Errorf("stopping poller: %w", err)
	}
	return nil
}

// cycleRunner runs one retry cycle. *scheduler.RetryPoller implements it.
type cycleRunner interface {
	RunOnce(ctx context.Context) (core.BatchStats, error)
}

var _ cycleRunner = (*scheduler.RetryPoller)(nil)

// cycleResult is the Lambda invocation result.
type cycleResult struct {
	Released     int64 `json:"released"`
	Fetched      int   `json:"fetched"`
	Sent         int   `json:"sent"`
	Requeued     int   `json:"requeued"`
	DeadLettered int   `json:"dead_lettered"`
	Skipped      int   `json:"skipped"`
	Errors       int   `json:"errors"`
}

func newLambdaHandler(runner cycleRunner) func(ctx context.Context) (cycleResult, error) {
	return func(ctx context.Context) (cycleResult, error) {
		stats, err := runner.RunOnce(ctx)
		if err != nil {
			return cycleResult{}, err
		}
		return cycleResult(stats), nil
	}
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}
