// Package main runs the asynchronous render worker.
//
// The worker pops bulk render jobs queued by the API from Redis, renders
// them against the shared record store and writes per-card status back
// to Redis. Credits are charged in the store, so STUDIO_STORE must be a
// shared backend when the API and the worker run as separate processes.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/ecom-image-studio/internal/config"
	"github.com/fpang/ecom-image-studio/internal/lambdaboot"
	"github.com/fpang/ecom-image-studio/internal/logging"
	"github.com/fpang/ecom-image-studio/internal/queue"
)

// Set by -ldflags at build time.
var commitHash = "dev"

var rootCmd = &cobra.Command{
	Use:   "studio-worker",
	Short: "Drain queued bulk renders",
	RunE:  runMain,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, _ []string) error {
	initStart := time.Now()
	logging.Init()

	cfg := config.Load()
	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsClients *lambdaboot.AWSClients
	if cfg.Store == config.StoreDynamo {
		c, err := lambdaboot.InitAWS(ctx)
		if err != nil {
			return err
		}
		awsClients = &c
	}
	svc, err := lambdaboot.InitServices(ctx, cfg, awsClients)
	if err != nil {
		return err
	}

	lambdaboot.StartupLog("studio-worker", cfg, initStart).
		CommitHash(commitHash).
		Log()

	return queue.NewWorker(svc.Queue, svc.Orchestrator).Run(ctx)
}
