// Package main runs the image studio HTTP API as a standalone server.
//
// Workspaces live in process memory, so run a single replica. Users,
// balances and history go to the backend chosen by STUDIO_STORE. When
// REDIS_HOST is set, bulk renders can be queued for studio-worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ecom-image-studio/internal/api"
	"github.com/fpang/ecom-image-studio/internal/config"
	"github.com/fpang/ecom-image-studio/internal/events"
	"github.com/fpang/ecom-image-studio/internal/lambdaboot"
	"github.com/fpang/ecom-image-studio/internal/logging"
	"github.com/fpang/ecom-image-studio/internal/session"
)

// Set by -ldflags at build time.
var commitHash = "dev"

var (
	portFlag       string
	sessionTTLFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "studio-server",
	Short: "HTTP API for the e-commerce image studio",
	Long: `Studio Server exposes the style decoder, product planner, prompt fusion
and credit-gated renderer over a JSON API with live card updates.

Examples:
  studio-server
  studio-server --port 9090
  STUDIO_STORE=supabase studio-server --session-ttl 4h`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&portFlag, "port", "", "Port to listen on (default $PORT or 8080)")
	rootCmd.Flags().DurationVar(&sessionTTLFlag, "session-ttl", session.DefaultTTL, "Idle lifetime of a workspace")
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
	if portFlag != "" {
		cfg.Port = portFlag
	}
	if err := cfg.Validate(); err != nil {
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

	deps := svc.APIDeps(cfg)
	deps.Sessions = session.NewManager(sessionTTLFlag)
	deps.Hub = events.NewHub(cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.New(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Bulk renders hold the request open until every card settles.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
	}()

	lambdaboot.StartupLog("studio-server", cfg, initStart).
		CommitHash(commitHash).
		Config("port", cfg.Port).
		Config("sessionTTL", sessionTTLFlag.String()).
		Log()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
