// Package main provides a Lambda entry point for the image studio API.
//
// The same router as studio-server is served through the API Gateway v2
// adapter. Workspaces live in the memory of one warm instance, so the
// function should run with reserved concurrency of one or with sticky
// routing. The default Gemini key is read from SSM at cold start.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/api"
	"github.com/fpang/ecom-image-studio/internal/config"
	"github.com/fpang/ecom-image-studio/internal/events"
	"github.com/fpang/ecom-image-studio/internal/lambdaboot"
	"github.com/fpang/ecom-image-studio/internal/logging"
	"github.com/fpang/ecom-image-studio/internal/session"
)

// Set by -ldflags at build time.
var commitHash = "dev"

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	awsClients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	if err := lambdaboot.LoadGeminiKey(ctx, awsClients.SSM, cfg.GeminiKeySSM); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	svc, err := lambdaboot.InitServices(ctx, cfg, &awsClients)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	deps := svc.APIDeps(cfg)
	deps.Sessions = session.NewManager(session.DefaultTTL)
	deps.Hub = events.NewHub(cfg.AllowedOrigin)
	handler = api.New(deps).Router()

	lambdaboot.StartupLog("studio-lambda", cfg, initStart).
		CommitHash(commitHash).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
