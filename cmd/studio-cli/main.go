// Package main is a local command-line front end for the image studio.
//
// It runs the same planner and renderer as the server against a single
// local workspace: plan decodes the style and plans the product, render
// turns a saved plan into images and a ZIP bundle.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ecom-image-studio/internal/auth"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/logging"
	"github.com/fpang/ecom-image-studio/internal/render"
)

// CLI flags shared by every command.
var (
	analysisModelFlag string
	imageModelFlag    string
	aspectFlag        string
	fontFlag          string
	rpsFlag           float64
)

var rootCmd = &cobra.Command{
	Use:   "studio-cli",
	Short: "Plan and render e-commerce marketing images",
	Long: `Studio CLI decodes the visual style of a reference image, plans six
storyboards for a product and renders them with Gemini image models.

Examples:
  studio-cli plan --style ref.jpg --product a.jpg --product b.jpg -o plan.json
  studio-cli plan --strategy main_image --selling-points "静音, 长续航"
  studio-cli render --plan plan.json --ids sb1,sb3 -o bundle.zip
  studio-cli validate`,
	PersistentPreRun: func(*cobra.Command, []string) { logging.Init() },
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&analysisModelFlag, "model", "m", gateway.DefaultAnalysisModel, "Gemini model for style decoding and planning")
	pf.StringVar(&imageModelFlag, "image-model", string(gateway.ImageModelStandard), "Render model (nanobanana or \"nanobanana pro\")")
	pf.StringVar(&aspectFlag, "aspect", string(gateway.AspectSquare), "Render aspect ratio")
	pf.StringVar(&fontFlag, "font", "", "Font for on-image copy (default: first suggestion)")
	pf.Float64Var(&rpsFlag, "rps", 2, "Maximum Gemini requests per second")

	rootCmd.AddCommand(planCmd, renderCmd, validateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// session is the local equivalent of a server workspace.
type session struct {
	key string
	gw  gateway.Gateway
}

// newSession resolves the API key and builds the gateway. The key is both
// the default and the user credential, so elevated models are allowed.
func newSession() (*session, error) {
	key, err := auth.GetAPIKey()
	if err != nil {
		return nil, err
	}
	return &session{key: key, gw: gateway.NewGeminiGateway(key, rpsFlag)}, nil
}

func (s *session) settings() (render.Settings, error) {
	st := render.Settings{
		Credential:    s.key,
		AnalysisModel: analysisModelFlag,
		Font:          fontFlag,
	}
	m, err := gateway.ParseImageModel(imageModelFlag)
	if err != nil {
		return st, err
	}
	st.ImageModel = m
	ar, err := gateway.ParseAspectRatio(aspectFlag)
	if err != nil {
		return st, err
	}
	st.AspectRatio = ar
	return st, nil
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the configured Gemini API key works",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		if err := auth.ValidateAPIKey(cmd.Context(), s.gw, s.key, analysisModelFlag); err != nil {
			return describeValidationError(err)
		}
		fmt.Println("API key is valid")
		return nil
	},
}

func describeValidationError(err error) error {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("unexpected error during API key validation: %w", err)
	}
	switch validationErr.Type {
	case auth.ErrTypeNoKey:
		log.Error().Msg("No API key configured. Set GEMINI_API_KEY or store it with GPG")
	case auth.ErrTypeInvalidKey:
		log.Error().Err(err).Msg("Invalid API key. Please check your API key and try again")
	case auth.ErrTypeUnavailable:
		log.Error().Err(err).Msg("Gemini is unreachable or over quota. Please try again later")
	default:
		log.Error().Err(err).Msg("API key validation failed")
	}
	return err
}
