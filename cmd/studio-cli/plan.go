package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ecom-image-studio/internal/export"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/imgutil"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
)

var (
	styleFlag         string
	productFlags      []string
	compositionFlag   string
	strategyFlag      string
	sellingPointsFlag string
	allowedFlag       string
	prohibitedFlag    string
	planOutFlag       string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Decode a style reference and plan storyboards for a product",
	Long: `Plan decodes the style reference into a visual constitution, analyzes
the product photos into six storyboards and fuses them into render prompts.
Missing image flags open a file picker.`,
	RunE: runPlan,
}

func init() {
	f := planCmd.Flags()
	f.StringVar(&styleFlag, "style", "", "Style reference image")
	f.StringArrayVarP(&productFlags, "product", "p", nil, "Product photo (repeat up to 5 times)")
	f.StringVar(&compositionFlag, "composition", "", "Optional composition reference image")
	f.StringVarP(&strategyFlag, "strategy", "s", string(planner.StrategyDetail), "Storyboard strategy (detail or main_image)")
	f.StringVar(&sellingPointsFlag, "selling-points", "", "Selling points to emphasize")
	f.StringVar(&allowedFlag, "allowed", "", "Elements the images may include")
	f.StringVar(&prohibitedFlag, "prohibited", "", "Elements the images must avoid")
	f.StringVarP(&planOutFlag, "out", "o", "plan.json", "Where to write the plan")
}

var imageFilter = zenity.FileFilters{
	{Name: "Images", Patterns: []string{"*.jpg", "*.jpeg", "*.png", "*.webp"}},
}

func runPlan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	strategy, err := planner.ParseStrategy(strategyFlag)
	if err != nil {
		return err
	}
	if styleFlag == "" {
		if styleFlag, err = zenity.SelectFile(zenity.Title("Select style reference"), imageFilter); err != nil {
			return pickerError(err)
		}
	}
	if len(productFlags) == 0 {
		if productFlags, err = zenity.SelectFileMultiple(zenity.Title("Select product photos"), imageFilter); err != nil {
			return pickerError(err)
		}
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	settings, err := s.settings()
	if err != nil {
		return err
	}

	styleImg, err := loadImage(styleFlag)
	if err != nil {
		return err
	}
	products := make([]gateway.Image, 0, len(productFlags))
	for _, path := range productFlags {
		img, err := loadImage(path)
		if err != nil {
			return err
		}
		products = append(products, *img)
	}
	var composition *gateway.Image
	if compositionFlag != "" {
		if composition, err = loadImage(compositionFlag); err != nil {
			return err
		}
	}

	pl := planner.New(s.gw)
	p := render.NewProject("local", "local", "local", settings)

	log.Info().Str("style", styleFlag).Msg("Decoding style")
	c, err := pl.DecodeStyle(ctx, *styleImg, settings.AnalysisModel, settings.Credential)
	if err != nil {
		return err
	}
	p.SetConstitution(c)

	log.Info().Int("products", len(products)).Str("strategy", string(strategy)).Msg("Analyzing product")
	result, err := pl.Analyze(ctx, planner.AnalyzeRequest{
		Images: products,
		Constraints: planner.Constraints{
			SellingPoints: sellingPointsFlag,
			Allowed:       allowedFlag,
			Prohibited:    prohibitedFlag,
		},
		Strategy:             strategy,
		Model:                settings.AnalysisModel,
		Credential:           settings.Credential,
		CompositionReference: composition,
	})
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		log.Warn().Msg(w)
	}
	p.SetAnalysis(result.Analysis)

	prompts, err := pl.Fuse(ctx, c, p.Analysis(), settings.AnalysisModel, settings.Credential)
	if err != nil {
		return err
	}
	p.SetPrompts(prompts)

	font := settings.Font
	if font == "" && len(result.Analysis.FontOptions) > 0 {
		font = result.Analysis.FontOptions[0]
	}
	fmt.Println(export.PlanSummary(p.Prompts(), strategy, font, c))

	data, err := json.MarshalIndent(p.Portable(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(planOutFlag, data, 0o600); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	log.Info().Str("path", planOutFlag).Msg("Plan saved")
	return nil
}

// loadImage reads and normalizes an image file for the model.
func loadImage(path string) (*gateway.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data, mime, err := imgutil.Normalize(raw, imgutil.MaxUploadDimension)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &gateway.Image{Data: data, MIMEType: mime}, nil
}

func pickerError(err error) error {
	if errors.Is(err, zenity.ErrCanceled) {
		return fmt.Errorf("no file selected")
	}
	return fmt.Errorf("file picker: %w", err)
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
