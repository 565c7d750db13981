package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ecom-image-studio/internal/export"
	"github.com/fpang/ecom-image-studio/internal/render"
	"github.com/fpang/ecom-image-studio/internal/store"
)

var (
	planInFlag    string
	idsFlag       string
	bundleOutFlag string
	parallelFlag  int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the cards of a saved plan into a ZIP bundle",
	RunE:  runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVar(&planInFlag, "plan", "plan.json", "Plan written by the plan command")
	f.StringVar(&idsFlag, "ids", "", "Comma-separated card ids (default: every card)")
	f.StringVarP(&bundleOutFlag, "out", "o", "bundle.zip", "Where to write the ZIP bundle")
	f.IntVar(&parallelFlag, "parallel", render.DefaultConcurrency, "Cards rendered at once")
}

func runRender(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	raw, err := os.ReadFile(planInFlag)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	var pp render.Portable
	if err := json.Unmarshal(raw, &pp); err != nil {
		return fmt.Errorf("decode plan %s: %w", planInFlag, err)
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	settings, err := s.settings()
	if err != nil {
		return err
	}
	// Flags given on this run win over the saved settings.
	pp.Settings.ImageModel = settings.ImageModel
	pp.Settings.AspectRatio = settings.AspectRatio
	if settings.Font != "" {
		pp.Settings.Font = settings.Font
	}
	p := render.FromPortable(pp, s.key)

	// Local runs are not metered: the workspace owner gets the admin balance.
	ledger := store.NewMemoryStore()
	if _, err := ledger.EnsureUser(ctx, store.NewUser(p.UserID, p.Username, store.RoleAdmin)); err != nil {
		return err
	}
	orch := render.New(s.gw, ledger, render.WithConcurrency(parallelFlag))

	outcomes := orch.RenderBulk(ctx, p, splitIDs(idsFlag), nil)
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Error().Err(o.Err).Str("card_id", o.ID).Str("code", render.ErrorCode(o.Err)).Msg("Card failed")
		}
	}
	log.Info().Int("cards", len(outcomes)).Int("failed", failed).Msg("Render finished")

	if err := writeBundle(p); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cards failed", failed, len(outcomes))
	}
	return nil
}

func writeBundle(p *render.Project) error {
	bundle := export.FromProject(p)
	if len(bundle.Entries) == 0 {
		return fmt.Errorf("no images were generated")
	}
	f, err := os.Create(bundleOutFlag)
	if err != nil {
		return fmt.Errorf("create %s: %w", bundleOutFlag, err)
	}
	n, err := bundle.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", bundleOutFlag, err)
	}
	log.Info().Str("path", bundleOutFlag).Int("images", len(bundle.Entries)).Int64("bytes", n).Msg("Bundle written")
	return nil
}
