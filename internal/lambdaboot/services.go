package lambdaboot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/api"
	"github.com/fpang/ecom-image-studio/internal/auth"
	"github.com/fpang/ecom-image-studio/internal/blobstore"
	"github.com/fpang/ecom-image-studio/internal/config"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/queue"
	"github.com/fpang/ecom-image-studio/internal/render"
	"github.com/fpang/ecom-image-studio/internal/store"
)

// Services are the long-lived collaborators shared by the server, the
// Lambda handler and the render worker. Blobs and Queue are nil when not
// configured.
type Services struct {
	Gateway      gateway.Gateway
	Planner      *planner.Planner
	Orchestrator *render.Orchestrator
	Store        store.Store
	Blobs        *blobstore.S3
	Queue        *queue.Queue
}

// InitServices builds the model gateway, the record store and the render
// orchestrator from c, and connects the job queue when Redis is configured.
// The process default Gemini key is optional: without it every workspace
// must bring its own credential.
func InitServices(ctx context.Context, c *config.Config, aws *AWSClients) (*Services, error) {
	st, blobs, err := InitStore(c, aws)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	key, err := auth.ResolveAPIKey(c.GeminiAPIKey)
	if err != nil {
		log.Warn().Err(err).Msg("No default Gemini API key - workspaces must supply a credential")
		key = ""
	}
	gw := gateway.NewGeminiGateway(key, c.GatewayRPS)

	svc := &Services{
		Gateway: gw,
		Planner: planner.New(gw),
		Orchestrator: render.New(gw, st,
			render.WithConcurrency(c.RenderConcurrency),
			render.WithCostPolicy(render.CostPolicyFor(c.ElevatedCreditCost)),
		),
		Store: st,
		Blobs: blobs,
	}

	if c.QueueEnabled() {
		rdb, err := queue.Connect(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("init queue: %w", err)
		}
		svc.Queue = queue.New(rdb)
	}

	if _, err := st.EnsureUser(ctx, store.NewUser(c.AdminID, c.AdminName, store.RoleAdmin)); err != nil {
		return nil, fmt.Errorf("seed admin %s: %w", c.AdminID, err)
	}
	return svc, nil
}

// APIDeps converts the services into server dependencies. Optional
// collaborators stay nil interfaces when absent.
func (s *Services) APIDeps(c *config.Config) api.Deps {
	d := api.Deps{
		Gateway:       s.Gateway,
		Planner:       s.Planner,
		Orchestrator:  s.Orchestrator,
		Store:         s.Store,
		AdminID:       c.AdminID,
		AllowedOrigin: c.AllowedOrigin,
		Defaults:      DefaultSettings(c),
	}
	if s.Queue != nil {
		d.Queue = s.Queue
	}
	if s.Blobs != nil {
		d.Blobs = s.Blobs
	}
	return d
}

// DefaultSettings are the model choices applied to new workspaces that do
// not pick their own. Unparseable values fall back to the built-in defaults.
func DefaultSettings(c *config.Config) render.Settings {
	st := render.Settings{AnalysisModel: c.AnalysisModel}
	if m, err := gateway.ParseImageModel(c.ImageModel); err == nil {
		st.ImageModel = m
	} else {
		log.Warn().Err(err).Msg("Ignoring IMAGE_MODEL")
	}
	return st
}
