// Package render is the credit-gated generation orchestrator. It turns a
// fused prompt into an image through the model gateway, charging credits
// only for successful renders and recording each one in the ledger.
//
// Each card moves through idle → loading → {done, error} on the project's
// Board. The Board guards against concurrent attempts on one card, and
// the orchestrator reserves credits per user so parallel renders never
// overdraw a balance. Paid calls are never retried here.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/metrics"
	"github.com/fpang/ecom-image-studio/internal/store"
)

var (
	// ErrCredentialRequired means the selected model tier needs the user's
	// own credential and none is configured.
	ErrCredentialRequired = errors.New("elevated credential required")

	// ErrInsufficientCredit means the balance cannot cover the render.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrAlreadyRendering rejects a trigger for a card that is loading.
	ErrAlreadyRendering = errors.New("card is already rendering")

	// ErrUnknownPrompt means the id is not a prompt of the project.
	ErrUnknownPrompt = errors.New("unknown prompt id")
)

// NeedsCredential reports whether err should send the user to credential
// setup rather than show a generic failure.
func NeedsCredential(err error) bool {
	return errors.Is(err, ErrCredentialRequired) || errors.Is(err, gateway.ErrUnauthorized)
}

// DefaultConcurrency bounds parallel renders in one bulk request.
const DefaultConcurrency = 6

// Orchestrator runs renders against a gateway and a ledger.
type Orchestrator struct {
	gw          gateway.Gateway
	ledger      Ledger
	cost        CostPolicy
	concurrency int
	credits     *creditGate
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCostPolicy replaces the default flat one-credit policy.
func WithCostPolicy(p CostPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.cost = p
		}
	}
}

// WithConcurrency bounds parallel renders in RenderBulk.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// New creates an Orchestrator.
func New(gw gateway.Gateway, ledger Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gw:          gw,
		ledger:      ledger,
		cost:        FlatCost(1),
		concurrency: DefaultConcurrency,
		credits:     newCreditGate(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RenderOne renders the card id of project p.
//
// Steps run strictly in order: the card is moved to loading (rejected if
// already loading), the credential precondition is checked, credits are
// reserved, the instruction is assembled and sent to the gateway. Only on
// success is the balance charged, then a generation record and a history
// entry are appended, and finally the card is marked done. Any failure
// before the charge leaves the balance untouched and the card in error.
//
// If another writer lowers the balance below cost while the gateway call is
// in flight, nothing is charged and the card fails with
// ErrInsufficientCredit; the paid call is counted as a reconciliation gap.
//
// A history write failure after a successful charge does not fail the
// render; it is logged as a reconciliation gap.
func (o *Orchestrator) RenderOne(ctx context.Context, p *Project, id string, override *gateway.Image) (*gateway.Image, error) {
	in, err := p.inputsFor(id)
	if err != nil {
		return nil, err
	}
	attempt, err := p.Board().Start(id)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", id, err)
	}

	start := time.Now()
	logger := log.With().Str("project_id", p.ID).Str("user_id", p.UserID).Str("card_id", id).Logger()

	fail := func(err error) (*gateway.Image, error) {
		attempt.Fail(err)
		recordRender("failed", ErrorCode(err), in.settings.ImageModel, 0, time.Since(start))
		logger.Error().Err(err).Str("code", ErrorCode(err)).Msg("Render failed")
		return nil, err
	}

	model := in.settings.ImageModel
	if gateway.RequiresElevatedCredential(in.settings.AnalysisModel, model) && !in.settings.HasCredential() {
		return fail(fmt.Errorf("render %s with %s: %w", id, model, ErrCredentialRequired))
	}

	cost := o.cost.Cost(model)
	balance, err := o.credits.reserve(ctx, o.ledger, p.UserID, cost)
	if err != nil {
		return fail(fmt.Errorf("render %s: %w", id, err))
	}

	instruction := BuildInstruction(in.constitution, in.analysis, in.prompt, in.settings.Font)
	parts := []gateway.Part{gateway.TextPart(instruction)}
	if ref := p.ReferenceFor(id, override); ref != nil && len(ref.Data) > 0 {
		parts = append(parts, ref.Part())
	}

	logger.Info().
		Str("model", string(model)).
		Str("aspect_ratio", string(in.settings.AspectRatio)).
		Int("balance", balance).
		Int("cost", cost).
		Bool("reference", len(parts) > 1).
		Msg("Rendering card")

	res, err := o.gw.Invoke(ctx, gateway.Request{
		Operation:  "render",
		Model:      model.ProviderModel(),
		Credential: in.settings.Credential,
		Parts:      parts,
		Image: &gateway.ImageConfig{
			AspectRatio: in.settings.AspectRatio,
			Size:        model.SizeTier(),
		},
	})
	if err == nil && (res == nil || res.Image == nil || len(res.Image.Data) == 0) {
		err = fmt.Errorf("%w: empty image result", gateway.ErrSchemaViolation)
	}
	if err != nil {
		o.credits.release(p.UserID, cost)
		return fail(fmt.Errorf("render %s: %w", id, err))
	}

	// Paid call succeeded: charge, then record.
	newBalance, err := o.credits.commit(context.WithoutCancel(ctx), o.ledger, p.UserID, cost)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredit) {
			reconciliationGap("charge")
			logger.Warn().Err(err).Int("cost", cost).Msg("Reconciliation gap: gateway call paid but balance no longer covers it")
		}
		return fail(fmt.Errorf("render %s: charge credits: %w", id, err))
	}
	o.record(context.WithoutCancel(ctx), p, in, instruction, res.Image, cost, &logger)

	if !attempt.Succeed(res.Image) {
		logger.Info().Msg("Plan replaced during render, image kept in history only")
	}
	recordRender("succeeded", "", model, cost, time.Since(start))
	logger.Info().
		Int("balance", newBalance).
		Int("image_bytes", len(res.Image.Data)).
		Dur("duration", time.Since(start)).
		Msg("Render complete")
	return res.Image, nil
}

// record appends the generation log and history entry. Failures are
// reconciliation gaps: the credit was charged and the image is shown.
func (o *Orchestrator) record(ctx context.Context, p *Project, in renderInputs, instruction string, img *gateway.Image, cost int, logger *zerolog.Logger) {
	gen := store.GenerationLog{
		UserID:   p.UserID,
		Username: p.Username,
		PromptID: in.prompt.ID,
		Model:    in.settings.ImageModel.ProviderModel(),
		Cost:     cost,
	}
	if err := o.ledger.AppendGeneration(ctx, gen); err != nil {
		reconciliationGap("generation_log")
		logger.Warn().Err(err).Msg("Reconciliation gap: credit charged but generation log not written")
	}

	entry := &store.HistoryEntry{
		UserID:   p.UserID,
		Username: p.Username,
		PromptID: in.prompt.ID,
		Title:    in.prompt.Title,
		Prompt:   instruction,
		Image:    img.Data,
		MIMEType: img.MIMEType,
	}
	if err := o.ledger.AppendHistory(ctx, entry); err != nil {
		reconciliationGap("history")
		logger.Warn().Err(err).Msg("Reconciliation gap: credit charged but history not written")
	}
}

// Outcome is the settled result of one card in a bulk render.
type Outcome struct {
	ID    string         `json:"id"`
	Image *gateway.Image `json:"-"`
	Err   error          `json:"-"`
}

// RenderBulk renders every id concurrently and waits for all attempts to
// settle. An empty ids renders every prompt of the project. A non-nil
// global override is used as the reference for every card. One card's
// failure never cancels the others; the per-card outcomes are the only
// result.
func (o *Orchestrator) RenderBulk(ctx context.Context, p *Project, ids []string, globalOverride *gateway.Image) []Outcome {
	if len(ids) == 0 {
		ids = p.PromptIDs()
	}
	start := time.Now()
	outcomes := make([]Outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			img, err := o.RenderOne(ctx, p, id, globalOverride)
			outcomes[i] = Outcome{ID: id, Image: img, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, oc := range outcomes {
		if oc.Err != nil {
			failed++
		}
	}
	log.Info().
		Str("project_id", p.ID).
		Int("cards", len(ids)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Bulk render settled")
	return outcomes
}

func recordRender(result, code string, model gateway.ImageModel, cost int, elapsed time.Duration) {
	r := metrics.New(metrics.Namespace).
		Dimension("Operation", "render").
		Dimension("Result", result).
		Metric("RenderMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("Renders").
		Property("model", string(model))
	if cost > 0 {
		r.Metric("CreditsDeducted", float64(cost), metrics.UnitCount)
	}
	if code != "" {
		r.Property("errorCode", code)
	}
	r.Flush()
}

func reconciliationGap(record string) {
	metrics.New(metrics.Namespace).
		Dimension("Record", record).
		Count("ReconciliationGap").
		Flush()
}
