package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/fpang/ecom-image-studio/internal/metrics"
)

// GeminiGateway implements Gateway on top of the genai SDK.
//
// Clients are cached per credential (keyed by a hash, never the key itself)
// because users may bring their own paid key for elevated models. A shared
// token bucket smooths bursts such as a six-card bulk render.
type GeminiGateway struct {
	defaultCredential string
	clients           *cache.Cache
	limiter           *rate.Limiter
	newClient         func(ctx context.Context, apiKey string) (*genai.Client, error)
}

// NewGeminiGateway creates a gateway. defaultCredential is used when a
// request carries none; rps bounds outbound calls per second.
func NewGeminiGateway(defaultCredential string, rps float64) *GeminiGateway {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &GeminiGateway{
		defaultCredential: defaultCredential,
		clients:           cache.New(30*time.Minute, time.Hour),
		limiter:           rate.NewLimiter(rate.Limit(rps), burst),
		newClient: func(ctx context.Context, apiKey string) (*genai.Client, error) {
			return genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  apiKey,
				Backend: genai.BackendGeminiAPI,
			})
		},
	}
}

var _ Gateway = (*GeminiGateway)(nil)

// Invoke sends one request to the provider and normalizes the response.
func (g *GeminiGateway) Invoke(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	mode := req.Mode()

	apiKey := req.Credential
	if apiKey == "" {
		apiKey = g.defaultCredential
	}
	if apiKey == "" {
		return nil, &Error{Kind: KindUnauthorized, Model: req.Model, Message: "no API key configured"}
	}

	client, err := g.client(ctx, apiKey)
	if err != nil {
		return nil, Classify(req.Model, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindUnavailable, Model: req.Model, Message: "rate limiter wait aborted", Err: err}
	}

	log.Debug().
		Str("operation", req.Operation).
		Str("model", req.Model).
		Str("mode", string(mode)).
		Int("parts", len(req.Parts)).
		Msg("Invoking model")

	resp, err := client.Models.GenerateContent(ctx, req.Model, buildContents(req), buildConfig(req))
	elapsed := time.Since(start)
	if err != nil {
		gwErr := Classify(req.Model, err)
		recordCall(req, "error_"+gwErr.Kind.String(), elapsed)
		return nil, gwErr
	}

	var result *Result
	switch mode {
	case ModeImage:
		result, err = extractImage(req.Model, resp)
	case ModeJSON:
		result, err = DecodeStructured(req.Model, resp.Text(), req.Schema)
	default:
		result, err = extractText(req.Model, resp)
	}
	if err != nil {
		recordCall(req, "error_schema_violation", elapsed)
		log.Warn().Err(err).Str("operation", req.Operation).Str("model", req.Model).Msg("Model response unusable")
		return nil, err
	}

	recordCall(req, "success", elapsed)
	log.Info().
		Str("operation", req.Operation).
		Str("model", req.Model).
		Dur("duration", elapsed).
		Msg("Model call complete")
	return result, nil
}

func (g *GeminiGateway) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	sum := sha256.Sum256([]byte(apiKey))
	key := hex.EncodeToString(sum[:8])
	if c, ok := g.clients.Get(key); ok {
		return c.(*genai.Client), nil
	}
	c, err := g.newClient(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.clients.Set(key, c, cache.DefaultExpiration)
	return c, nil
}

func buildContents(req Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsBlob() {
			parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
		} else if p.Text != "" {
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		}
	}
	switch req.Mode() {
	case ModeJSON:
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema
	case ModeImage:
		cfg.ResponseModalities = []string{"TEXT", "IMAGE"}
		cfg.ImageConfig = &genai.ImageConfig{
			AspectRatio: string(req.Image.AspectRatio),
			ImageSize:   req.Image.Size,
		}
	default:
		cfg.ResponseMIMEType = "text/plain"
	}
	return cfg
}

func extractText(model string, resp *genai.GenerateContentResponse) (*Result, error) {
	text := resp.Text()
	if text == "" {
		return nil, schemaViolation(model, "empty text response", "", nil)
	}
	return &Result{Text: text}, nil
}

func extractImage(model string, resp *genai.GenerateContentResponse) (*Result, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, schemaViolation(model, "no candidates in image response", "", nil)
	}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return &Result{Image: &Image{Data: part.InlineData.Data, MIMEType: mime}}, nil
			}
		}
	}
	if reason := candidate.FinishReason; reason != "" && reason != genai.FinishReasonUnspecified && reason != genai.FinishReasonStop {
		return nil, schemaViolation(model, fmt.Sprintf("image generation stopped early (finish reason %s)", reason), "", nil)
	}
	return nil, schemaViolation(model, "no image data in response", "", nil)
}

func recordCall(req Request, result string, elapsed time.Duration) {
	metrics.New(metrics.Namespace).
		Dimension("Operation", req.Operation).
		Dimension("Result", result).
		Metric("ModelCallMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ModelCalls").
		Property("model", req.Model).
		Flush()
}
