package auth

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/metrics"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was supplied.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid, revoked, or lacks
	// access to the model.
	ErrTypeInvalidKey
	// ErrTypeUnavailable indicates a network, quota, or server failure.
	ErrTypeUnavailable
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateAPIKey verifies key with a minimal text call against model
// (the default analysis model when empty). It returns nil if the key works,
// or a ValidationError whose Type tells the caller whether to ask for a
// new key or try again later.
func ValidateAPIKey(ctx context.Context, gw gateway.Gateway, key, model string) error {
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Type: ErrTypeNoKey, Message: "no API key supplied"}
	}
	if model == "" {
		model = gateway.DefaultAnalysisModel
	}
	log.Debug().Str("model", model).Msg("Validating API key")

	start := time.Now()
	_, err := gw.Invoke(ctx, gateway.Request{
		Operation:  "validate_key",
		Model:      model,
		Credential: key,
		Parts:      []gateway.Part{gateway.TextPart("hi")},
	})
	elapsed := time.Since(start)

	var valErr *ValidationError
	result := "success"
	if err != nil {
		valErr = classifyError(err)
		result = valErr.Type.String()
	}

	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	log.Debug().
		Str("result", result).
		Dur("duration", elapsed).
		Msg("API key validation result")

	if valErr != nil {
		return valErr
	}
	log.Info().Msg("API key validated successfully")
	return nil
}

// classifyError maps a gateway failure onto a validation type.
func classifyError(err error) *ValidationError {
	kind, ok := gateway.KindOf(err)
	switch {
	case ok && kind == gateway.KindUnauthorized:
		log.Error().Err(err).Msg("Invalid API key")
		return &ValidationError{
			Type:    ErrTypeInvalidKey,
			Message: "API key is invalid, expired, or lacks permissions",
			Err:     err,
		}
	case ok && kind == gateway.KindUnavailable:
		log.Error().Err(err).Msg("Model API unavailable during key validation")
		return &ValidationError{
			Type:    ErrTypeUnavailable,
			Message: "Model API unavailable or rate limited - try again later",
			Err:     err,
		}
	case ok && kind == gateway.KindSchemaViolation:
		// The provider answered, so the key itself works.
		log.Warn().Err(err).Msg("Key validation returned an unusable body")
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "Model API returned an unexpected response",
			Err:     err,
		}
	default:
		log.Error().Err(err).Msg("Unknown error during API key validation")
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "Failed to validate API key",
			Err:     err,
		}
	}
}
