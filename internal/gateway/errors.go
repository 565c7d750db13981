package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Sentinel errors for the three failure kinds. Match with errors.Is.
var (
	ErrGatewayUnavailable = errors.New("model gateway unavailable")
	ErrUnauthorized       = errors.New("model credential missing or invalid")
	ErrSchemaViolation    = errors.New("model response violates expected schema")
)

// Kind categorizes a gateway failure.
type Kind int

const (
	KindUnavailable Kind = iota
	KindUnauthorized
	KindSchemaViolation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindSchemaViolation:
		return "schema_violation"
	default:
		return "unavailable"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindSchemaViolation:
		return ErrSchemaViolation
	default:
		return ErrGatewayUnavailable
	}
}

// Error is a classified gateway failure. Raw holds the response body when
// the provider answered but the body could not be used, so callers with a
// degradation policy can still salvage partial output.
type Error struct {
	Kind    Kind
	Model   string
	Message string
	Raw     string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (%s)", e.Message, e.Model)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf reports the kind of a gateway error and whether err was one.
func KindOf(err error) (Kind, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind, true
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized, true
	case errors.Is(err, ErrSchemaViolation):
		return KindSchemaViolation, true
	case errors.Is(err, ErrGatewayUnavailable):
		return KindUnavailable, true
	}
	return 0, false
}

// RawBody returns the unusable response body carried by a schema violation.
func RawBody(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Raw
	}
	return ""
}

func schemaViolation(model, message, raw string, cause error) *Error {
	return &Error{Kind: KindSchemaViolation, Model: model, Message: message, Raw: raw, Err: cause}
}

// Classify maps a provider or transport error onto a gateway Error.
func Classify(model string, err error) *Error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}

	if apiErr, ok := asAPIError(err); ok {
		return classifyAPIError(model, apiErr, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUnavailable, Model: model, Message: "request timed out or was cancelled", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindUnavailable, Model: model, Message: "network error", Err: err}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied") ||
		strings.Contains(errLower, "requested entity was not found"):
		log.Error().Err(err).Str("model", model).Msg("Model credential rejected")
		return &Error{Kind: KindUnauthorized, Model: model, Message: "API key is invalid or lacks access to this model", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		log.Error().Err(err).Str("model", model).Msg("Model quota exceeded")
		return &Error{Kind: KindUnavailable, Model: model, Message: "API quota exceeded or rate limited", Err: err}

	default:
		log.Error().Err(err).Str("model", model).Msg("Unclassified model error")
		return &Error{Kind: KindUnavailable, Model: model, Message: "model call failed", Err: err}
	}
}

// asAPIError unwraps a genai.APIError, which the SDK returns by value.
func asAPIError(err error) (*genai.APIError, bool) {
	var byValue genai.APIError
	if errors.As(err, &byValue) {
		return &byValue, true
	}
	var byPointer *genai.APIError
	if errors.As(err, &byPointer) && byPointer != nil {
		return byPointer, true
	}
	return nil, false
}

func classifyAPIError(model string, apiErr *genai.APIError, cause error) *Error {
	msgLower := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 401 || apiErr.Code == 403:
		log.Error().Int("code", apiErr.Code).Str("model", model).Msg("Authentication failed")
		return &Error{Kind: KindUnauthorized, Model: model, Message: "API key is invalid, expired, or lacks permissions", Err: cause}

	case apiErr.Code == 400 && strings.Contains(msgLower, "api key"):
		log.Error().Int("code", apiErr.Code).Str("model", model).Msg("Bad request, API key malformed")
		return &Error{Kind: KindUnauthorized, Model: model, Message: "API key may be malformed", Err: cause}

	case apiErr.Code == 404 && strings.Contains(msgLower, "requested entity was not found"):
		// Paid-tier models answer 404 to keys without access.
		log.Error().Int("code", apiErr.Code).Str("model", model).Msg("Model not available to this key")
		return &Error{Kind: KindUnauthorized, Model: model, Message: "API key has no access to this model", Err: cause}

	case apiErr.Code == 429:
		log.Error().Int("code", apiErr.Code).Str("model", model).Msg("Rate limit exceeded")
		return &Error{Kind: KindUnavailable, Model: model, Message: "API rate limit exceeded, try again later", Err: cause}

	case apiErr.Code >= 500:
		log.Error().Int("code", apiErr.Code).Str("model", model).Msg("Provider server error")
		return &Error{Kind: KindUnavailable, Model: model, Message: "model provider server error", Err: cause}

	default:
		log.Error().Int("code", apiErr.Code).Str("model", model).Str("message", apiErr.Message).Msg("Model API error")
		return &Error{Kind: KindUnavailable, Model: model, Message: apiErr.Message, Err: cause}
	}
}
