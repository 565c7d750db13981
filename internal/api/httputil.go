package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/imgutil"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/queue"
	"github.com/fpang/ecom-image-studio/internal/render"
	"github.com/fpang/ecom-image-studio/internal/session"
	"github.com/fpang/ecom-image-studio/internal/store"
)

// maxBodyBytes bounds JSON bodies, which carry base64 images.
const maxBodyBytes = 64 << 20

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// httpError sends a JSON error response. The clientMsg is returned to the
// caller; optional internalDetails are only logged.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, errorBody{Error: clientMsg})
}

// respondError maps a domain error onto a status, a short message and a
// machine-readable code.
func respondError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	respondJSON(w, status, errorBody{Error: msg, Code: errorCode(err)})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "workspace not found"
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound, "job not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, render.ErrUnknownPrompt):
		return http.StatusNotFound, "unknown card"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, render.ErrCredentialRequired):
		return http.StatusUnauthorized, "this model requires your own API key"
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized, "API key missing or invalid"
	case errors.Is(err, render.ErrInsufficientCredit):
		return http.StatusPaymentRequired, "insufficient credit"
	case errors.Is(err, render.ErrAlreadyRendering):
		return http.StatusConflict, "card is already rendering"
	case errors.Is(err, planner.ErrInvalidInput), errors.Is(err, imgutil.ErrUnsupportedImage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, planner.ErrAnalysisFailed), errors.Is(err, gateway.ErrSchemaViolation):
		return http.StatusUnprocessableEntity, "the model returned an unusable response"
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return http.StatusBadGateway, "model service unavailable, try again later"
	}
	return http.StatusInternalServerError, "internal error"
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, planner.ErrAnalysisFailed):
		return "analysis_failed"
	case errors.Is(err, planner.ErrInvalidInput), errors.Is(err, imgutil.ErrUnsupportedImage):
		return "invalid_input"
	case errors.Is(err, render.ErrAlreadyRendering):
		return "already_rendering"
	case errors.Is(err, render.ErrUnknownPrompt), errors.Is(err, session.ErrNotFound),
		errors.Is(err, store.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		return "not_found"
	case errors.Is(err, store.ErrForbidden):
		return "forbidden"
	}
	return render.ErrorCode(err)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body: %v", planner.ErrInvalidInput, err)
	}
	return nil
}
