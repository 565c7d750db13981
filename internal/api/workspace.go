package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/auth"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/imgutil"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
	"github.com/fpang/ecom-image-studio/internal/session"
)

// settingsRequest carries user-selected options. Credential is accepted on
// input but never echoed back.
type settingsRequest struct {
	Credential    string `json:"credential"`
	AnalysisModel string `json:"analysisModel"`
	ImageModel    string `json:"imageModel"`
	AspectRatio   string `json:"aspectRatio"`
	Font          string `json:"font"`
}

func (req settingsRequest) toSettings() (render.Settings, error) {
	st := render.Settings{
		Credential:    strings.TrimSpace(req.Credential),
		AnalysisModel: strings.TrimSpace(req.AnalysisModel),
		Font:          strings.TrimSpace(req.Font),
	}
	if req.ImageModel != "" {
		m, err := gateway.ParseImageModel(req.ImageModel)
		if err != nil {
			return st, fmt.Errorf("%w: %v", planner.ErrInvalidInput, err)
		}
		st.ImageModel = m
	}
	if req.AspectRatio != "" {
		ar, err := gateway.ParseAspectRatio(req.AspectRatio)
		if err != nil {
			return st, fmt.Errorf("%w: %v", planner.ErrInvalidInput, err)
		}
		st.AspectRatio = ar
	}
	return st, nil
}

// uploadImage normalizes an uploaded photo for the model.
func uploadImage(in *render.PortableImage, what string) (*gateway.Image, error) {
	if in == nil || len(in.Data) == 0 {
		return nil, nil
	}
	data, mime, err := imgutil.Normalize(in.Data, imgutil.MaxUploadDimension)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if meta, err := imgutil.Inspect(data); err == nil {
		log.Debug().
			Str("image", what).
			Str("format", meta.Format).
			Int("width", meta.Width).
			Int("height", meta.Height).
			Str("orientation", meta.Orientation()).
			Bool("has_date", meta.HasDate).
			Msg("Image uploaded")
	}
	return &gateway.Image{Data: data, MIMEType: mime}, nil
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	settings, err := req.toSettings()
	if err != nil {
		respondError(w, err)
		return
	}
	if settings.AnalysisModel == "" {
		settings.AnalysisModel = s.defaults.AnalysisModel
	}
	if settings.ImageModel == "" {
		settings.ImageModel = s.defaults.ImageModel
	}
	u := userFrom(r.Context())
	p := s.sessions.Create(u.ID, u.Username, settings)
	respondJSON(w, http.StatusCreated, p.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Delete(id, userFrom(r.Context()).ID); err != nil {
		respondError(w, err)
		return
	}
	for _, jobID := range s.pending.forSession(id) {
		s.pending.take(jobID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	settings, err := req.toSettings()
	if err != nil {
		respondError(w, err)
		return
	}
	if settings.Credential == "" {
		settings.Credential = p.Settings().Credential
	}
	if settings.AnalysisModel == "" {
		settings.AnalysisModel = p.Settings().AnalysisModel
	}
	p.UpdateSettings(settings)
	respondJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleValidateCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
		Model      string `json:"model"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	err := auth.ValidateAPIKey(r.Context(), s.gw, req.Credential, req.Model)
	if err == nil {
		respondJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}
	result := auth.ErrTypeUnknown
	var valErr *auth.ValidationError
	if errors.As(err, &valErr) {
		result = valErr.Type
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"valid":  false,
		"reason": result.String(),
	})
}

func (s *Server) handleDecodeStyle(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Image *render.PortableImage `json:"image"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	img, err := uploadImage(req.Image, "style reference")
	if err != nil {
		respondError(w, err)
		return
	}
	if img == nil {
		respondError(w, fmt.Errorf("%w: style reference image is required", planner.ErrInvalidInput))
		return
	}

	settings := p.Settings()
	key := session.StyleKey(*img, settings.AnalysisModel)
	c, cached := s.sessions.CachedStyle(key)
	if !cached {
		c, err = s.planner.DecodeStyle(r.Context(), *img, settings.AnalysisModel, settings.Credential)
		if err != nil {
			respondError(w, err)
			return
		}
		s.sessions.RememberStyle(key, c)
	}
	p.SetConstitution(c)
	log.Info().Str("session_id", p.ID).Bool("cached", cached).Msg("Style decoded")
	respondJSON(w, http.StatusOK, map[string]any{"constitution": c, "cached": cached})
}

func (s *Server) handleEditStyle(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var c planner.Constitution
	if err := decodeJSON(r, &c); err != nil {
		respondError(w, err)
		return
	}
	if err := c.Validate(); err != nil {
		respondError(w, err)
		return
	}
	p.SetConstitution(&c)
	respondJSON(w, http.StatusOK, map[string]any{"constitution": c})
}

type analyzeRequest struct {
	Images               []*render.PortableImage `json:"images"`
	Strategy             string                  `json:"strategy"`
	Constraints          planner.Constraints     `json:"constraints"`
	CompositionReference *render.PortableImage   `json:"compositionReference"`
}

// handleAnalyze plans the product and, when a style is already decoded,
// fuses the prompts in the same request.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	strategy, err := planner.ParseStrategy(req.Strategy)
	if err != nil {
		respondError(w, err)
		return
	}
	var images []gateway.Image
	for i, in := range req.Images {
		img, err := uploadImage(in, fmt.Sprintf("product image %d", i+1))
		if err != nil {
			respondError(w, err)
			return
		}
		if img != nil {
			images = append(images, *img)
		}
	}
	composition, err := uploadImage(req.CompositionReference, "composition reference")
	if err != nil {
		respondError(w, err)
		return
	}

	settings := p.Settings()
	result, err := s.planner.Analyze(r.Context(), planner.AnalyzeRequest{
		Images:               images,
		Constraints:          req.Constraints,
		Strategy:             strategy,
		Model:                settings.AnalysisModel,
		Credential:           settings.Credential,
		CompositionReference: composition,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	p.SetAnalysis(result.Analysis)

	resp := map[string]any{"result": result}
	if c := p.Constitution(); c != nil {
		prompts, err := s.planner.Fuse(r.Context(), c, p.Analysis(), settings.AnalysisModel, settings.Credential)
		if err != nil {
			// The analysis stands; the client can retry fusion alone.
			log.Warn().Err(err).Str("session_id", p.ID).Msg("Fusion after analysis failed")
			resp["fusionError"] = errorBody{Error: "prompt fusion failed", Code: errorCode(err)}
		} else {
			p.SetPrompts(prompts)
		}
	}
	resp["session"] = p.Snapshot()
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEditFeatures(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		PhysicalFeatures string `json:"physicalFeatures"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := p.SetPhysicalFeatures(req.PhysicalFeatures); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleFuse(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	settings := p.Settings()
	prompts, err := s.planner.Fuse(r.Context(), p.Constitution(), p.Analysis(), settings.AnalysisModel, settings.Credential)
	if err != nil {
		respondError(w, err)
		return
	}
	p.SetPrompts(prompts)
	respondJSON(w, http.StatusOK, map[string]any{"prompts": p.Prompts()})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	fp, err := p.RegeneratePrompt(r.Context(), s.planner, mux.Vars(r)["pid"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fp)
}

func (s *Server) handleEditStoryboard(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var edit render.StoryboardEdit
	if err := decodeJSON(r, &edit); err != nil {
		respondError(w, err)
		return
	}
	if err := p.EditStoryboard(mux.Vars(r)["pid"], edit); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p.Snapshot())
}

// handleSetReference stores a reference image for one card, or for every
// card when cardId is empty. A missing image clears the slot.
func (s *Server) handleSetReference(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		CardID string                `json:"cardId"`
		Image  *render.PortableImage `json:"image"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	img, err := uploadImage(req.Image, "reference")
	if err != nil {
		respondError(w, err)
		return
	}
	if req.CardID == "" {
		p.SetGlobalReference(img)
	} else if err := p.SetCardReference(req.CardID, img); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p.Snapshot())
}
