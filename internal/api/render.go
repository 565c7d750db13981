package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/export"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/queue"
	"github.com/fpang/ecom-image-studio/internal/render"
)

// cardResponse is one card's render result.
type cardResponse struct {
	render.CardState
	ImageData *render.PortableImage `json:"imageData,omitempty"`
}

func (s *Server) handleRenderOne(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Override *render.PortableImage `json:"override"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	override, err := uploadImage(req.Override, "reference override")
	if err != nil {
		respondError(w, err)
		return
	}

	id := mux.Vars(r)["pid"]
	img, err := s.orch.RenderOne(r.Context(), p, id, override)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cardResponse{
		CardState: p.Board().State(id),
		ImageData: render.NewPortableImage(img),
	})
}

type bulkRequest struct {
	IDs      []string              `json:"ids"`
	Override *render.PortableImage `json:"override"`
}

// handleRenderBulk renders the requested cards, or every card, and waits
// for all of them. With ?async=true the render is queued for the worker
// and the job status is returned immediately.
func (s *Server) handleRenderBulk(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	override, err := uploadImage(req.Override, "reference override")
	if err != nil {
		respondError(w, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.enqueueBulk(w, r, p, req.IDs, override)
		return
	}

	outcomes := s.orch.RenderBulk(r.Context(), p, req.IDs, override)
	results := make([]cardResponse, 0, len(outcomes))
	for _, o := range outcomes {
		st := p.Board().State(o.ID)
		cr := cardResponse{CardState: st}
		if o.Err != nil && st.Status != render.StatusError {
			// Rejections such as an unknown id or a card already loading
			// never reach the board.
			cr.Status = render.StatusError
			cr.Error = o.Err.Error()
			cr.ErrorCode = errorCode(o.Err)
		}
		cr.ImageData = render.NewPortableImage(st.Image)
		results = append(results, cr)
	}
	respondJSON(w, http.StatusOK, map[string]any{"cards": results})
}

// enqueueBulk holds the target cards in loading on the workspace board,
// then queues the render. The cards settle when the finished job is next
// seen through the job status or any request on the workspace.
func (s *Server) enqueueBulk(w http.ResponseWriter, r *http.Request, p *render.Project, ids []string, override *gateway.Image) {
	if s.queue == nil {
		httpError(w, http.StatusServiceUnavailable, "asynchronous rendering is not configured")
		return
	}
	if len(p.PromptIDs()) == 0 {
		respondError(w, fmt.Errorf("%w: no prompts to render", planner.ErrInvalidInput))
		return
	}
	attempts, err := startJob(p, ids)
	if err != nil {
		respondError(w, err)
		return
	}
	u := userFrom(r.Context())
	st, err := s.queue.Enqueue(r.Context(), &queue.Job{
		UserID:     u.ID,
		IDs:        ids,
		Project:    p.Portable(),
		Credential: p.Settings().Credential,
		Override:   render.NewPortableImage(override),
	})
	if err != nil {
		releaseAll(attempts)
		httpError(w, http.StatusServiceUnavailable, "failed to queue render", err.Error())
		return
	}
	s.pending.add(st.JobID, &pendingJob{sessionID: p.ID, attempts: attempts})
	respondJSON(w, http.StatusAccepted, st.WithoutImages())
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		httpError(w, http.StatusServiceUnavailable, "asynchronous rendering is not configured")
		return
	}
	st, err := s.queue.GetStatus(r.Context(), mux.Vars(r)["jobId"], userFrom(r.Context()).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	if st.Settled() {
		s.applyJob(st.JobID, st)
	}
	respondJSON(w, http.StatusOK, st.WithoutImages())
}

// handleCardImage serves the raw bytes of a done card.
func (s *Server) handleCardImage(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	st := p.Board().State(mux.Vars(r)["pid"])
	if st.Status != render.StatusDone || st.Image == nil {
		httpError(w, http.StatusNotFound, "no image for this card")
		return
	}
	w.Header().Set("Content-Type", st.Image.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(st.Image.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(st.Image.Data)
}

// handleSummary returns the plan text, or one card's detail with ?card=.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var strategy planner.Strategy
	if a := p.Analysis(); a != nil {
		strategy = a.Strategy
	}
	font := p.Settings().Font

	text := ""
	if id := r.URL.Query().Get("card"); id != "" {
		fp, ok := p.Prompt(id)
		if !ok {
			respondError(w, fmt.Errorf("summary %s: %w", id, render.ErrUnknownPrompt))
			return
		}
		text = export.CardDetail(fp, strategy, font)
	} else {
		text = export.PlanSummary(p.Prompts(), strategy, font, p.Constitution())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, text)
}

// handleExport streams a ZIP of the plan text and every generated image.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	bundle := export.FromProject(p)
	if len(bundle.Entries) == 0 {
		httpError(w, http.StatusNotFound, "no generated images to export yet")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, p.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := bundle.WriteTo(w); err != nil {
		log.Error().Err(err).Str("session_id", p.ID).Msg("Export bundle interrupted")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if s.hub == nil {
		httpError(w, http.StatusServiceUnavailable, "live updates are not configured")
		return
	}
	s.hub.ServeWS(w, r, p)
}
