// Package api exposes the studio workflow over HTTP: workspaces, style
// decoding, product analysis, prompt fusion, rendering, exports, and the
// account and admin views of credits and history.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fpang/ecom-image-studio/internal/events"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/queue"
	"github.com/fpang/ecom-image-studio/internal/render"
	"github.com/fpang/ecom-image-studio/internal/session"
	"github.com/fpang/ecom-image-studio/internal/store"
)

// JobQueue accepts asynchronous bulk renders.
type JobQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) (*queue.Status, error)
	GetStatus(ctx context.Context, jobID, userID string) (*queue.Status, error)
}

// HistorySigner turns stored image keys into fetchable URLs.
type HistorySigner interface {
	SignHistory(ctx context.Context, entries []store.HistoryEntry)
}

// Deps are the collaborators of a Server. Queue and Blobs are optional.
type Deps struct {
	Gateway      gateway.Gateway
	Planner      *planner.Planner
	Orchestrator *render.Orchestrator
	Store        store.Store
	Sessions     *session.Manager
	Hub          *events.Hub
	Queue        JobQueue
	Blobs        HistorySigner

	AdminID       string
	AllowedOrigin string

	// Defaults fill the model choices a new workspace leaves empty.
	Defaults render.Settings
}

// Server holds the handlers.
type Server struct {
	gw       gateway.Gateway
	planner  *planner.Planner
	orch     *render.Orchestrator
	store    store.Store
	sessions *session.Manager
	hub      *events.Hub
	queue    JobQueue
	blobs    HistorySigner
	pending  *jobTracker

	adminID       string
	allowedOrigin string
	defaults      render.Settings
}

// New wires a server. Every workspace the session manager creates is
// attached to the event hub.
func New(d Deps) *Server {
	s := &Server{
		gw:            d.Gateway,
		planner:       d.Planner,
		orch:          d.Orchestrator,
		store:         d.Store,
		sessions:      d.Sessions,
		hub:           d.Hub,
		queue:         d.Queue,
		blobs:         d.Blobs,
		pending:       newJobTracker(),
		adminID:       d.AdminID,
		allowedOrigin: d.AllowedOrigin,
		defaults:      d.Defaults,
	}
	if s.hub != nil {
		s.sessions.OnCreate(s.hub.Attach)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(withCORS(s.allowedOrigin), withMetrics)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.withUser)

	api.HandleFunc("/credentials/validate", s.handleValidateCredential).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobId}", s.handleJobStatus).Methods(http.MethodGet)

	ws := api.PathPrefix("/sessions").Subrouter()
	ws.HandleFunc("", s.handleCreateSession).Methods(http.MethodPost)
	ws.HandleFunc("/{id}", s.handleGetSession).Methods(http.MethodGet)
	ws.HandleFunc("/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	ws.HandleFunc("/{id}/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	ws.HandleFunc("/{id}/style", s.handleDecodeStyle).Methods(http.MethodPost)
	ws.HandleFunc("/{id}/style", s.handleEditStyle).Methods(http.MethodPut)
	ws.HandleFunc("/{id}/analysis", s.handleAnalyze).Methods(http.MethodPost)
	ws.HandleFunc("/{id}/features", s.handleEditFeatures).Methods(http.MethodPut)
	ws.HandleFunc("/{id}/prompts", s.handleFuse).Methods(http.MethodPost)
	ws.HandleFunc("/{id}/prompts/{pid}/regenerate", s.handleRegenerate).Methods(http.MethodPost)
	ws.HandleFunc("/{id}/storyboards/{pid}", s.handleEditStoryboard).Methods(http.MethodPatch)
	ws.HandleFunc("/{id}/references", s.handleSetReference).Methods(http.MethodPost)
	ws.HandleFunc("/{id}/render", s.handleRenderBulk).Methods(http.MethodPost)
	ws.HandleFunc("/{id}/render/{pid}", s.handleRenderOne).Methods(http.MethodPost)
	ws.HandleFunc("/{id}/cards/{pid}/image", s.handleCardImage).Methods(http.MethodGet)
	ws.HandleFunc("/{id}/summary", s.handleSummary).Methods(http.MethodGet)
	ws.HandleFunc("/{id}/export", s.handleExport).Methods(http.MethodGet)
	ws.HandleFunc("/{id}/ws", s.handleEvents).Methods(http.MethodGet)

	user := api.PathPrefix("/user").Subrouter()
	user.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	user.HandleFunc("/history", s.handleListHistory).Methods(http.MethodGet)
	user.HandleFunc("/history/{hid}", s.handleDeleteHistory).Methods(http.MethodDelete)
	user.HandleFunc("/generation-logs", s.handleListGenerations).Methods(http.MethodGet)
	user.HandleFunc("/recharge-logs", s.handleListRecharges).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/users", s.handleAdminUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{uid}/credits", s.handleAdminSetCredits).Methods(http.MethodPost)
	admin.HandleFunc("/history", s.handleAdminHistory).Methods(http.MethodGet)
	admin.HandleFunc("/recharge-logs", s.handleAdminRecharges).Methods(http.MethodGet)
	admin.HandleFunc("/generation-logs", s.handleAdminGenerations).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"workspaces": s.sessions.Count(),
		"queue":      s.queue != nil,
	})
}

// project loads the workspace named in the path for the calling user and
// applies any queued renders of it that have finished.
func (s *Server) project(r *http.Request) (*render.Project, error) {
	userID := userFrom(r.Context()).ID
	p, err := s.sessions.Get(mux.Vars(r)["id"], userID)
	if err != nil {
		return nil, err
	}
	s.settleJobs(r.Context(), p.ID, userID)
	return p, nil
}
