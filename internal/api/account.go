package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fpang/ecom-image-studio/internal/imgutil"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/store"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	balance, err := s.store.GetBalance(r.Context(), u.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	u.Credits = balance
	respondJSON(w, http.StatusOK, u)
}

// presentHistory makes every entry's image fetchable: blob keys are
// presigned and inline bytes become data URLs.
func (s *Server) presentHistory(r *http.Request, entries []store.HistoryEntry) []store.HistoryEntry {
	if s.blobs != nil {
		s.blobs.SignHistory(r.Context(), entries)
	}
	for i := range entries {
		e := &entries[i]
		if e.ImageURL == "" && len(e.Image) > 0 {
			e.ImageURL = imgutil.DataURL(e.Image, e.MIMEType)
		}
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	return entries
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request, userID string) {
	entries, err := s.store.ListHistory(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": s.presentHistory(r, entries)})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	s.listHistory(w, r, userFrom(r.Context()).ID)
}

func (s *Server) handleAdminHistory(w http.ResponseWriter, r *http.Request) {
	s.listHistory(w, r, r.URL.Query().Get("userId"))
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteHistory(r.Context(), mux.Vars(r)["hid"], userFrom(r.Context())); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGenerations(w http.ResponseWriter, r *http.Request, userID string) {
	logs, err := s.store.ListGenerations(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if logs == nil {
		logs = []store.GenerationLog{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	s.listGenerations(w, r, userFrom(r.Context()).ID)
}

func (s *Server) handleAdminGenerations(w http.ResponseWriter, r *http.Request) {
	s.listGenerations(w, r, r.URL.Query().Get("userId"))
}

func (s *Server) listRecharges(w http.ResponseWriter, r *http.Request, userID string) {
	logs, err := s.store.ListRecharges(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if logs == nil {
		logs = []store.RechargeLog{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleListRecharges(w http.ResponseWriter, r *http.Request) {
	s.listRecharges(w, r, userFrom(r.Context()).ID)
}

func (s *Server) handleAdminRecharges(w http.ResponseWriter, r *http.Request) {
	s.listRecharges(w, r, r.URL.Query().Get("userId"))
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if users == nil {
		users = []store.User{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleAdminSetCredits writes an absolute balance for a user.
func (s *Server) handleAdminSetCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credits *int `json:"credits"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Credits == nil || *req.Credits < 0 {
		respondError(w, fmt.Errorf("%w: credits must be a non-negative integer", planner.ErrInvalidInput))
		return
	}
	rec, err := s.store.SetCredits(r.Context(), mux.Vars(r)["uid"], *req.Credits, userFrom(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
