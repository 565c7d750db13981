// Package session keeps live workspaces in memory with a sliding TTL and
// caches decoded styles by reference image so repeated decodes are free.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/jobs"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
)

// DefaultTTL is how long an untouched workspace is kept.
const DefaultTTL = 2 * time.Hour

// ErrNotFound is returned for unknown, expired or foreign workspaces.
var ErrNotFound = errors.New("workspace not found")

// Manager owns the live projects.
type Manager struct {
	ttl      time.Duration
	projects *cache.Cache
	styles   *cache.Cache

	mu       sync.Mutex
	onCreate []func(*render.Project)
}

// NewManager creates a manager whose workspaces expire after ttl of inactivity.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		ttl:      ttl,
		projects: cache.New(ttl, ttl/2),
		styles:   cache.New(24*time.Hour, time.Hour),
	}
	m.projects.OnEvicted(func(id string, _ any) {
		log.Debug().Str("session_id", id).Msg("Workspace expired")
	})
	return m
}

// OnCreate registers fn to run for every new or restored project.
func (m *Manager) OnCreate(fn func(*render.Project)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCreate = append(m.onCreate, fn)
}

// Create starts a workspace for the user.
func (m *Manager) Create(userID, username string, settings render.Settings) *render.Project {
	p := render.NewProject(jobs.GenerateID(jobs.SessionPrefix), userID, username, settings)
	m.Put(p)
	log.Info().Str("session_id", p.ID).Str("user_id", userID).Msg("Workspace created")
	return p
}

// Put stores p, replacing any project with the same id.
func (m *Manager) Put(p *render.Project) {
	m.projects.Set(p.ID, p, cache.DefaultExpiration)
	m.mu.Lock()
	hooks := append([]func(*render.Project){}, m.onCreate...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(p)
	}
}

// Get returns the workspace id if userID owns it and extends its lifetime.
func (m *Manager) Get(id, userID string) (*render.Project, error) {
	v, ok := m.projects.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	p := v.(*render.Project)
	if p.UserID != userID {
		return nil, ErrNotFound
	}
	m.projects.Set(id, p, cache.DefaultExpiration)
	return p, nil
}

// Delete drops a workspace owned by userID.
func (m *Manager) Delete(id, userID string) error {
	if _, err := m.Get(id, userID); err != nil {
		return err
	}
	m.projects.Delete(id)
	return nil
}

// Count returns the number of live workspaces.
func (m *Manager) Count() int {
	return m.projects.ItemCount()
}

// StyleKey identifies a decode of img with model.
func StyleKey(img gateway.Image, model string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write(img.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// CachedStyle returns a copy of a previously decoded constitution.
func (m *Manager) CachedStyle(key string) (*planner.Constitution, bool) {
	v, ok := m.styles.Get(key)
	if !ok {
		return nil, false
	}
	c := v.(planner.Constitution)
	return &c, true
}

// RememberStyle caches a decoded constitution under key.
func (m *Manager) RememberStyle(key string, c *planner.Constitution) {
	if c == nil {
		return
	}
	m.styles.Set(key, *c, cache.DefaultExpiration)
}
