package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MemoryStore implements Store in process memory. Every method holds one
// mutex, so balance writes are atomic with respect to each other.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]User
	generations []GenerationLog
	recharges   []RechargeLog
	history     []HistoryEntry
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, u User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		return &existing, nil
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	s.users[u.ID] = u
	log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Int("credits", u.Credits).Msg("User created")
	return &u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sortUsers(out)
	return out, nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, userID string) (int, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID string, balance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.Credits = balance
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) SetBalanceIf(_ context.Context, userID string, prev, next int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if u.Credits != prev {
		return fmt.Errorf("user %s has %d, expected %d: %w", userID, u.Credits, prev, ErrBalanceChanged)
	}
	u.Credits = next
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) SetCredits(_ context.Context, userID string, credits int, admin User) (*RechargeLog, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("set credits by %s: %w", admin.ID, ErrForbidden)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	rl := newRecharge(uuid.NewString(), u, credits, admin)
	u.Credits = credits
	s.users[userID] = u
	s.recharges = append(s.recharges, rl)
	return &rl, nil
}

func (s *MemoryStore) AppendGeneration(_ context.Context, entry GenerationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations = append(s.generations, entry)
	return nil
}

func (s *MemoryStore) ListGenerations(_ context.Context, userID string) ([]GenerationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []GenerationLog
	for _, g := range s.generations {
		if userID == "" || g.UserID == userID {
			out = append(out, g)
		}
	}
	sortGenerations(out)
	return out, nil
}

func (s *MemoryStore) ListRecharges(_ context.Context, userID string) ([]RechargeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RechargeLog
	for _, r := range s.recharges {
		if userID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	sortRecharges(out)
	return out, nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)

	var owned []HistoryEntry
	for _, h := range s.history {
		if h.UserID == entry.UserID {
			owned = append(owned, h)
		}
	}
	if len(owned) <= HistoryLimit {
		return nil
	}
	sortHistory(owned)
	evict := make(map[string]bool, len(owned)-HistoryLimit)
	for _, h := range owned[HistoryLimit:] {
		evict[h.ID] = true
	}
	kept := s.history[:0]
	for _, h := range s.history {
		if !evict[h.ID] {
			kept = append(kept, h)
		}
	}
	s.history = kept
	log.Debug().Str("user_id", entry.UserID).Int("evicted", len(evict)).Msg("History trimmed")
	return nil
}

func (s *MemoryStore) ListHistory(_ context.Context, userID string) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryEntry
	for _, h := range s.history {
		if userID == "" || h.UserID == userID {
			out = append(out, h)
		}
	}
	sortHistory(out)
	return out, nil
}

func (s *MemoryStore) DeleteHistory(_ context.Context, historyID string, requester User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.history {
		if h.ID != historyID || (h.UserID != requester.ID && !requester.IsAdmin()) {
			continue
		}
		s.history = append(s.history[:i], s.history[i+1:]...)
		return nil
	}
	return fmt.Errorf("history %s: %w", historyID, ErrNotFound)
}
