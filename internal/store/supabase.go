package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"
)

// Supabase table names.
const (
	tableUsers       = "studio_users"
	tableRecharges   = "studio_recharge_logs"
	tableGenerations = "studio_generation_logs"
	tableHistory     = "studio_history"
)

// SupabaseStore implements Store over Supabase PostgREST tables. History
// images are stored inline as data URLs in image_url.
//
// PostgREST offers no read-modify-write transaction here, so SetCredits
// reads then writes; concurrent admin edits of one user are last-writer-wins.
type SupabaseStore struct {
	client *supabase.Client
}

// Compile-time interface check.
var _ Store = (*SupabaseStore)(nil)

// NewSupabaseStore connects with the service role key.
func NewSupabaseStore(url, serviceKey string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// --- Row shapes (snake_case columns) ---

type userRow struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Credits   int    `json:"credits"`
	CreatedAt int64  `json:"created_at"`
}

func (r userRow) user() User {
	return User{ID: r.ID, Username: r.Username, Role: Role(r.Role), Credits: r.Credits, CreatedAt: r.CreatedAt}
}

func rowFromUser(u User) userRow {
	return userRow{ID: u.ID, Username: u.Username, Role: string(u.Role), Credits: u.Credits, CreatedAt: u.CreatedAt}
}

type rechargeRow struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	Amount          int    `json:"amount"`
	PreviousCredits int    `json:"previous_credits"`
	NewCredits      int    `json:"new_credits"`
	Timestamp       int64  `json:"timestamp"`
	AdminID         string `json:"admin_id"`
	AdminName       string `json:"admin_name"`
}

type generationRow struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	PromptID  string `json:"prompt_id"`
	Model     string `json:"model"`
	Cost      int    `json:"cost"`
	Timestamp int64  `json:"timestamp"`
}

type historyRow struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	PromptID  string `json:"prompt_id"`
	Title     string `json:"title"`
	Prompt    string `json:"prompt"`
	ImageURL  string `json:"image_url"`
	MIMEType  string `json:"mime_type"`
	Timestamp int64  `json:"timestamp"`
}

// dataURL inlines image bytes the way browsers accept them in <img src>.
func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func decodeRows[T any](data []byte) ([]T, error) {
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return rows, nil
}

// --- Users and balances ---

func (s *SupabaseStore) GetUser(_ context.Context, userID string) (*User, error) {
	data, _, err := s.client.From(tableUsers).
		Select("*", "", false).
		Eq("id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", userID, err)
	}
	rows, err := decodeRows[userRow](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u := rows[0].user()
	return &u, nil
}

func (s *SupabaseStore) EnsureUser(ctx context.Context, u User) (*User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err == nil {
		return existing, nil
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	if _, _, err := s.client.From(tableUsers).
		Insert(rowFromUser(u), false, "", "", "").
		Execute(); err != nil {
		// A concurrent insert of the same id wins; read it back.
		if again, gerr := s.GetUser(ctx, u.ID); gerr == nil {
			return again, nil
		}
		return nil, fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Int("credits", u.Credits).Msg("User created")
	return &u, nil
}

func (s *SupabaseStore) ListUsers(_ context.Context) ([]User, error) {
	data, _, err := s.client.From(tableUsers).Select("*", "", false).Execute()
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	rows, err := decodeRows[userRow](data)
	if err != nil {
		return nil, err
	}
	users := make([]User, len(rows))
	for i, r := range rows {
		users[i] = r.user()
	}
	sortUsers(users)
	return users, nil
}

func (s *SupabaseStore) GetBalance(ctx context.Context, userID string) (int, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

func (s *SupabaseStore) SetBalance(_ context.Context, userID string, balance int) error {
	data, _, err := s.client.From(tableUsers).
		Update(map[string]any{"credits": balance}, "representation", "").
		Eq("id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("update credits %s: %w", userID, err)
	}
	rows, err := decodeRows[userRow](data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *SupabaseStore) SetBalanceIf(ctx context.Context, userID string, prev, next int) error {
	data, _, err := s.client.From(tableUsers).
		Update(map[string]any{"credits": next}, "representation", "").
		Eq("id", userID).
		Eq("credits", strconv.Itoa(prev)).
		Execute()
	if err != nil {
		return fmt.Errorf("update credits %s: %w", userID, err)
	}
	rows, err := decodeRows[userRow](data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
		return fmt.Errorf("user %s expected %d: %w", userID, prev, ErrBalanceChanged)
	}
	return nil
}

func (s *SupabaseStore) SetCredits(ctx context.Context, userID string, credits int, admin User) (*RechargeLog, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("set credits by %s: %w", admin.ID, ErrForbidden)
	}
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.SetBalance(ctx, userID, credits); err != nil {
		return nil, err
	}
	rl := newRecharge(uuid.NewString(), *u, credits, admin)
	row := rechargeRow(rl)
	if _, _, err := s.client.From(tableRecharges).Insert(row, false, "", "", "").Execute(); err != nil {
		return nil, fmt.Errorf("insert recharge log %s: %w", userID, err)
	}
	return &rl, nil
}

// --- Logs ---

func (s *SupabaseStore) AppendGeneration(_ context.Context, entry GenerationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if _, _, err := s.client.From(tableGenerations).Insert(generationRow(entry), false, "", "", "").Execute(); err != nil {
		return fmt.Errorf("insert generation log %s: %w", entry.UserID, err)
	}
	return nil
}

func (s *SupabaseStore) selectByUser(table, userID string) ([]byte, error) {
	q := s.client.From(table).Select("*", "", false)
	if userID != "" {
		q = q.Eq("user_id", userID)
	}
	data, _, err := q.Execute()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return data, nil
}

func (s *SupabaseStore) ListGenerations(_ context.Context, userID string) ([]GenerationLog, error) {
	data, err := s.selectByUser(tableGenerations, userID)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[generationRow](data)
	if err != nil {
		return nil, err
	}
	logs := make([]GenerationLog, len(rows))
	for i, r := range rows {
		logs[i] = GenerationLog(r)
	}
	sortGenerations(logs)
	return logs, nil
}

func (s *SupabaseStore) ListRecharges(_ context.Context, userID string) ([]RechargeLog, error) {
	data, err := s.selectByUser(tableRecharges, userID)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[rechargeRow](data)
	if err != nil {
		return nil, err
	}
	logs := make([]RechargeLog, len(rows))
	for i, r := range rows {
		logs[i] = RechargeLog(r)
	}
	sortRecharges(logs)
	return logs, nil
}

// --- History ---

func historyRowFrom(e *HistoryEntry) historyRow {
	url := e.ImageURL
	if url == "" && len(e.Image) > 0 {
		url = dataURL(e.MIMEType, e.Image)
	}
	return historyRow{
		ID: e.ID, UserID: e.UserID, Username: e.Username, PromptID: e.PromptID,
		Title: e.Title, Prompt: e.Prompt, ImageURL: url, MIMEType: e.MIMEType, Timestamp: e.Timestamp,
	}
}

func (r historyRow) entry() HistoryEntry {
	return HistoryEntry{
		ID: r.ID, UserID: r.UserID, Username: r.Username, PromptID: r.PromptID,
		Title: r.Title, Prompt: r.Prompt, ImageURL: r.ImageURL, MIMEType: r.MIMEType, Timestamp: r.Timestamp,
	}
}

func (s *SupabaseStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	row := historyRowFrom(entry)
	if _, _, err := s.client.From(tableHistory).Insert(row, false, "", "", "").Execute(); err != nil {
		return fmt.Errorf("insert history %s: %w", entry.ID, err)
	}
	entry.ImageURL = row.ImageURL

	owned, err := s.ListHistory(ctx, entry.UserID)
	if err != nil {
		return fmt.Errorf("trim history %s: %w", entry.UserID, err)
	}
	if len(owned) <= HistoryLimit {
		return nil
	}
	for _, h := range owned[HistoryLimit:] {
		if _, _, err := s.client.From(tableHistory).Delete("", "").Eq("id", h.ID).Execute(); err != nil {
			return fmt.Errorf("evict history %s: %w", h.ID, err)
		}
	}
	log.Debug().Str("user_id", entry.UserID).Int("evicted", len(owned)-HistoryLimit).Msg("History trimmed")
	return nil
}

func (s *SupabaseStore) ListHistory(_ context.Context, userID string) ([]HistoryEntry, error) {
	data, err := s.selectByUser(tableHistory, userID)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[historyRow](data)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	sortHistory(entries)
	return entries, nil
}

func (s *SupabaseStore) DeleteHistory(_ context.Context, historyID string, requester User) error {
	q := s.client.From(tableHistory).Delete("representation", "").Eq("id", historyID)
	if !requester.IsAdmin() {
		q = q.Eq("user_id", requester.ID)
	}
	data, _, err := q.Execute()
	if err != nil {
		return fmt.Errorf("delete history %s: %w", historyID, err)
	}
	rows, err := decodeRows[historyRow](data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("history %s: %w", historyID, ErrNotFound)
	}
	return nil
}
