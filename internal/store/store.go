// Package store persists users, credit balances, generation and recharge
// logs, and per-user image history.
//
// Three backends implement Store: an in-memory store for tests and local
// runs, a single-table DynamoDB store, and a Supabase (PostgREST) store.
// Balances are written as absolute values; callers that read-modify-write a
// balance serialize per user themselves.
package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// DefaultCredits is the balance of a newly created user.
const DefaultCredits = 10

// AdminCredits is the balance seeded for the bootstrap admin.
const AdminCredits = 9999

// HistoryLimit caps the image history kept per user. Older entries are
// evicted when a new one is appended.
const HistoryLimit = 60

var (
	// ErrNotFound is returned when a user or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the requester lacks the role for an operation.
	ErrForbidden = errors.New("forbidden")

	// ErrBalanceChanged is returned by SetBalanceIf when the stored balance
	// no longer matches the expected previous value.
	ErrBalanceChanged = errors.New("balance changed")
)

// Role is a user's permission level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account with a credit balance.
type User struct {
	ID        string `json:"id" dynamodbav:"-"`
	Username  string `json:"username" dynamodbav:"username"`
	Role      Role   `json:"role" dynamodbav:"role"`
	Credits   int    `json:"credits" dynamodbav:"credits"`
	CreatedAt int64  `json:"createdAt" dynamodbav:"createdAt"`
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NewUser returns a user with the default starting balance.
func NewUser(id, username string, role Role) User {
	credits := DefaultCredits
	if role == RoleAdmin {
		credits = AdminCredits
	}
	if username == "" {
		username = id
	}
	return User{ID: id, Username: username, Role: role, Credits: credits, CreatedAt: time.Now().UnixMilli()}
}

// RechargeLog records an admin balance change. Amount is the signed
// difference between the new and previous balance.
type RechargeLog struct {
	ID              string `json:"id" dynamodbav:"id"`
	UserID          string `json:"userId" dynamodbav:"userId"`
	Username        string `json:"username" dynamodbav:"username"`
	Amount          int    `json:"amount" dynamodbav:"amount"`
	PreviousCredits int    `json:"previousCredits" dynamodbav:"previousCredits"`
	NewCredits      int    `json:"newCredits" dynamodbav:"newCredits"`
	Timestamp       int64  `json:"timestamp" dynamodbav:"timestamp"`
	AdminID         string `json:"adminId" dynamodbav:"adminId"`
	AdminName       string `json:"adminName" dynamodbav:"adminName"`
}

// GenerationLog records one successful paid render.
type GenerationLog struct {
	ID        string `json:"id" dynamodbav:"id"`
	UserID    string `json:"userId" dynamodbav:"userId"`
	Username  string `json:"username" dynamodbav:"username"`
	PromptID  string `json:"promptId,omitempty" dynamodbav:"promptId,omitempty"`
	Model     string `json:"model,omitempty" dynamodbav:"model,omitempty"`
	Cost      int    `json:"cost" dynamodbav:"cost"`
	Timestamp int64  `json:"timestamp" dynamodbav:"timestamp"`
}

// HistoryEntry is one generated image with the instruction that produced it.
// Image carries raw bytes on append; backends keep the bytes, offload them
// to blob storage (ImageKey) or inline them as a data URL (ImageURL).
type HistoryEntry struct {
	ID        string `json:"id" dynamodbav:"id"`
	UserID    string `json:"userId" dynamodbav:"userId"`
	Username  string `json:"username" dynamodbav:"username"`
	PromptID  string `json:"promptId,omitempty" dynamodbav:"promptId,omitempty"`
	Title     string `json:"title,omitempty" dynamodbav:"title,omitempty"`
	Prompt    string `json:"prompt" dynamodbav:"prompt"`
	ImageURL  string `json:"imageUrl,omitempty" dynamodbav:"imageUrl,omitempty"`
	ImageKey  string `json:"imageKey,omitempty" dynamodbav:"imageKey,omitempty"`
	MIMEType  string `json:"mimeType,omitempty" dynamodbav:"mimeType,omitempty"`
	Image     []byte `json:"-" dynamodbav:"-"`
	Timestamp int64  `json:"timestamp" dynamodbav:"timestamp"`
}

// Store is the identity, credit and history collaborator.
//
// Get methods return ErrNotFound for missing users. List methods return
// newest first; an empty userID lists across all users.
type Store interface {
	// --- Users and balances ---

	GetUser(ctx context.Context, userID string) (*User, error)

	// EnsureUser returns the stored user, creating u when it does not exist.
	EnsureUser(ctx context.Context, u User) (*User, error)

	ListUsers(ctx context.Context) ([]User, error)

	GetBalance(ctx context.Context, userID string) (int, error)

	// SetBalance writes an absolute balance.
	SetBalance(ctx context.Context, userID string, balance int) error

	// SetBalanceIf writes next only while the stored balance still equals
	// prev, and returns ErrBalanceChanged otherwise.
	SetBalanceIf(ctx context.Context, userID string, prev, next int) error

	// SetCredits is the admin adjustment: it writes an absolute balance and
	// appends a RechargeLog describing the change.
	SetCredits(ctx context.Context, userID string, credits int, admin User) (*RechargeLog, error)

	// --- Logs ---

	AppendGeneration(ctx context.Context, entry GenerationLog) error
	ListGenerations(ctx context.Context, userID string) ([]GenerationLog, error)
	ListRecharges(ctx context.Context, userID string) ([]RechargeLog, error)

	// --- History ---

	// AppendHistory stores entry and evicts the owner's oldest entries
	// beyond HistoryLimit.
	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	ListHistory(ctx context.Context, userID string) ([]HistoryEntry, error)

	// DeleteHistory removes an entry owned by requester, or any entry when
	// requester is an admin. Entries owned by someone else are reported as
	// ErrNotFound.
	DeleteHistory(ctx context.Context, historyID string, requester User) error
}

// ImageSink stores history image bytes outside the record store.
type ImageSink interface {
	PutImage(ctx context.Context, key string, data []byte, mimeType string) error
}

// newRecharge builds the log for an absolute balance change.
func newRecharge(id string, u User, newCredits int, admin User) RechargeLog {
	return RechargeLog{
		ID:              id,
		UserID:          u.ID,
		Username:        u.Username,
		Amount:          newCredits - u.Credits,
		PreviousCredits: u.Credits,
		NewCredits:      newCredits,
		Timestamp:       time.Now().UnixMilli(),
		AdminID:         admin.ID,
		AdminName:       admin.Username,
	}
}

// historyKey is the blob key for a history image.
func historyKey(userID, entryID, mimeType string) string {
	ext := ".png"
	switch mimeType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	return "history/" + userID + "/" + entryID + ext
}

func sortHistory(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })
}

func sortGenerations(logs []GenerationLog) {
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp > logs[j].Timestamp })
}

func sortRecharges(logs []RechargeLog) {
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp > logs[j].Timestamp })
}

func sortUsers(users []User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt != users[j].CreatedAt {
			return users[i].CreatedAt < users[j].CreatedAt
		}
		return users[i].ID < users[j].ID
	})
}
