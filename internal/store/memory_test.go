package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserDefaults(t *testing.T) {
	u := NewUser("u1", "", RoleUser)
	assert.Equal(t, DefaultCredits, u.Credits)
	assert.Equal(t, "u1", u.Username)

	admin := NewUser("a1", "admin", RoleAdmin)
	assert.Equal(t, AdminCredits, admin.Credits)
	assert.True(t, admin.IsAdmin())
}

func TestMemoryEnsureUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u, err := s.EnsureUser(ctx, NewUser("u1", "alice", RoleUser))
	require.NoError(t, err)
	require.NoError(t, s.SetBalance(ctx, u.ID, 3))

	again, err := s.EnsureUser(ctx, NewUser("u1", "alice", RoleUser))
	require.NoError(t, err)
	assert.Equal(t, 3, again.Credits, "existing user is not reset")
}

func TestMemoryBalance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetBalance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetBalance(ctx, "missing", 1), ErrNotFound)

	_, err = s.EnsureUser(ctx, NewUser("u1", "alice", RoleUser))
	require.NoError(t, err)
	require.NoError(t, s.SetBalance(ctx, "u1", 7))

	bal, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, bal)
}

func TestMemorySetBalanceIf(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	assert.ErrorIs(t, s.SetBalanceIf(ctx, "missing", 0, 1), ErrNotFound)

	_, err := s.EnsureUser(ctx, NewUser("u1", "alice", RoleUser))
	require.NoError(t, err)
	require.NoError(t, s.SetBalance(ctx, "u1", 1))

	assert.ErrorIs(t, s.SetBalanceIf(ctx, "u1", 2, 1), ErrBalanceChanged)
	require.NoError(t, s.SetBalanceIf(ctx, "u1", 1, 0))
	assert.ErrorIs(t, s.SetBalanceIf(ctx, "u1", 1, 0), ErrBalanceChanged, "second writer with the same snapshot loses")

	bal, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, bal)
}

func TestMemorySetCreditsWritesRechargeLog(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	admin, err := s.EnsureUser(ctx, NewUser("a1", "admin", RoleAdmin))
	require.NoError(t, err)
	_, err = s.EnsureUser(ctx, NewUser("u1", "alice", RoleUser))
	require.NoError(t, err)

	rl, err := s.SetCredits(ctx, "u1", 25, *admin)
	require.NoError(t, err)
	assert.Equal(t, DefaultCredits, rl.PreviousCredits)
	assert.Equal(t, 25, rl.NewCredits)
	assert.Equal(t, 25-DefaultCredits, rl.Amount)
	assert.Equal(t, "admin", rl.AdminName)

	bal, _ := s.GetBalance(ctx, "u1")
	assert.Equal(t, 25, bal)

	logs, err := s.ListRecharges(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = s.SetCredits(ctx, "u1", 100, NewUser("u2", "bob", RoleUser))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMemoryHistoryCapAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 1; i <= HistoryLimit+5; i++ {
		require.NoError(t, s.AppendHistory(ctx, &HistoryEntry{
			UserID:    "u1",
			Prompt:    fmt.Sprintf("p%d", i),
			Timestamp: int64(i),
		}))
	}
	require.NoError(t, s.AppendHistory(ctx, &HistoryEntry{UserID: "u2", Prompt: "other", Timestamp: 1}))

	mine, err := s.ListHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, HistoryLimit)
	assert.Equal(t, fmt.Sprintf("p%d", HistoryLimit+5), mine[0].Prompt, "newest first")
	assert.Equal(t, "p6", mine[len(mine)-1].Prompt, "oldest five evicted")

	all, err := s.ListHistory(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, HistoryLimit+1)
}

func TestMemoryDeleteHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	entry := &HistoryEntry{UserID: "u1", Prompt: "p"}
	require.NoError(t, s.AppendHistory(ctx, entry))
	require.NotEmpty(t, entry.ID)

	err := s.DeleteHistory(ctx, entry.ID, NewUser("u2", "bob", RoleUser))
	assert.ErrorIs(t, err, ErrNotFound, "other users cannot see the entry")

	require.NoError(t, s.DeleteHistory(ctx, entry.ID, NewUser("a1", "admin", RoleAdmin)))
	assert.ErrorIs(t, s.DeleteHistory(ctx, entry.ID, NewUser("u1", "alice", RoleUser)), ErrNotFound)
}

func TestMemoryGenerationLogs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AppendGeneration(ctx, GenerationLog{UserID: "u1", Timestamp: 1}))
	require.NoError(t, s.AppendGeneration(ctx, GenerationLog{UserID: "u1", Timestamp: 2}))
	require.NoError(t, s.AppendGeneration(ctx, GenerationLog{UserID: "u2", Timestamp: 3}))

	mine, err := s.ListGenerations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, int64(2), mine[0].Timestamp)

	all, err := s.ListGenerations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
