package render

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fpang/ecom-image-studio/internal/store"
)

// Ledger is the credit and history collaborator. store.Store satisfies it.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	SetBalanceIf(ctx context.Context, userID string, prev, next int) error
	AppendGeneration(ctx context.Context, entry store.GenerationLog) error
	AppendHistory(ctx context.Context, entry *store.HistoryEntry) error
}

// creditGate serializes balance reads and writes per user and tracks
// credits reserved by in-flight renders, so concurrent renders for one
// user never spend more than the balance.
type creditGate struct {
	mu    sync.Mutex
	users map[string]*userCredits
}

type userCredits struct {
	mu       sync.Mutex
	reserved int
}

func newCreditGate() *creditGate {
	return &creditGate{users: make(map[string]*userCredits)}
}

func (g *creditGate) user(userID string) *userCredits {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[userID]
	if !ok {
		u = &userCredits{}
		g.users[userID] = u
	}
	return u
}

// reserve holds cost credits for one attempt. It fails with
// ErrInsufficientCredit when the balance is not positive or the unreserved
// remainder is below cost.
func (g *creditGate) reserve(ctx context.Context, ledger Ledger, userID string, cost int) (int, error) {
	u := g.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	balance, err := ledger.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if available := balance - u.reserved; balance <= 0 || available < cost {
		return balance, fmt.Errorf("%w: balance %d, reserved %d, cost %d", ErrInsufficientCredit, balance, u.reserved, cost)
	}
	u.reserved += cost
	return balance, nil
}

// release drops a reservation without charging.
func (g *creditGate) release(userID string, cost int) {
	u := g.user(userID)
	u.mu.Lock()
	u.reserved -= cost
	u.mu.Unlock()
}

// commitAttempts bounds the read-compare-write loop in commit.
const commitAttempts = 5

// commit converts a reservation into a charge. The new balance is written
// only if the stored balance is unchanged since it was read, so writers
// outside this gate (another process, an admin adjustment) are never
// overwritten. A balance that has dropped below cost is left alone and
// reported as ErrInsufficientCredit. The reservation is dropped whether or
// not the write succeeds.
func (g *creditGate) commit(ctx context.Context, ledger Ledger, userID string, cost int) (int, error) {
	u := g.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	defer func() { u.reserved -= cost }()

	var err error
	for range commitAttempts {
		var balance int
		balance, err = ledger.GetBalance(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("read balance: %w", err)
		}
		if balance < cost {
			return balance, fmt.Errorf("%w: balance %d fell below cost %d before charge", ErrInsufficientCredit, balance, cost)
		}
		next := balance - cost
		err = ledger.SetBalanceIf(ctx, userID, balance, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, store.ErrBalanceChanged) {
			return 0, fmt.Errorf("write balance: %w", err)
		}
	}
	return 0, fmt.Errorf("write balance after %d attempts: %w", commitAttempts, err)
}

// held reports the credits currently reserved by in-flight renders.
func (g *creditGate) held(userID string) int {
	u := g.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reserved
}
