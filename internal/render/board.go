package render

import (
	"errors"
	"sync"
	"time"

	"github.com/fpang/ecom-image-studio/internal/gateway"
)

// Status is the per-card render state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// CardState is a snapshot of one card. Image is set only when Status is
// done; Error only when Status is error.
type CardState struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Image     *gateway.Image `json:"image,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"errorCode,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Transition is emitted on every state change.
type Transition struct {
	ProjectID string    `json:"projectId"`
	CardID    string    `json:"cardId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives transitions. It is called outside the board lock and
// must not block for long.
type Observer func(Transition)

// Board holds the state machine of every card in a project:
// idle → loading → {done, error}, and done|error → loading on re-trigger.
// Start is the single-flight guard; a card already loading cannot be
// started again until it settles.
//
// Every Reset opens a new plan. Attempts started under an earlier plan
// settle as no-ops, so a late result never lands on a card of the new plan
// that happens to share its id.
type Board struct {
	projectID string

	mu        sync.Mutex
	plan      uint64
	cards     map[string]CardState
	observers []Observer
}

// Attempt is one started render or regeneration of a card.
type Attempt struct {
	board *Board
	id    string
	plan  uint64
}

// ID is the card the attempt was started for.
func (a Attempt) ID() string { return a.id }

// Current reports whether the board is still on the plan the attempt was
// started under.
func (a Attempt) Current() bool {
	a.board.mu.Lock()
	defer a.board.mu.Unlock()
	return a.board.plan == a.plan
}

// Succeed settles the card as done with img. It reports false, and changes
// nothing, when the plan has been reset since the attempt started.
func (a Attempt) Succeed(img *gateway.Image) bool {
	return a.board.settle(CardState{ID: a.id, Status: StatusDone, Image: img}, &a.plan)
}

// Fail settles the card as error. The previous image, if any, is dropped.
func (a Attempt) Fail(err error) bool {
	return a.board.settle(failedState(a.id, err), &a.plan)
}

// Release returns the card to idle without recording an outcome.
func (a Attempt) Release() bool {
	return a.board.settle(CardState{ID: a.id, Status: StatusIdle}, &a.plan)
}

// Apply settles the card with a state computed elsewhere, such as the
// result of a queued job. Only the outcome fields of st are used.
func (a Attempt) Apply(st CardState) bool {
	return a.board.settle(CardState{
		ID:        a.id,
		Status:    st.Status,
		Image:     st.Image,
		Error:     st.Error,
		ErrorCode: st.ErrorCode,
	}, &a.plan)
}

// NewBoard creates an empty board. Unknown ids read as idle.
func NewBoard(projectID string) *Board {
	return &Board{projectID: projectID, cards: make(map[string]CardState)}
}

// Observe registers fn for future transitions.
func (b *Board) Observe(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Start atomically moves id to loading and returns the attempt that must
// settle it. It fails with ErrAlreadyRendering when id is loading already.
func (b *Board) Start(id string) (Attempt, error) {
	b.mu.Lock()
	prev := b.stateLocked(id)
	if prev.Status == StatusLoading {
		b.mu.Unlock()
		return Attempt{}, ErrAlreadyRendering
	}
	t := b.setLocked(CardState{ID: id, Status: StatusLoading})
	t.From = prev.Status
	a := Attempt{board: b, id: id, plan: b.plan}
	obs := b.observersLocked()
	b.mu.Unlock()

	notify(obs, t)
	return a, nil
}

// Begin is Start for callers that settle through the board directly.
func (b *Board) Begin(id string) error {
	_, err := b.Start(id)
	return err
}

// Succeed settles id as done with img, whichever attempt started it.
func (b *Board) Succeed(id string, img *gateway.Image) {
	b.settle(CardState{ID: id, Status: StatusDone, Image: img}, nil)
}

// Fail settles id as error, whichever attempt started it.
func (b *Board) Fail(id string, err error) {
	b.settle(failedState(id, err), nil)
}

func failedState(id string, err error) CardState {
	st := CardState{ID: id, Status: StatusError}
	if err != nil {
		st.Error = err.Error()
		st.ErrorCode = ErrorCode(err)
	}
	return st
}

// settle writes st. A non-nil plan must match the board's current plan.
func (b *Board) settle(st CardState, plan *uint64) bool {
	b.mu.Lock()
	if plan != nil && *plan != b.plan {
		b.mu.Unlock()
		return false
	}
	prev := b.stateLocked(st.ID)
	t := b.setLocked(st)
	t.From = prev.Status
	obs := b.observersLocked()
	b.mu.Unlock()

	notify(obs, t)
	return true
}

// State returns the current state of id.
func (b *Board) State(id string) CardState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(id)
}

// Snapshot returns a copy of every known card state.
func (b *Board) Snapshot() map[string]CardState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]CardState, len(b.cards))
	for id, st := range b.cards {
		out[id] = st
	}
	return out
}

// Reset opens a new plan and returns every card to idle, including cards
// still loading. Their in-flight attempts settle as no-ops.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plan++
	clear(b.cards)
}

func (b *Board) stateLocked(id string) CardState {
	if st, ok := b.cards[id]; ok {
		return st
	}
	return CardState{ID: id, Status: StatusIdle}
}

func (b *Board) setLocked(st CardState) Transition {
	st.UpdatedAt = time.Now()
	b.cards[st.ID] = st
	return Transition{
		ProjectID: b.projectID,
		CardID:    st.ID,
		To:        st.Status,
		Error:     st.Error,
		ErrorCode: st.ErrorCode,
		At:        st.UpdatedAt,
	}
}

func (b *Board) observersLocked() []Observer {
	if len(b.observers) == 0 {
		return nil
	}
	return append([]Observer(nil), b.observers...)
}

func notify(obs []Observer, t Transition) {
	for _, fn := range obs {
		fn(t)
	}
}

// ErrorCode maps an error onto a short machine-readable code so clients
// can route credential failures to credential setup.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCredentialRequired):
		return "credential_required"
	case errors.Is(err, gateway.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, gateway.ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return "gateway_unavailable"
	default:
		return "internal"
	}
}
