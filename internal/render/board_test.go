package render

import (
	"sync"
	"testing"

	"github.com/fpang/ecom-image-studio/internal/gateway"
)

func TestBoardTransitions(t *testing.T) {
	b := NewBoard("p1")
	var got []Transition
	b.Observe(func(tr Transition) { got = append(got, tr) })

	if st := b.State("a"); st.Status != StatusIdle {
		t.Fatalf("initial status = %s, want idle", st.Status)
	}
	if err := b.Begin("a"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := b.Begin("a"); err != ErrAlreadyRendering {
		t.Fatalf("second Begin = %v, want ErrAlreadyRendering", err)
	}
	b.Succeed("a", &gateway.Image{Data: []byte("x")})
	if err := b.Begin("a"); err != nil {
		t.Fatalf("Begin after done: %v", err)
	}
	b.Fail("a", ErrInsufficientCredit)

	want := []struct{ from, to Status }{
		{StatusIdle, StatusLoading},
		{StatusLoading, StatusDone},
		{StatusDone, StatusLoading},
		{StatusLoading, StatusError},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].From != w.from || got[i].To != w.to {
			t.Errorf("transition %d = %s→%s, want %s→%s", i, got[i].From, got[i].To, w.from, w.to)
		}
		if got[i].ProjectID != "p1" || got[i].CardID != "a" {
			t.Errorf("transition %d has ids %q/%q", i, got[i].ProjectID, got[i].CardID)
		}
	}
	if got[3].ErrorCode != "insufficient_credit" {
		t.Errorf("error code = %q", got[3].ErrorCode)
	}
	if st := b.State("a"); st.Image != nil {
		t.Error("error state must not keep an image")
	}
}

func TestBoardBeginIsAtomic(t *testing.T) {
	b := NewBoard("p1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Begin("card") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("Begin succeeded %d times, want 1", wins)
	}
}

func TestBoardResetDropsStaleAttempts(t *testing.T) {
	b := NewBoard("p1")
	stale, err := b.Start("a")
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Begin("b")
	b.Succeed("b", nil)
	b.Reset()

	if st := b.State("a").Status; st != StatusIdle {
		t.Errorf("loading card after reset = %s, want idle", st)
	}
	if st := b.State("b").Status; st != StatusIdle {
		t.Errorf("settled card after reset = %s, want idle", st)
	}
	if stale.Current() {
		t.Error("attempt from the previous plan reports current")
	}

	fresh, err := b.Start("a")
	if err != nil {
		t.Fatalf("new plan cannot start a: %v", err)
	}
	if stale.Succeed(&gateway.Image{Data: []byte("old")}) {
		t.Error("stale attempt settled")
	}
	if st := b.State("a").Status; st != StatusLoading {
		t.Errorf("status after stale settle = %s, want loading", st)
	}
	if !fresh.Succeed(&gateway.Image{Data: []byte("new")}) {
		t.Fatal("current attempt did not settle")
	}
	if got := string(b.State("a").Image.Data); got != "new" {
		t.Errorf("image = %q, want new", got)
	}
}

func TestAttemptApply(t *testing.T) {
	b := NewBoard("p1")
	a, err := b.Start("a")
	if err != nil {
		t.Fatal(err)
	}
	a.Apply(CardState{Status: StatusError, Error: "boom", ErrorCode: "gateway_unavailable"})
	st := b.State("a")
	if st.Status != StatusError || st.ErrorCode != "gateway_unavailable" || st.ID != "a" {
		t.Errorf("state = %+v", st)
	}
}
