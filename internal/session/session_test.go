package session

import (
	"errors"
	"testing"
	"time"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/jobs"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
)

func TestCreateAndGet(t *testing.T) {
	m := NewManager(time.Minute)
	var hooked []string
	m.OnCreate(func(p *render.Project) { hooked = append(hooked, p.ID) })

	p := m.Create("u1", "alice", render.Settings{})
	if !jobs.Valid(p.ID, jobs.SessionPrefix) {
		t.Errorf("unexpected id %q", p.ID)
	}
	if len(hooked) != 1 || hooked[0] != p.ID {
		t.Errorf("OnCreate hooks = %v", hooked)
	}

	got, err := m.Get(p.ID, "u1")
	if err != nil || got != p {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := m.Get(p.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign Get err = %v, want ErrNotFound", err)
	}
	if _, err := m.Get("ws-missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing Get err = %v, want ErrNotFound", err)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d", m.Count())
	}
}

func TestDelete(t *testing.T) {
	m := NewManager(time.Minute)
	p := m.Create("u1", "alice", render.Settings{})

	if err := m.Delete(p.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign Delete err = %v", err)
	}
	if err := m.Delete(p.ID, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d after delete", m.Count())
	}
}

func TestExpiry(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	p := m.Create("u1", "alice", render.Settings{})
	time.Sleep(50 * time.Millisecond)
	if _, err := m.Get(p.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired Get err = %v", err)
	}
}

func TestStyleCache(t *testing.T) {
	m := NewManager(time.Minute)
	img := gateway.Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"}
	key := StyleKey(img, gateway.DefaultAnalysisModel)

	if key == StyleKey(img, gateway.ModelGemini3ProPreview) {
		t.Error("key should depend on the model")
	}
	if _, ok := m.CachedStyle(key); ok {
		t.Fatal("cache should start empty")
	}

	c := &planner.Constitution{Style: "极简"}
	m.RememberStyle(key, c)
	c.Style = "mutated"

	got, ok := m.CachedStyle(key)
	if !ok || got.Style != "极简" {
		t.Errorf("CachedStyle = %+v, %v", got, ok)
	}
}
