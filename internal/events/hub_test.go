package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/render"
)

func newTestHub() *Hub {
	h := NewHub("*")
	h.thumbnail = func(data []byte, _ int) ([]byte, string, error) {
		return data[:1], "image/webp", nil
	}
	return h
}

func decode(t *testing.T, msg []byte) Event {
	t.Helper()
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	h := newTestHub()
	p := render.NewProject("ws-1", "u1", "alice", render.Settings{})
	h.Attach(p)

	ch, cancel := h.Subscribe(p.ID)
	defer cancel()

	if err := p.Board().Begin("sb1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	p.Board().Succeed("sb1", &gateway.Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"})

	first := decode(t, <-ch)
	if first.Type != TypeTransition || first.Transition.To != render.StatusLoading {
		t.Errorf("first event = %+v", first)
	}
	second := decode(t, <-ch)
	if second.Transition.To != render.StatusDone {
		t.Errorf("second event = %+v", second)
	}
	if !strings.HasPrefix(second.Thumbnail, "data:image/webp;base64,") {
		t.Errorf("done transition should carry a thumbnail, got %q", second.Thumbnail)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := newTestHub()
	ch, cancel := h.Subscribe("ws-1")
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if h.hasSubscribers("ws-1") {
		t.Error("topic should be empty")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := newTestHub()
	ch, cancel := h.Subscribe("ws-1")
	defer cancel()

	for range sendBuffer + 1 {
		h.Publish(Event{Type: TypeTransition, ProjectID: "ws-1"})
	}
	if h.hasSubscribers("ws-1") {
		t.Error("slow subscriber should be removed")
	}
	n := 0
	for range ch {
		n++
	}
	if n != sendBuffer {
		t.Errorf("drained %d events, want %d", n, sendBuffer)
	}
}

func TestServeWSStreamsSnapshotThenTransitions(t *testing.T) {
	h := newTestHub()
	p := render.NewProject("ws-2", "u1", "alice", render.Settings{})
	h.Attach(p)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, p)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if ev := decode(t, msg); ev.Type != TypeSnapshot || ev.ProjectID != "ws-2" {
		t.Errorf("first message = %+v", ev)
	}

	// The subscription is registered before the snapshot is written.
	if err := p.Board().Begin("sb3"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read transition: %v", err)
	}
	ev := decode(t, msg)
	if ev.Type != TypeTransition || ev.Transition.CardID != "sb3" {
		t.Errorf("transition message = %+v", ev)
	}
}
