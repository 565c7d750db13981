// Package events streams card state transitions of a workspace to
// websocket subscribers.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/imgutil"
	"github.com/fpang/ecom-image-studio/internal/render"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event types.
const (
	TypeSnapshot   = "snapshot"
	TypeTransition = "transition"
)

// Event is one message on the stream.
type Event struct {
	Type       string                      `json:"type"`
	ProjectID  string                      `json:"projectId"`
	Transition *render.Transition          `json:"transition,omitempty"`
	Thumbnail  string                      `json:"thumbnail,omitempty"`
	Cards      map[string]render.CardState `json:"cards,omitempty"`
}

type subscriber struct {
	send chan []byte
}

// Hub fans out events per project. Slow subscribers are dropped rather
// than allowed to stall a render.
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	topics map[string]map[*subscriber]struct{}

	// thumbnail renders the preview attached to done transitions.
	thumbnail    func(data []byte, maxDimension int) ([]byte, string, error)
	thumbnailMax int
}

// NewHub creates a hub. allowedOrigin "*" or "" accepts any origin.
func NewHub(allowedOrigin string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		topics:       make(map[string]map[*subscriber]struct{}),
		thumbnail:    imgutil.Thumbnail,
		thumbnailMax: imgutil.DefaultThumbnailMaxDimension,
	}
}

// Attach publishes every transition of p's board.
func (h *Hub) Attach(p *render.Project) {
	board := p.Board()
	board.Observe(func(t render.Transition) {
		if !h.hasSubscribers(t.ProjectID) {
			return
		}
		ev := Event{Type: TypeTransition, ProjectID: t.ProjectID, Transition: &t}
		if t.To == render.StatusDone {
			ev.Thumbnail = h.preview(board.State(t.CardID))
		}
		h.Publish(ev)
	})
}

func (h *Hub) preview(st render.CardState) string {
	if st.Image == nil || len(st.Image.Data) == 0 {
		return ""
	}
	data, mime, err := h.thumbnail(st.Image.Data, h.thumbnailMax)
	if err != nil {
		log.Debug().Err(err).Str("card_id", st.ID).Msg("Skipping transition thumbnail")
		return ""
	}
	return imgutil.DataURL(data, mime)
}

func (h *Hub) hasSubscribers(projectID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[projectID]) > 0
}

// Subscribe returns a channel of encoded events for projectID and a
// function that ends the subscription.
func (h *Hub) Subscribe(projectID string) (<-chan []byte, func()) {
	sub := &subscriber{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.topics[projectID] == nil {
		h.topics[projectID] = make(map[*subscriber]struct{})
	}
	h.topics[projectID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.send, func() {
		once.Do(func() { h.remove(projectID, sub) })
	}
}

func (h *Hub) remove(projectID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[projectID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.topics, projectID)
	}
}

// Publish sends ev to every subscriber of its project.
func (h *Hub) Publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.topics[ev.ProjectID] {
		select {
		case sub.send <- msg:
		default:
			log.Warn().Str("project_id", ev.ProjectID).Msg("Dropping slow event subscriber")
			delete(h.topics[ev.ProjectID], sub)
			close(sub.send)
		}
	}
}

// ServeWS upgrades the request and streams p's events until the client
// disconnects. The first message is a snapshot of every card.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, p *render.Project) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	events, cancel := h.Subscribe(p.ID)
	snapshot, _ := json.Marshal(Event{Type: TypeSnapshot, ProjectID: p.ID, Cards: p.Board().Snapshot()})

	log.Debug().Str("project_id", p.ID).Msg("WebSocket subscriber connected")
	go readPump(conn, cancel)
	writePump(conn, snapshot, events)
}

// readPump discards client messages and ends the subscription on close.
func readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, first []byte, events <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, first); err != nil {
		return
	}
	for {
		select {
		case msg, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
