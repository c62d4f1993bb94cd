package vanish

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/vanish/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// How often the stream re-reads the room for changes.
	snapshotInterval = 500 * time.Millisecond
)

// EventStream pushes room snapshots over a websocket instead of making the
// client poll. It is a pure alternative consumer of the RoomStore contract:
// the payloads are exactly what the poll endpoint returns, sent only when
// the snapshot changes.
type EventStream struct {
	store    core.RoomStore
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewEventStream(store core.RoomStore, logger *slog.Logger, checkOrigin func(*http.Request) bool) *EventStream {
	return &EventStream{
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

func (s *EventStream) Handler(w http.ResponseWriter, r *http.Request) error {
	roomID := r.PathValue("roomID")
	participant := r.URL.Query().Get("participant")

	// reject bad links before upgrading; after the upgrade the error
	// contract is close frames, not JSON
	if _, err := s.store.Poll(r.Context(), roomID, participant); err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		return nil
	}
	go s.readLoop(conn)
	// the request context dies when this handler returns, so the write loop
	// runs here rather than in a goroutine
	s.writeLoop(r, conn, roomID, participant)
	return nil
}

// readLoop drains the connection so close frames and pongs are processed.
// The stream is one-way; client frames are discarded.
func (s *EventStream) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			return
		}
	}
}

func (s *EventStream) writeLoop(r *http.Request, conn *websocket.Conn, roomID, participant string) {
	ticker := time.NewTicker(snapshotInterval)
	pinger := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		pinger.Stop()
		conn.Close()
	}()

	var lastSent []byte
	for {
		select {
		case <-r.Context().Done():
			return
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			snapshot, err := s.store.Poll(r.Context(), roomID, participant)
			if err != nil {
				// room evicted while streaming; tell the client the link died
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not_found"))
				return
			}
			payload, err := json.Marshal(snapshot)
			if err != nil {
				s.logger.Error("marshal snapshot", slog.String("err", err.Error()))
				return
			}
			if bytes.Equal(payload, lastSent) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			lastSent = payload
		}
	}
}
