package vanish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/vanish/core"
	"github.com/putto11262002/vanish/pkg/router"
)

type apiFixture struct {
	server *httptest.Server
	store  *core.MemoryRoomStore
	clock  *manualClock
	t      *testing.T
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newAPIFixture(t *testing.T) *apiFixture {
	clock := &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := core.NewMemoryRoomStore(core.StoreConfig{}, core.WithNow(clock.Now),
		core.WithStoreLogger(logger))
	stream := NewEventStream(store, logger, func(*http.Request) bool { return true })
	r := NewAPIRouter(NewRoomHandler(store), stream, logger)
	server := httptest.NewServer(r.Router)
	t.Cleanup(server.Close)
	return &apiFixture{server: server, store: store, clock: clock, t: t}
}

func (f *apiFixture) post(path string, payload any) *http.Response {
	body := &bytes.Buffer{}
	if payload != nil {
		require.Nil(f.t, json.NewEncoder(body).Encode(payload))
	}
	res, err := f.server.Client().Post(f.server.URL+path, "application/json", body)
	require.Nil(f.t, err)
	return res
}

func (f *apiFixture) get(path string) *http.Response {
	res, err := f.server.Client().Get(f.server.URL + path)
	require.Nil(f.t, err)
	return res
}

func (f *apiFixture) decode(res *http.Response, v any) {
	defer res.Body.Close()
	require.Nil(f.t, json.NewDecoder(res.Body).Decode(v))
}

func (f *apiFixture) createRoom() string {
	res := f.post("/api/rooms", nil)
	require.Equal(f.t, http.StatusCreated, res.StatusCode)
	var created CreateRoomResponse
	f.decode(res, &created)
	require.NotEmpty(f.t, created.ID)
	return created.ID
}

func (f *apiFixture) join(roomID, participant string) *http.Response {
	return f.post("/api/rooms/"+roomID+"/join", JoinRoomPayload{ParticipantID: participant})
}

func TestCreateAndJoin(t *testing.T) {

	t.Run("two join, third rejected", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createRoom()

		for _, participant := range []string{"u1", "u2"} {
			res := f.join(id, participant)
			require.Equal(t, http.StatusOK, res.StatusCode)
			var ok OKResponse
			f.decode(res, &ok)
			assert.True(t, ok.OK)
		}

		res := f.join(id, "u3")
		assert.Equal(t, http.StatusConflict, res.StatusCode)
		var jsonErr router.JsonError
		f.decode(res, &jsonErr)
		assert.False(t, jsonErr.OK)
		assert.Equal(t, "full_or_missing", jsonErr.Reason)
	})

	t.Run("join missing room", func(t *testing.T) {
		f := newAPIFixture(t)
		res := f.join("missing", "u1")
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		var jsonErr router.JsonError
		f.decode(res, &jsonErr)
		assert.Equal(t, "not_found", jsonErr.Reason)
	})

	t.Run("join without participant id", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createRoom()
		res := f.post("/api/rooms/"+id+"/join", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestSendAndPoll(t *testing.T) {

	t.Run("message round trip", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createRoom()
		f.join(id, "u1").Body.Close()
		f.join(id, "u2").Body.Close()

		res := f.post("/api/rooms/"+id+"/messages", SendMessagePayload{SenderID: "u1", Text: "envelope"})
		require.Equal(t, http.StatusOK, res.StatusCode)
		var sent SendMessageResponse
		f.decode(res, &sent)
		assert.True(t, sent.OK)
		assert.NotEmpty(t, sent.Message.ID)

		res = f.get("/api/rooms/" + id + "/events?participant=u2")
		require.Equal(t, http.StatusOK, res.StatusCode)
		var snapshot core.Snapshot
		f.decode(res, &snapshot)
		require.Len(t, snapshot.Messages, 1)
		assert.Equal(t, sent.Message.ID, snapshot.Messages[0].ID)
		assert.Equal(t, "envelope", snapshot.Messages[0].Text)
		assert.Equal(t, 2, snapshot.ActiveCount)
	})

	t.Run("send to missing room is a domain error", func(t *testing.T) {
		f := newAPIFixture(t)
		res := f.post("/api/rooms/missing/messages", SendMessagePayload{SenderID: "u1", Text: "x"})
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		var jsonErr router.JsonError
		f.decode(res, &jsonErr)
		assert.False(t, jsonErr.OK)
		assert.Equal(t, "not_found", jsonErr.Reason)
	})

	t.Run("poll missing room", func(t *testing.T) {
		f := newAPIFixture(t)
		res := f.get("/api/rooms/missing/events?participant=u1")
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		res.Body.Close()
	})
}

func TestTypingAndRead(t *testing.T) {

	t.Run("typing is visible to the peer only", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createRoom()
		f.join(id, "u1").Body.Close()
		f.join(id, "u2").Body.Close()

		res := f.post("/api/rooms/"+id+"/typing", TypingPayload{ParticipantID: "u1", Typing: true})
		require.Equal(t, http.StatusOK, res.StatusCode)
		res.Body.Close()

		var snapshot core.Snapshot
		f.decode(f.get("/api/rooms/"+id+"/events?participant=u2"), &snapshot)
		assert.Equal(t, []string{"u1"}, snapshot.Typing)

		f.decode(f.get("/api/rooms/"+id+"/events?participant=u1"), &snapshot)
		assert.Empty(t, snapshot.Typing)

		res = f.post("/api/rooms/"+id+"/typing", TypingPayload{ParticipantID: "u1", Typing: false})
		res.Body.Close()
		f.decode(f.get("/api/rooms/"+id+"/events?participant=u2"), &snapshot)
		assert.Empty(t, snapshot.Typing)
	})

	t.Run("mark read removes the message", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createRoom()

		var sent SendMessageResponse
		f.decode(f.post("/api/rooms/"+id+"/messages", SendMessagePayload{SenderID: "u1", Text: "x"}), &sent)

		res := f.post("/api/rooms/"+id+"/read", MarkReadPayload{MessageIDs: []string{sent.Message.ID}})
		require.Equal(t, http.StatusOK, res.StatusCode)
		res.Body.Close()

		var snapshot core.Snapshot
		f.decode(f.get("/api/rooms/"+id+"/events?participant=u1"), &snapshot)
		assert.Empty(t, snapshot.Messages)

		// repeating the ack is a no-op, not an error
		res = f.post("/api/rooms/"+id+"/read", MarkReadPayload{MessageIDs: []string{sent.Message.ID}})
		assert.Equal(t, http.StatusOK, res.StatusCode)
		res.Body.Close()
	})
}

func TestLeaveAndEviction(t *testing.T) {

	t.Run("leave never fails", func(t *testing.T) {
		f := newAPIFixture(t)
		res := f.post("/api/rooms/missing/leave", LeaveRoomPayload{ParticipantID: "u1"})
		assert.Equal(t, http.StatusOK, res.StatusCode)
		var ok OKResponse
		f.decode(res, &ok)
		assert.True(t, ok.OK)
	})

	t.Run("expired room is gone from the API", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createRoom()

		f.clock.Advance(core.DefaultEmptyRoomGrace + time.Second)
		f.store.Sweep()

		res := f.get("/api/rooms/" + id + "/events?participant=u1")
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		res.Body.Close()
	})
}

func TestEventStream(t *testing.T) {

	t.Run("pushes snapshots on change", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createRoom()
		f.join(id, "u1").Body.Close()

		wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") +
			fmt.Sprintf("/api/rooms/%s/ws?participant=u1", id)
		conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Nil(t, err)
		defer conn.Close()
		res.Body.Close()

		// the first snapshot arrives without any send
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var snapshot core.Snapshot
		require.Nil(t, conn.ReadJSON(&snapshot))
		assert.Equal(t, 1, snapshot.ActiveCount)

		_, err = f.store.Send(context.Background(), id, "u2", "envelope")
		require.Nil(t, err)

		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		require.Nil(t, conn.ReadJSON(&snapshot))
		require.Len(t, snapshot.Messages, 1)
		assert.Equal(t, "envelope", snapshot.Messages[0].Text)
	})

	t.Run("rejects a missing room before upgrading", func(t *testing.T) {
		f := newAPIFixture(t)
		wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/rooms/missing/ws?participant=u1"
		_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NotNil(t, err)
		require.NotNil(t, res)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		res.Body.Close()
	})
}
