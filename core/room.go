package core

import (
	"sync"
	"time"
)

// Message is a single chat message held by the store. The Text field is an
// opaque ciphertext envelope produced by the client; the store never
// interprets it.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the read view of a room returned by Poll. Typing excludes the
// requesting participant.
type Snapshot struct {
	Messages    []Message `json:"messages"`
	Typing      []string  `json:"typing"`
	ActiveCount int       `json:"active_count"`
}

// room is the store-internal representation of a chat room. All fields other
// than id and createdAt are guarded by mu.
type room struct {
	mu           sync.Mutex
	id           string
	participants map[string]struct{}
	messages     []Message
	typing       map[string]struct{}
	createdAt    time.Time
	// lastSentAt is the timestamp of the most recently appended message.
	// Send clamps against it so timestamps never decrease within a room.
	lastSentAt time.Time
	// deleted is set by the sweep, under mu, just before the room leaves the
	// table. An operation that loaded the room pointer before removal checks
	// it after locking and treats the room as missing.
	deleted bool
}

func newRoom(id string, createdAt time.Time) *room {
	return &room{
		id:           id,
		participants: make(map[string]struct{}),
		typing:       make(map[string]struct{}),
		createdAt:    createdAt,
	}
}
