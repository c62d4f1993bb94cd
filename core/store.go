package core

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RoomStore is the sole authority over room existence, membership, message
// retention, and typing state. All state is volatile; losing it on process
// exit is correct behavior.
type RoomStore interface {

	// CreateRoom allocates a fresh empty room and returns its id. The id is
	// unguessable (128-bit random). CreateRoom never fails.
	CreateRoom(ctx context.Context) (string, error)

	// Join adds the participant to the room.
	// If the room does not exist, it returns ErrRoomNotFound.
	// If the room already has two distinct participants and participant is
	// not one of them, it returns ErrRoomFull.
	// Re-joining with a participant already in the room is idempotent.
	Join(ctx context.Context, roomID, participant string) error

	// Leave removes the participant from the room's membership and typing
	// set. It is a no-op if the room or the membership is absent. Leave never
	// deletes the room; eviction is deferred to the sweep so the participant
	// can reconnect within the grace window. If the last participant leaves,
	// the message buffer is cleared immediately.
	Leave(ctx context.Context, roomID, participant string) error

	// Send appends a message with a fresh id and a server-assigned timestamp
	// and returns it. Timestamps are non-decreasing within a room.
	// If the room does not exist, it returns ErrRoomNotFound. Sender
	// membership is not re-validated; the participant id is a capability
	// token, and a just-disconnected peer may still flush a message.
	Send(ctx context.Context, roomID, sender, text string) (*Message, error)

	// Poll returns the room's full message buffer, the typing set with the
	// requester excluded, and the current participant count.
	// If the room does not exist, it returns ErrRoomNotFound.
	Poll(ctx context.Context, roomID, requester string) (*Snapshot, error)

	// MarkRead removes every message whose id is in messageIDs from the
	// room's buffer. Unknown ids are ignored, so stale client state is
	// harmless. It is a no-op if the room is absent.
	MarkRead(ctx context.Context, roomID string, messageIDs []string) error

	// SetTyping adds or removes the participant from the room's typing set.
	// It is a no-op if the room is absent.
	SetTyping(ctx context.Context, roomID, participant string, typing bool) error
}

// StoreConfig holds the retention knobs of the store. Zero values are
// replaced with the defaults below.
type StoreConfig struct {
	// MessageTTL is the maximum age of a message before the sweep drops it.
	MessageTTL time.Duration
	// EmptyRoomGrace is how long a room may exist with zero participants
	// before the sweep deletes it.
	EmptyRoomGrace time.Duration
	// SweepInterval is the period of the background sweep.
	SweepInterval time.Duration
}

const (
	DefaultMessageTTL     = 24 * time.Hour
	DefaultEmptyRoomGrace = 5 * time.Minute
	DefaultSweepInterval  = time.Minute
)

func (c StoreConfig) withDefaults() StoreConfig {
	if c.MessageTTL == 0 {
		c.MessageTTL = DefaultMessageTTL
	}
	if c.EmptyRoomGrace == 0 {
		c.EmptyRoomGrace = DefaultEmptyRoomGrace
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// MemoryRoomStore is an in-memory RoomStore. The room table is guarded by a
// SyncMap and every room carries its own mutex, so operations on independent
// rooms proceed in parallel. The sweep acquires the same per-room mutex as
// ordinary operations before touching a room.
type MemoryRoomStore struct {
	rooms  *SyncMap[string, *room]
	config StoreConfig
	logger *slog.Logger
	now    func() time.Time
	done   chan struct{}
}

type StoreOption func(*MemoryRoomStore)

// WithNow replaces the store's clock. Tests use it to drive eviction
// deterministically.
func WithNow(now func() time.Time) StoreOption {
	return func(s *MemoryRoomStore) {
		s.now = now
	}
}

func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *MemoryRoomStore) {
		s.logger = logger
	}
}

func NewMemoryRoomStore(config StoreConfig, opts ...StoreOption) *MemoryRoomStore {
	s := &MemoryRoomStore{
		rooms:  NewSyncMap[string, *room](),
		config: config.withDefaults(),
		logger: slog.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep. It returns when ctx is cancelled or
// Close is called.
func (s *MemoryRoomStore) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *MemoryRoomStore) Close() {
	close(s.done)
}

func (s *MemoryRoomStore) CreateRoom(ctx context.Context) (string, error) {
	id := uuid.NewString()
	s.rooms.Store(id, newRoom(id, s.now()))
	return id, nil
}

func (s *MemoryRoomStore) Join(ctx context.Context, roomID, participant string) error {
	r, ok := s.rooms.Load(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return ErrRoomNotFound
	}
	if _, in := r.participants[participant]; !in && len(r.participants) >= 2 {
		return ErrRoomFull
	}
	r.participants[participant] = struct{}{}
	return nil
}

func (s *MemoryRoomStore) Leave(ctx context.Context, roomID, participant string) error {
	r, ok := s.rooms.Load(roomID)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, participant)
	delete(r.typing, participant)
	if len(r.participants) == 0 {
		// Both sides are gone; free the ciphertext now. The room itself
		// survives until the grace period expires so a reconnect can reuse
		// the invite link.
		r.messages = nil
	}
	return nil
}

func (s *MemoryRoomStore) Send(ctx context.Context, roomID, sender, text string) (*Message, error) {
	r, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil, ErrRoomNotFound
	}
	ts := s.now()
	if ts.Before(r.lastSentAt) {
		ts = r.lastSentAt
	}
	r.lastSentAt = ts
	msg := Message{
		ID:        uuid.NewString(),
		SenderID:  sender,
		Text:      text,
		Timestamp: ts,
	}
	r.messages = append(r.messages, msg)
	return &msg, nil
}

func (s *MemoryRoomStore) Poll(ctx context.Context, roomID, requester string) (*Snapshot, error) {
	r, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil, ErrRoomNotFound
	}
	snapshot := &Snapshot{
		Messages:    make([]Message, len(r.messages)),
		Typing:      make([]string, 0, len(r.typing)),
		ActiveCount: len(r.participants),
	}
	copy(snapshot.Messages, r.messages)
	for p := range r.typing {
		if p != requester {
			snapshot.Typing = append(snapshot.Typing, p)
		}
	}
	sort.Strings(snapshot.Typing)
	return snapshot, nil
}

func (s *MemoryRoomStore) MarkRead(ctx context.Context, roomID string, messageIDs []string) error {
	r, ok := s.rooms.Load(roomID)
	if !ok {
		return nil
	}
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[:0]
	for _, msg := range r.messages {
		if _, read := ids[msg.ID]; !read {
			kept = append(kept, msg)
		}
	}
	r.messages = kept
	return nil
}

func (s *MemoryRoomStore) SetTyping(ctx context.Context, roomID, participant string, typing bool) error {
	r, ok := s.rooms.Load(roomID)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if typing {
		r.typing[participant] = struct{}{}
	} else {
		delete(r.typing, participant)
	}
	return nil
}

// Sweep performs one eviction pass: it drops messages older than MessageTTL
// and deletes rooms that have zero participants and are older than
// EmptyRoomGrace. Rooms with at least one participant are never deleted.
// Sweep runs periodically once Start is called; it is exported so tests can
// trigger it directly.
func (s *MemoryRoomStore) Sweep() {
	now := s.now()
	var expired []string
	s.rooms.RRange(func(id string, r *room) bool {
		r.mu.Lock()
		kept := r.messages[:0]
		for _, msg := range r.messages {
			if now.Sub(msg.Timestamp) <= s.config.MessageTTL {
				kept = append(kept, msg)
			}
		}
		dropped := len(r.messages) - len(kept)
		r.messages = kept
		if dropped > 0 {
			s.logger.Debug("sweep dropped expired messages",
				slog.String("room", id), slog.Int("count", dropped))
		}
		if len(r.participants) == 0 && now.Sub(r.createdAt) > s.config.EmptyRoomGrace {
			expired = append(expired, id)
		}
		r.mu.Unlock()
		return true
	})
	for _, id := range expired {
		r, ok := s.rooms.Load(id)
		if !ok {
			continue
		}
		r.mu.Lock()
		// re-check: a participant may have joined since the first pass
		if len(r.participants) == 0 {
			r.deleted = true
			s.rooms.Delete(id)
			s.logger.Debug("sweep deleted empty room", slog.String("room", id))
		}
		r.mu.Unlock()
	}
}
