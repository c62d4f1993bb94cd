package client

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/putto11262002/vanish/core"
	"github.com/putto11262002/vanish/e2ee"
)

// DecryptionFailedText is rendered in place of a message whose envelope
// cannot be authenticated. The failure is per-message; the session stays up.
const DecryptionFailedText = "message could not be decrypted"

// MessageState is the display lifecycle of a local message.
type MessageState int

const (
	// StateVisible is a message currently shown in full.
	StateVisible MessageState = iota
	// StateFading is a message animating out, either because it has been
	// displayed long enough or because the server already forgot it.
	StateFading
)

// LocalMessage is a decrypted message held by the session for display.
type LocalMessage struct {
	ID        string
	SenderID  string
	Text      string
	Timestamp time.Time
	State     MessageState

	arrivedAt time.Time
	fadingAt  time.Time
}

// RoomAPI is the slice of the protocol the reconciliation loop needs.
// *Protocol satisfies it; tests substitute fakes.
type RoomAPI interface {
	Poll(ctx context.Context, roomID, participant string) (*core.Snapshot, error)
	MarkRead(ctx context.Context, roomID string, messageIDs []string) error
	Leave(ctx context.Context, roomID, participant string) error
}

type SessionConfig struct {
	// PollInterval is how often the loop polls for events.
	PollInterval time.Duration
	// DisplayDelay is how long a message stays fully visible after arrival
	// before it starts fading.
	DisplayDelay time.Duration
	// RemoveDelay is how long a fading message lingers before it is removed
	// from local state and acknowledged upstream.
	RemoveDelay time.Duration
	// FailureThreshold is how many consecutive failed polls are tolerated
	// before Err reports the outage.
	FailureThreshold int
}

const (
	DefaultPollInterval     = 1500 * time.Millisecond
	DefaultDisplayDelay     = 3 * time.Second
	DefaultRemoveDelay      = 300 * time.Millisecond
	DefaultFailureThreshold = 3
)

func (c SessionConfig) withDefaults() SessionConfig {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DisplayDelay == 0 {
		c.DisplayDelay = DefaultDisplayDelay
	}
	if c.RemoveDelay == 0 {
		c.RemoveDelay = DefaultRemoveDelay
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	return c
}

// Session reconciles server snapshots into a local message list with a
// visible → fading → removed lifecycle per message. It is the sole caller
// of MarkRead: a message is acknowledged only after it has been displayed
// and animated out, so the ephemeral UX is pure client policy on top of a
// time-blind store.
type Session struct {
	api         RoomAPI
	roomID      string
	participant string
	key         *e2ee.Key
	config      SessionConfig
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	messages []*LocalMessage
	// seen holds every message id ever displayed, including ones already
	// removed locally. An own message stays server-side until the peer acks
	// it; without this it would flash back in on the next poll.
	seen     map[string]struct{}
	typing   []string
	active   int
	failures int
	terminal error
	inFlight bool
}

type SessionOption func(*Session)

// WithSessionNow replaces the session clock for deterministic tests.
func WithSessionNow(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func NewSession(api RoomAPI, roomID, participant string, key *e2ee.Key,
	config SessionConfig, opts ...SessionOption) *Session {
	s := &Session{
		api:         api,
		roomID:      roomID,
		participant: participant,
		key:         key,
		config:      config.withDefaults(),
		logger:      slog.Default(),
		now:         time.Now,
		seen:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls on the configured interval until ctx is cancelled or the
// session hits a terminal error. A tick is skipped while the previous poll
// is still in flight, so snapshots are never applied out of order.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick performs one reconciliation pass. It returns a non-nil error only
// for terminal conditions (room gone or full); transient poll failures are
// swallowed and retried on the next tick.
func (s *Session) Tick(ctx context.Context) error {
	s.mu.Lock()
	if s.terminal != nil {
		defer s.mu.Unlock()
		return s.terminal
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil
	}
	s.inFlight = true
	s.mu.Unlock()

	snapshot, err := s.api.Poll(ctx, s.roomID, s.participant)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if err != nil {
		if errors.Is(err, core.ErrRoomNotFound) || errors.Is(err, core.ErrRoomFull) {
			s.terminal = err
			return err
		}
		s.failures++
		s.logger.Debug("poll failed, will retry on next tick",
			slog.Int("consecutive", s.failures), slog.String("err", err.Error()))
		return nil
	}
	s.failures = 0
	s.reconcile(ctx, snapshot)
	return nil
}

func (s *Session) reconcile(ctx context.Context, snapshot *core.Snapshot) {
	now := s.now()
	s.typing = snapshot.Typing
	s.active = snapshot.ActiveCount

	serverIDs := make(map[string]struct{}, len(snapshot.Messages))
	for _, msg := range snapshot.Messages {
		serverIDs[msg.ID] = struct{}{}
	}

	// a message the server forgot has been read-acked or TTL-expired
	// upstream; animate it out instead of dropping it cold
	for _, local := range s.messages {
		if _, held := serverIDs[local.ID]; !held && local.State != StateFading {
			local.State = StateFading
			local.fadingAt = now
		}
	}

	for _, msg := range snapshot.Messages {
		if _, dup := s.seen[msg.ID]; dup {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		text, err := s.key.Decrypt(msg.Text)
		if err != nil {
			text = DecryptionFailedText
		}
		s.messages = append(s.messages, &LocalMessage{
			ID:        msg.ID,
			SenderID:  msg.SenderID,
			Text:      text,
			Timestamp: msg.Timestamp,
			State:     StateVisible,
			arrivedAt: now,
		})
	}

	// scheduled transitions: display long enough -> fading -> removed
	var acked []string
	kept := s.messages[:0]
	for _, local := range s.messages {
		if local.State == StateVisible && now.Sub(local.arrivedAt) >= s.config.DisplayDelay {
			local.State = StateFading
			local.fadingAt = now
		}
		if local.State == StateFading && now.Sub(local.fadingAt) >= s.config.RemoveDelay {
			if local.SenderID != s.participant {
				acked = append(acked, local.ID)
			}
			continue
		}
		kept = append(kept, local)
	}
	s.messages = kept

	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Timestamp.Before(s.messages[j].Timestamp)
	})

	if len(acked) > 0 {
		// best effort: the store reclaims the messages either way once the
		// TTL passes
		go func() {
			if err := s.api.MarkRead(ctx, s.roomID, acked); err != nil {
				s.logger.Debug("mark read failed", slog.String("err", err.Error()))
			}
		}()
	}
}

// Messages returns a copy of the local message list in display order.
func (s *Session) Messages() []LocalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocalMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// Typing returns the peers currently composing.
func (s *Session) Typing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typing...)
}

// ActiveCount returns the participant count from the last snapshot.
func (s *Session) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Failing reports whether consecutive poll failures have crossed the
// configured threshold.
func (s *Session) Failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures >= s.config.FailureThreshold
}

// Close issues a best-effort leave. The server-side grace period is the
// authoritative backstop if the call never arrives.
func (s *Session) Close(ctx context.Context) {
	if err := s.api.Leave(ctx, s.roomID, s.participant); err != nil {
		s.logger.Debug("leave failed", slog.String("err", err.Error()))
	}
}
