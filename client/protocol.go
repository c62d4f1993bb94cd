// Package client implements the consumer side of the session protocol: an
// HTTP client for the room API and the reconciliation loop that merges
// server snapshots into a locally displayed, self-destructing message list.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/vanish/core"
)

// ErrUnavailable wraps transport-level failures: the call itself could not
// complete. Callers retry on the next poll tick instead of tearing the
// session down.
var ErrUnavailable = errors.New("server unavailable")

// NewParticipantID mints the opaque per-session participant token. The
// server treats it as an unauthenticated capability; it is generated once
// and kept for the session's duration.
func NewParticipantID() string {
	return uuid.NewString()
}

// Protocol is the HTTP client for the session protocol. Room-level failures
// surface as core.ErrRoomNotFound and core.ErrRoomFull; everything else is
// wrapped in ErrUnavailable.
type Protocol struct {
	base string
	http *http.Client
}

type ProtocolOption func(*Protocol)

func WithHTTPClient(c *http.Client) ProtocolOption {
	return func(p *Protocol) {
		p.http = c
	}
}

func NewProtocol(base string, opts ...ProtocolOption) *Protocol {
	p := &Protocol{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Protocol) do(ctx context.Context, method, path string, payload, out any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return nil
	case res.StatusCode == http.StatusNotFound:
		return core.ErrRoomNotFound
	case res.StatusCode == http.StatusConflict:
		return core.ErrRoomFull
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, res.StatusCode)
	}
}

type createRoomResponse struct {
	ID string `json:"id"`
}

type joinRoomPayload struct {
	ParticipantID string `json:"participant_id"`
}

type sendMessagePayload struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

type sendMessageResponse struct {
	OK      bool         `json:"ok"`
	Message core.Message `json:"message"`
}

type markReadPayload struct {
	MessageIDs []string `json:"message_ids"`
}

type typingPayload struct {
	ParticipantID string `json:"participant_id"`
	Typing        bool   `json:"typing"`
}

func (p *Protocol) CreateRoom(ctx context.Context) (string, error) {
	var created createRoomResponse
	if err := p.do(ctx, http.MethodPost, "/api/rooms", struct{}{}, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (p *Protocol) Join(ctx context.Context, roomID, participant string) error {
	return p.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/join",
		joinRoomPayload{ParticipantID: participant}, nil)
}

func (p *Protocol) Leave(ctx context.Context, roomID, participant string) error {
	return p.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/leave",
		joinRoomPayload{ParticipantID: participant}, nil)
}

func (p *Protocol) Send(ctx context.Context, roomID, sender, envelope string) (*core.Message, error) {
	var sent sendMessageResponse
	if err := p.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/messages",
		sendMessagePayload{SenderID: sender, Text: envelope}, &sent); err != nil {
		return nil, err
	}
	return &sent.Message, nil
}

func (p *Protocol) Poll(ctx context.Context, roomID, participant string) (*core.Snapshot, error) {
	var snapshot core.Snapshot
	if err := p.do(ctx, http.MethodGet,
		"/api/rooms/"+roomID+"/events?participant="+url.QueryEscape(participant), nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (p *Protocol) MarkRead(ctx context.Context, roomID string, messageIDs []string) error {
	return p.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/read",
		markReadPayload{MessageIDs: messageIDs}, nil)
}

func (p *Protocol) SetTyping(ctx context.Context, roomID, participant string, typing bool) error {
	return p.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/typing",
		typingPayload{ParticipantID: participant, Typing: typing}, nil)
}
