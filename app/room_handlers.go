package vanish

import (
	"encoding/json"
	"net/http"

	"github.com/putto11262002/vanish/core"
	"github.com/putto11262002/vanish/pkg/router"
)

// RoomHandler translates session-protocol requests into RoomStore calls.
// It holds no state of its own; the store is the single system of record.
type RoomHandler struct {
	store core.RoomStore
}

func NewRoomHandler(store core.RoomStore) *RoomHandler {
	return &RoomHandler{store: store}
}

type CreateRoomResponse struct {
	ID string `json:"id"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type JoinRoomPayload struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

type LeaveRoomPayload struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

type SendMessagePayload struct {
	SenderID string `json:"sender_id" validate:"required"`
	// Text is the sealed envelope produced by the client. The server relays
	// it as-is.
	Text string `json:"text" validate:"required"`
}

type SendMessageResponse struct {
	OK      bool         `json:"ok"`
	Message core.Message `json:"message"`
}

type MarkReadPayload struct {
	MessageIDs []string `json:"message_ids" validate:"required"`
}

type TypingPayload struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Typing        bool   `json:"typing"`
}

func decodePayload(r *http.Request, payload any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid_payload")
	}
	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid_payload")
	}
	return nil
}

func (h *RoomHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := h.store.CreateRoom(r.Context())
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(CreateRoomResponse{ID: id})
}

func (h *RoomHandler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var payload JoinRoomPayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}
	if err := h.store.Join(r.Context(), r.PathValue("roomID"), payload.ParticipantID); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(OKResponse{OK: true})
}

func (h *RoomHandler) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var payload LeaveRoomPayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}
	// leave never fails; an absent room or membership is a no-op
	if err := h.store.Leave(r.Context(), r.PathValue("roomID"), payload.ParticipantID); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(OKResponse{OK: true})
}

func (h *RoomHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SendMessagePayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}
	message, err := h.store.Send(r.Context(), r.PathValue("roomID"), payload.SenderID, payload.Text)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(SendMessageResponse{OK: true, Message: *message})
}

func (h *RoomHandler) PollEventsHandler(w http.ResponseWriter, r *http.Request) error {
	participant := r.URL.Query().Get("participant")
	snapshot, err := h.store.Poll(r.Context(), r.PathValue("roomID"), participant)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(snapshot)
}

func (h *RoomHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) error {
	var payload MarkReadPayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}
	if err := h.store.MarkRead(r.Context(), r.PathValue("roomID"), payload.MessageIDs); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(OKResponse{OK: true})
}

func (h *RoomHandler) SetTypingHandler(w http.ResponseWriter, r *http.Request) error {
	var payload TypingPayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}
	if err := h.store.SetTyping(r.Context(), r.PathValue("roomID"), payload.ParticipantID, payload.Typing); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(OKResponse{OK: true})
}
