package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/pkg/validator"
	"go.uber.org/zap"
)

// Typist receives local typing activity.
type Typist interface {
	Keystroke(room string)
}

type RoomHandler struct {
	session *service.Session
	views   *service.Views
	typist  Typist
	log     *zap.Logger
}

func NewRoomHandler(session *service.Session, views *service.Views, typist Typist, log *zap.Logger) *RoomHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomHandler{session: session, views: views, typist: typist, log: log}
}

type openResponse struct {
	History *service.HistoryPage `json:"history,omitempty"`
	View    service.RoomView     `json:"view"`
}

type replyInput struct {
	Code string `json:"code"`
}

// roomCode reads and validates the {code} path value.
func roomCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := r.PathValue("code")
	if errs := validator.ValidateRoomCode(code); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return "", false
	}
	return code, true
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": h.views.Rooms()})
}

func (h *RoomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.views.Room(room))
}

// Open marks the room active and read, then loads its newest page. A
// failed page load still opens the room.
func (h *RoomHandler) Open(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	page, err := h.session.OpenRoom(r.Context(), room)
	if err != nil {
		h.log.Warn("open_room_history_failed", zap.String("room", room), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, openResponse{History: page, View: h.views.Room(room)})
}

func (h *RoomHandler) Close(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	h.session.CloseRoom(r.Context(), room)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) History(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}

	page := 1
	if s := r.URL.Query().Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_PAGE", "Page must be a positive number")
			return
		}
		page = n
	}

	res, err := h.session.Messages().LoadHistory(r.Context(), room, page)
	if err != nil {
		h.log.Warn("history_failed", zap.String("room", room), zap.Int("page", page), zap.Error(err))
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RoomHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	h.session.MarkRead(r.Context(), room)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) SetReply(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}

	var input replyInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Code == "" {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Message code is required")
		return
	}

	if err := h.session.Messages().ReplyTo(room, input.Code); err != nil {
		if errors.Is(err, service.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
			return
		}
		h.log.Error("set_reply_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) ClearReply(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	h.session.Messages().CancelReply(room)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) Typing(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	if h.typist != nil {
		h.typist.Keystroke(room)
	}
	w.WriteHeader(http.StatusAccepted)
}
