package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vedran77/pulsesync/internal/repository/httpapi"
	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/pkg/validator"
	"go.uber.org/zap"
)

type MessageHandler struct {
	messages *service.MessageService
	log      *zap.Logger
}

func NewMessageHandler(messages *service.MessageService, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{messages: messages, log: log}
}

type attachmentInput struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType,omitempty"`
}

type sendInput struct {
	Text        string            `json:"text"`
	Attachments []attachmentInput `json:"attachments,omitempty"`
}

type editInput struct {
	Text string `json:"text"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}

	var input sendInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	files := make([]service.AttachmentInput, 0, len(input.Attachments))
	for _, a := range input.Attachments {
		f, err := service.LocalAttachment(a.Path, a.ContentType)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ATTACHMENT", err.Error())
			return
		}
		files = append(files, f)
	}

	res, err := h.messages.Send(r.Context(), room, service.SendInput{Text: input.Text, Attachments: files})
	if err != nil {
		h.writeServiceError(w, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	if err := h.messages.Retry(r.Context(), room, r.PathValue("tempId")); err != nil {
		h.writeServiceError(w, "retry message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Discard(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	if err := h.messages.Discard(room, r.PathValue("tempId")); err != nil {
		h.writeServiceError(w, "discard message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}

	var input editInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.messages.Edit(r.Context(), room, r.PathValue("msgCode"), input.Text); err != nil {
		h.writeServiceError(w, "edit message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	room, ok := roomCode(w, r)
	if !ok {
		return
	}
	if err := h.messages.Revoke(r.Context(), room, r.PathValue("msgCode")); err != nil {
		h.writeServiceError(w, "revoke message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var verrs validator.ValidationErrors
	var apiErr *httpapi.APIError

	switch {
	case errors.As(err, &verrs):
		writeValidationErrors(w, verrs)
	case errors.Is(err, service.ErrNothingToSend):
		writeError(w, http.StatusBadRequest, "NOTHING_TO_SEND", "Message text or an attachment is required")
	case errors.Is(err, service.ErrTooManyAttachments):
		writeError(w, http.StatusBadRequest, "TOO_MANY_ATTACHMENTS", err.Error())
	case errors.Is(err, service.ErrMessageLimitReached):
		writeError(w, http.StatusForbidden, "MESSAGE_LIMIT", "Wait for the friend request to be accepted")
	case errors.Is(err, service.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
	case errors.Is(err, service.ErrNotMessageOwner):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You can only change your own messages")
	case errors.Is(err, service.ErrMessageNotConfirmed),
		errors.Is(err, service.ErrMessageRevoked),
		errors.Is(err, service.ErrNotRetryable):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", apiErr.Error())
	default:
		h.log.Error("request_failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
