package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
	"github.com/vedran77/pulsesync/internal/metrics"
	"github.com/vedran77/pulsesync/internal/repository"
	"github.com/vedran77/pulsesync/internal/store"
	"github.com/vedran77/pulsesync/pkg/validator"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNothingToSend       = errors.New("nothing to send")
	ErrTooManyAttachments  = errors.New("too many attachments")
	ErrMessageLimitReached = errors.New("message limit reached for this conversation")
	ErrMessageNotFound     = errors.New("message not found")
	ErrMessageNotConfirmed = errors.New("message is not confirmed by the server yet")
	ErrNotMessageOwner     = errors.New("only the message sender can perform this action")
	ErrMessageRevoked      = errors.New("message has been revoked")
	ErrNotRetryable        = errors.New("message cannot be retried")
)

// Limits are the compose-time policies applied before anything is sent.
type Limits struct {
	PageSize          int
	UploadConcurrency int
	MaxAttachments    int
	MaxImageSize      int64
	NonFriendCap      int
}

func DefaultLimits() Limits {
	return Limits{
		PageSize:          20,
		UploadConcurrency: 3,
		MaxAttachments:    3,
		MaxImageSize:      domain.MaxImageSize,
		NonFriendCap:      domain.NonFriendMessageCap,
	}
}

// MessageService drives the optimistic send, edit and revoke pipelines
// and history paging on top of the per-room store.
type MessageService struct {
	api      repository.MessageAPI
	uploader repository.UploadAPI
	store    *store.Store
	rooms    *store.Rooms
	sender   domain.Sender
	limits   Limits
	clock    *ident.Clock
	log      *zap.Logger

	notifier Notifier
	typing   TypingPublisher
	metrics  *metrics.Metrics

	pages singleflight.Group

	mu      sync.Mutex
	sources map[string][]AttachmentInput
}

func NewMessageService(
	api repository.MessageAPI,
	uploader repository.UploadAPI,
	st *store.Store,
	rooms *store.Rooms,
	sender domain.Sender,
	limits Limits,
	log *zap.Logger,
) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		api:      api,
		uploader: uploader,
		store:    st,
		rooms:    rooms,
		sender:   sender,
		limits:   limits,
		clock:    ident.NewClock(),
		log:      log,
		notifier: LogNotifier{Log: log},
		sources:  make(map[string][]AttachmentInput),
	}
}

// SetNotifier sets the user-facing notice sink (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetTypingPublisher sets the outgoing typing indicator (optional dependency).
func (s *MessageService) SetTypingPublisher(p TypingPublisher) {
	s.typing = p
}

func (s *MessageService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock replaces the timestamp source. Tests use it to pin time.
func (s *MessageService) SetClock(c *ident.Clock) {
	s.clock = c
}

func (s *MessageService) Sender() domain.Sender {
	return s.sender
}

func (s *MessageService) notify(room string, level NoticeLevel, msg string) {
	if s.notifier != nil {
		s.notifier.NotifyNotice(room, level, msg)
	}
}

// ReplyTo sets the compose context so the next send quotes the message
// with the given code.
func (s *MessageService) ReplyTo(room, code string) error {
	msg, ok := s.store.Get(room, code)
	if !ok || msg.Code == "" {
		return ErrMessageNotFound
	}
	s.store.SetReplyingTo(room, &msg)
	return nil
}

func (s *MessageService) CancelReply(room string) {
	s.store.ClearReplyingTo(room)
}

// confirmedOwn loads a message that the current user may edit or revoke.
func (s *MessageService) confirmedOwn(room, code string) (domain.ChatMessage, error) {
	msg, ok := s.store.Get(room, code)
	if !ok || msg.Code != code {
		return domain.ChatMessage{}, ErrMessageNotFound
	}
	if msg.State() != domain.StateConfirmed {
		return domain.ChatMessage{}, ErrMessageNotConfirmed
	}
	if msg.UserID != s.sender.UserID {
		return domain.ChatMessage{}, ErrNotMessageOwner
	}
	if msg.IsRevoked.On() {
		return domain.ChatMessage{}, ErrMessageRevoked
	}
	return msg, nil
}

// Edit replaces a confirmed message's text optimistically. If the server
// rejects the edit, the previous text is restored.
func (s *MessageService) Edit(ctx context.Context, room, code, text string) error {
	if errs := validator.ValidateEdit(text); errs.HasErrors() {
		return errs
	}
	prev, err := s.confirmedOwn(room, code)
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	s.store.UpdateByCodeAndReplies(room, code, func(m *domain.ChatMessage) {
		m.MessageText = text
		m.IsEdited = 1
	})

	updated, err := s.api.Edit(context.WithoutCancel(ctx), repository.EditRequest{MessageCode: code, MessageText: text})
	if err != nil {
		s.store.UpdateByCodeAndReplies(room, code, func(m *domain.ChatMessage) {
			// a newer edit or a pushed revoke wins over the rollback
			if m.MessageText == text && !m.IsRevoked.On() {
				m.MessageText = prev.MessageText
				m.IsEdited = prev.IsEdited
			}
		})
		s.log.Warn("edit_failed", zap.String("room", room), zap.String("code", code), zap.Error(err))
		s.notify(room, NoticeError, "Message could not be edited")
		s.metrics.Mutation("edit", "error")
		return fmt.Errorf("editing message: %w", err)
	}

	if updated != nil && updated.Code == code {
		s.store.UpdateMessageAndReplies(room, *updated)
	}
	s.metrics.Mutation("edit", "ok")
	return nil
}

// Revoke hides a confirmed message for everyone. There is no undo once
// the server accepted it.
func (s *MessageService) Revoke(ctx context.Context, room, code string) error {
	prev, err := s.confirmedOwn(room, code)
	if err != nil {
		return err
	}

	s.store.UpdateByCodeAndReplies(room, code, func(m *domain.ChatMessage) {
		m.IsRevoked = 1
		m.MessageText = ""
	})

	if err := s.api.Revoke(context.WithoutCancel(ctx), repository.RevokeRequest{MessageCode: code}); err != nil {
		s.store.UpdateByCodeAndReplies(room, code, func(m *domain.ChatMessage) {
			if m.IsRevoked.On() && m.MessageText == "" {
				m.IsRevoked = prev.IsRevoked
				m.MessageText = prev.MessageText
			}
		})
		s.log.Warn("revoke_failed", zap.String("room", room), zap.String("code", code), zap.Error(err))
		s.notify(room, NoticeError, "Message could not be revoked")
		s.metrics.Mutation("revoke", "error")
		return fmt.Errorf("revoking message: %w", err)
	}

	s.metrics.Mutation("revoke", "ok")
	return nil
}

// Discard removes a failed message the user gave up on.
func (s *MessageService) Discard(room, tempID string) error {
	msg, ok := s.store.Get(room, tempID)
	if !ok || msg.TempID != tempID {
		return ErrMessageNotFound
	}
	if msg.State() != domain.StateFailed {
		return ErrNotRetryable
	}
	s.store.RemoveMessage(room, tempID)
	s.forgetSources(tempID)
	return nil
}

func (s *MessageService) keepSources(tempID string, files []AttachmentInput) {
	s.mu.Lock()
	s.sources[tempID] = files
	s.mu.Unlock()
}

func (s *MessageService) sourcesFor(tempID string) ([]AttachmentInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, ok := s.sources[tempID]
	return files, ok
}

func (s *MessageService) forgetSources(tempID string) {
	s.mu.Lock()
	delete(s.sources, tempID)
	s.mu.Unlock()
}
