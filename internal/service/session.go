package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/metrics"
	"github.com/vedran77/pulsesync/internal/repository"
	"github.com/vedran77/pulsesync/internal/store"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// ParseSessionToken reads the user identity out of the chat backend's
// access token. The signature is checked by the backend, not here.
func ParseSessionToken(token string, now time.Time) (domain.Sender, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.Sender{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return domain.Sender{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil && !exp.After(now) {
		return domain.Sender{}, ErrTokenExpired
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return domain.Sender{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return domain.Sender{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, sub)
	}

	sender := domain.Sender{UserID: id}
	sender.UserName, _ = claims["name"].(string)
	sender.UserAvatar, _ = claims["avatar"].(string)
	return sender, nil
}

// RoomPresence tells the push channel which rooms this client watches.
type RoomPresence interface {
	JoinRoom(ctx context.Context, room string) error
	LeaveRoom(ctx context.Context, room string) error
}

// Session owns the per-user state for one login: it seeds the caches at
// start, tracks open rooms and tears everything down on logout.
type Session struct {
	messages *MessageService
	api      repository.MessageAPI
	store    *store.Store
	rooms    *store.Rooms
	typing   *store.Typing
	archive  repository.ArchiveRepository
	presence RoomPresence
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu   sync.Mutex
	open map[string]struct{}
}

func NewSession(
	messages *MessageService,
	api repository.MessageAPI,
	st *store.Store,
	rooms *store.Rooms,
	typing *store.Typing,
	archive repository.ArchiveRepository,
	log *zap.Logger,
) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		messages: messages,
		api:      api,
		store:    st,
		rooms:    rooms,
		typing:   typing,
		archive:  archive,
		log:      log,
		open:     make(map[string]struct{}),
	}
}

// SetPresence sets the push channel room subscriptions (optional dependency).
func (s *Session) SetPresence(p RoomPresence) {
	s.presence = p
}

func (s *Session) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Session) Messages() *MessageService {
	return s.messages
}

func (s *Session) Store() *store.Store {
	return s.store
}

func (s *Session) Rooms() *store.Rooms {
	return s.rooms
}

func (s *Session) Typing() *store.Typing {
	return s.typing
}

// Start restores archived history and loads the room list.
func (s *Session) Start(ctx context.Context) error {
	if s.archive != nil {
		codes, err := s.archive.Rooms(ctx)
		if err != nil {
			s.log.Warn("archive_list_failed", zap.Error(err))
		}
		for _, code := range codes {
			msgs, err := s.archive.LoadRoom(ctx, code)
			if err != nil {
				s.log.Warn("archive_load_failed", zap.String("room", code), zap.Error(err))
				continue
			}
			s.store.SetMessages(code, msgs)
		}
		s.log.Info("archive_restored", zap.Int("rooms", len(codes)))
	}

	list, err := s.api.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("listing rooms: %w", err)
	}
	s.rooms.SetRooms(list)
	return nil
}

// OpenRoom makes room the active one, marks it read and loads the newest
// page of history.
func (s *Session) OpenRoom(ctx context.Context, room string) (*HistoryPage, error) {
	s.mu.Lock()
	s.open[room] = struct{}{}
	n := len(s.open)
	s.mu.Unlock()
	s.metrics.OpenRooms(n)

	s.rooms.SetActive(room)
	s.MarkRead(ctx, room)
	if s.presence != nil {
		if err := s.presence.JoinRoom(ctx, room); err != nil {
			s.log.Warn("room_join_failed", zap.String("room", room), zap.Error(err))
		}
	}
	return s.messages.LoadHistory(ctx, room, 1)
}

// CloseRoom stops watching room. Its messages stay in memory so pending
// sends can still complete.
func (s *Session) CloseRoom(ctx context.Context, room string) {
	s.mu.Lock()
	delete(s.open, room)
	n := len(s.open)
	s.mu.Unlock()
	s.metrics.OpenRooms(n)

	if s.rooms.Active() == room {
		s.rooms.SetActive("")
	}
	s.typing.ClearRoom(room)
	if s.presence != nil {
		if err := s.presence.LeaveRoom(ctx, room); err != nil {
			s.log.Warn("room_leave_failed", zap.String("room", room), zap.Error(err))
		}
	}
}

func (s *Session) OpenRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.open))
	for code := range s.open {
		out = append(out, code)
	}
	return out
}

// MarkRead clears the local unread counter and reports the read to the
// server. A failed report is logged only.
func (s *Session) MarkRead(ctx context.Context, room string) {
	s.rooms.MarkRead(room)
	if err := s.api.MarkRead(ctx, room); err != nil {
		s.log.Warn("mark_read_failed", zap.String("room", room), zap.Error(err))
	}
}

// Suspend writes every confirmed message to the archive.
func (s *Session) Suspend(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	var errs []error
	for _, code := range s.store.RoomCodes() {
		var keep []domain.ChatMessage
		for _, m := range s.store.Messages(code) {
			if m.Code != "" && m.State() == domain.StateConfirmed {
				keep = append(keep, m)
			}
		}
		if len(keep) == 0 {
			continue
		}
		if err := s.archive.SaveRoom(ctx, code, keep); err != nil {
			errs = append(errs, fmt.Errorf("archiving %s: %w", code, err))
		}
	}
	return errors.Join(errs...)
}

// Logout drops every cached room, message and typing entry and wipes the
// archive.
func (s *Session) Logout(ctx context.Context) error {
	for _, room := range s.OpenRooms() {
		s.CloseRoom(ctx, room)
	}
	s.store.Reset()
	s.rooms.Reset()
	s.typing.Reset()
	if s.archive != nil {
		if err := s.archive.Clear(ctx); err != nil {
			return fmt.Errorf("clearing archive: %w", err)
		}
	}
	return nil
}
