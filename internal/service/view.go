package service

import (
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/merge"
	"github.com/vedran77/pulsesync/internal/store"
	"go.uber.org/zap"
)

// RoomView is the full render state of one room.
type RoomView struct {
	Room       string              `json:"room"`
	Info       *domain.Room        `json:"roomInfo,omitempty"`
	Sections   []merge.Section     `json:"sections"`
	Typing     []domain.TypingUser `json:"typing"`
	ReplyingTo *domain.ChatMessage `json:"replyingTo,omitempty"`
	Loading    bool                `json:"loading"`
	Count      int                 `json:"count"`
}

type ViewOptions struct {
	GroupingThreshold time.Duration
	SectionGap        time.Duration
	Location          *time.Location
}

// Views renders store state into RoomView snapshots.
type Views struct {
	store  *store.Store
	rooms  *store.Rooms
	typing *store.Typing
	self   domain.Sender
	opts   ViewOptions
	log    *zap.Logger
}

func NewViews(st *store.Store, rooms *store.Rooms, typing *store.Typing, self domain.Sender, opts ViewOptions, log *zap.Logger) *Views {
	if log == nil {
		log = zap.NewNop()
	}
	return &Views{store: st, rooms: rooms, typing: typing, self: self, opts: opts, log: log}
}

func (v *Views) Room(room string) RoomView {
	view := RoomView{
		Room:       room,
		ReplyingTo: v.store.ReplyingTo(room),
		Loading:    v.store.Loading(room),
		Typing:     v.typing.Active(room),
	}
	isGroup := false
	if info, ok := v.rooms.Get(room); ok {
		view.Info = &info
		isGroup = info.IsGroup()
	}

	display := merge.Merge(v.store.Messages(room), merge.Options{
		CurrentUserID:     v.self.UserID,
		IsGroup:           isGroup,
		GroupingThreshold: v.opts.GroupingThreshold,
		Location:          v.opts.Location,
		Logger:            v.log,
	})
	view.Count = len(display)
	view.Sections = merge.GroupByTime(display, v.opts.SectionGap)
	if view.Sections == nil {
		view.Sections = []merge.Section{}
	}
	if view.Typing == nil {
		view.Typing = []domain.TypingUser{}
	}
	return view
}

func (v *Views) Rooms() []domain.Room {
	return v.rooms.List()
}
