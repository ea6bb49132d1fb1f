package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/repository"
	"go.uber.org/zap"
)

// HistoryPage reports what one page fetch added to the room.
type HistoryPage struct {
	Page     int  `json:"page"`
	Added    int  `json:"added"`
	NextPage bool `json:"nextPage"`
}

// LoadHistory fetches page (1-based, newest first) and merges it into the
// room. Concurrent requests for the same page share one fetch.
func (s *MessageService) LoadHistory(ctx context.Context, room string, page int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	key := room + ":" + strconv.Itoa(page)
	v, err, _ := s.pages.Do(key, func() (any, error) {
		return s.fetchPage(ctx, room, page)
	})
	if err != nil {
		return nil, err
	}
	return v.(*HistoryPage), nil
}

func (s *MessageService) fetchPage(ctx context.Context, room string, page int) (*HistoryPage, error) {
	s.store.SetLoading(room, true)
	defer s.store.SetLoading(room, false)

	size := s.limits.PageSize
	if size <= 0 {
		size = DefaultLimits().PageSize
	}
	res, err := s.api.FetchPage(ctx, repository.PageRequest{ChatCode: room, PageNumber: page, PageSize: size})
	if err != nil {
		s.metrics.Page("error")
		s.log.Warn("history_fetch_failed", zap.String("room", room), zap.Int("page", page), zap.Error(err))
		return nil, fmt.Errorf("fetching page %d of %s: %w", page, room, err)
	}

	// pages arrive newest first; the store keeps oldest first
	msgs := slices.Clone(res.Data)
	slices.Reverse(msgs)
	added := s.store.AddMessages(room, msgs)
	s.metrics.Page("ok")

	if page == 1 && s.rooms != nil && len(msgs) > 0 {
		r, known := s.rooms.Get(room)
		if last, ok := s.store.LastMessage(room); known && ok && last.State() == domain.StateConfirmed {
			r.LastMessage = &last
			s.rooms.Upsert(r)
		}
	}
	return &HistoryPage{Page: page, Added: added, NextPage: res.NextPage}, nil
}
