// Package store holds the per-room message lists for the session.
//
// Every operation is total: updates that target a message which is not
// (or no longer) present are no-ops that report false, never errors.
// Callbacks from uploads, sends and the push channel may therefore arrive
// in any order.
package store

import (
	"slices"
	"sort"
	"sync"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
	"github.com/vedran77/pulsesync/internal/metrics"
	"go.uber.org/zap"
)

type Store struct {
	listeners

	mu      sync.RWMutex
	rooms   map[string]*roomState
	log     *zap.Logger
	metrics *metrics.Metrics
}

type roomState struct {
	messages []*domain.ChatMessage
	loading  bool
	replyTo  *domain.ChatMessage
}

func New(log *zap.Logger) *Store {
	return &Store{
		rooms: make(map[string]*roomState),
		log:   log,
	}
}

func (s *Store) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Store) dropUnkeyed(room string) {
	s.log.Warn("store_drop_unkeyed", zap.String("room", room))
	s.metrics.Drop("store")
}

// room returns the state for code, creating it on first access.
// Callers hold the write lock.
func (s *Store) room(code string) *roomState {
	r, ok := s.rooms[code]
	if !ok {
		r = &roomState{}
		s.rooms[code] = r
	}
	return r
}

func (s *Store) mutate(room string, fn func(r *roomState) bool) bool {
	s.mu.Lock()
	changed := fn(s.room(room))
	s.mu.Unlock()
	if changed {
		s.emit(room)
	}
	return changed
}

func (r *roomState) find(match func(*domain.ChatMessage) bool) (int, *domain.ChatMessage) {
	for i, m := range r.messages {
		if match(m) {
			return i, m
		}
	}
	return -1, nil
}

func (r *roomState) findSame(msg *domain.ChatMessage) (int, *domain.ChatMessage) {
	return r.find(msg.SameAs)
}

func (r *roomState) sortByTime() {
	sort.SliceStable(r.messages, func(i, j int) bool {
		return r.messages[i].TimeStamp < r.messages[j].TimeStamp
	})
}

// collapse removes rows other than keep that carry the same server
// identity. This happens when the push echo of one's own message lands
// before the HTTP response for it.
func (r *roomState) collapse(keep *domain.ChatMessage) {
	if keep.Code == "" && keep.ID == 0 {
		return
	}
	r.messages = slices.DeleteFunc(r.messages, func(m *domain.ChatMessage) bool {
		if m == keep {
			return false
		}
		dup := (keep.Code != "" && m.Code == keep.Code) || (keep.ID != 0 && m.ID == keep.ID)
		if dup {
			keep.UserHasRead = unionReaders(keep.UserHasRead, m.UserHasRead)
		}
		return dup
	})
}

func normalize(m *domain.ChatMessage) {
	if m.TimeStamp == 0 {
		m.TimeStamp = ident.Precise(m.CreateDate)
	}
	if m.ChatAttachments == nil {
		return
	}
	seen := make(map[int]bool, len(m.ChatAttachments))
	distinct := true
	for _, a := range m.ChatAttachments {
		if seen[a.OriginalIndex] {
			distinct = false
			break
		}
		seen[a.OriginalIndex] = true
	}
	if !distinct {
		for i := range m.ChatAttachments {
			m.ChatAttachments[i].OriginalIndex = i
		}
	}
	sortAttachments(m.ChatAttachments)
}

func sortAttachments(atts []domain.Attachment) {
	sort.SliceStable(atts, func(i, j int) bool {
		return atts[i].OriginalIndex < atts[j].OriginalIndex
	})
}

// SetMessages replaces a room's list wholesale. Other rooms, the room's
// loading flag and its reply context are left untouched.
func (s *Store) SetMessages(room string, list []domain.ChatMessage) {
	s.mutate(room, func(r *roomState) bool {
		r.messages = r.messages[:0]
		for i := range list {
			m := list[i].Clone()
			if !m.HasKey() {
				s.dropUnkeyed(room)
				continue
			}
			normalize(&m)
			if _, dup := r.findSame(&m); dup != nil {
				continue
			}
			r.messages = append(r.messages, &m)
		}
		r.sortByTime()
		return true
	})
}

// AddMessage inserts one message unless a record with the same temp id,
// code or id already exists. When the existing record is still waiting
// for its server identity and msg carries one, the server fields are
// merged into it in place. It reports whether a new row was created.
func (s *Store) AddMessage(room string, msg domain.ChatMessage) bool {
	m := msg.Clone()
	if !m.HasKey() {
		s.dropUnkeyed(room)
		return false
	}
	normalize(&m)

	inserted := false
	s.mutate(room, func(r *roomState) bool {
		if _, existing := r.findSame(&m); existing != nil {
			return absorbEcho(r, existing, &m)
		}
		r.messages = append(r.messages, &m)
		inserted = true
		return true
	})
	return inserted
}

// AddMessages merges a page of server messages, skipping records that are
// already present, and keeps the room in chronological order.
func (s *Store) AddMessages(room string, list []domain.ChatMessage) int {
	added := 0
	s.mutate(room, func(r *roomState) bool {
		changed := false
		for i := range list {
			m := list[i].Clone()
			if !m.HasKey() {
				s.dropUnkeyed(room)
				continue
			}
			normalize(&m)
			if _, existing := r.findSame(&m); existing != nil {
				if absorbEcho(r, existing, &m) {
					changed = true
				}
				continue
			}
			r.messages = append(r.messages, &m)
			added++
			changed = true
		}
		if changed {
			r.sortByTime()
		}
		return changed
	})
	return added
}

func absorbEcho(r *roomState, existing, incoming *domain.ChatMessage) bool {
	if existing.Code != "" || incoming.Code == "" {
		before := len(existing.UserHasRead)
		existing.UserHasRead = unionReaders(existing.UserHasRead, incoming.UserHasRead)
		return len(existing.UserHasRead) != before
	}
	absorbServer(existing, incoming)
	r.collapse(existing)
	return true
}

// UpdateByTempID applies fn to the message with the given temp id.
// The temp id itself cannot be changed through fn.
func (s *Store) UpdateByTempID(room, tempID string, fn func(*domain.ChatMessage)) bool {
	if tempID == "" {
		return false
	}
	return s.mutate(room, func(r *roomState) bool {
		_, m := r.find(func(m *domain.ChatMessage) bool { return m.TempID == tempID })
		if m == nil {
			return false
		}
		fn(m)
		m.TempID = tempID
		return true
	})
}

// UpdateAttachment applies fn to one attachment slot of a local message,
// addressed by its original index rather than its array position.
func (s *Store) UpdateAttachment(room, tempID string, originalIndex int, fn func(*domain.Attachment)) bool {
	return s.mutate(room, func(r *roomState) bool {
		_, m := r.find(func(m *domain.ChatMessage) bool { return tempID != "" && m.TempID == tempID })
		if m == nil {
			return false
		}
		for i := range m.ChatAttachments {
			a := &m.ChatAttachments[i]
			if a.OriginalIndex == originalIndex {
				fn(a)
				a.OriginalIndex = originalIndex
				return true
			}
		}
		return false
	})
}

// UpdateWithServerResponse reconciles an optimistic message with the
// server's copy. The row keeps its position; only fields change.
// Applying the same response twice leaves the row as it was.
func (s *Store) UpdateWithServerResponse(room, tempID string, server domain.ChatMessage) bool {
	if tempID == "" {
		return false
	}
	srv := server.Clone()
	return s.mutate(room, func(r *roomState) bool {
		_, m := r.find(func(m *domain.ChatMessage) bool { return m.TempID == tempID })
		if m == nil {
			s.log.Debug("store_stale_server_response", zap.String("room", room), zap.String("temp_id", tempID))
			return false
		}
		absorbServer(m, &srv)
		r.collapse(m)
		return true
	})
}

// UpdateByCode applies fn to a confirmed message. Identity and ordering
// fields (id, code, temp id, createDate, timeStamp) are preserved.
func (s *Store) UpdateByCode(room, code string, fn func(*domain.ChatMessage)) bool {
	if code == "" {
		return false
	}
	return s.mutate(room, func(r *roomState) bool {
		_, m := r.find(func(m *domain.ChatMessage) bool { return m.Code == code })
		if m == nil {
			return false
		}
		id, tempID, created, ts := m.ID, m.TempID, m.CreateDate, m.TimeStamp
		fn(m)
		m.ID, m.Code, m.TempID, m.CreateDate, m.TimeStamp = id, code, tempID, created, ts
		return true
	})
}

// UpdateByCodeAndReplies applies fn like UpdateByCode and then refreshes
// the quoted preview inside every message replying to the target.
func (s *Store) UpdateByCodeAndReplies(room, code string, fn func(*domain.ChatMessage)) bool {
	if code == "" {
		return false
	}
	return s.mutate(room, func(r *roomState) bool {
		_, m := r.find(func(m *domain.ChatMessage) bool { return m.Code == code })
		if m == nil {
			return false
		}
		id, tempID, created, ts := m.ID, m.TempID, m.CreateDate, m.TimeStamp
		fn(m)
		m.ID, m.Code, m.TempID, m.CreateDate, m.TimeStamp = id, code, tempID, created, ts
		r.refreshReplies(code, m.Preview())
		return true
	})
}

// UpdateMessageAndReplies applies a pushed edit or revoke to the message
// and to the quoted preview inside every message replying to it. Replies
// are refreshed even when the quoted message itself is not loaded. A
// revoked message, or a revoked quote, is never brought back by a later
// push.
func (s *Store) UpdateMessageAndReplies(room string, updated domain.ChatMessage) bool {
	code := updated.Code
	if code == "" {
		return false
	}
	return s.mutate(room, func(r *roomState) bool {
		preview := updated.Preview()
		_, m := r.find(func(m *domain.ChatMessage) bool { return m.Code == code })
		if m != nil {
			applyRemoteEdit(m, &updated)
			preview = m.Preview()
		}
		refreshed := false
		for _, reply := range r.messages {
			if reply.Code == code || !quotes(reply, code) {
				continue
			}
			p := *preview
			if old := reply.ReplyToMessage; old != nil {
				if old.IsRevoked.On() && !p.IsRevoked.On() {
					continue
				}
				if !p.IsEdited.On() {
					p.IsEdited = old.IsEdited
				}
			}
			reply.ReplyToMessage = &p
			refreshed = true
		}
		return m != nil || refreshed
	})
}

func quotes(m *domain.ChatMessage, code string) bool {
	return m.ReplyToMessageCode == code || (m.ReplyToMessage != nil && m.ReplyToMessage.Code == code)
}

func (r *roomState) refreshReplies(code string, preview *domain.ReplyPreview) bool {
	changed := false
	for _, m := range r.messages {
		if m.Code == code || !quotes(m, code) {
			continue
		}
		p := *preview
		m.ReplyToMessage = &p
		changed = true
	}
	return changed
}

// applyRemoteEdit folds a pushed update into m. Revocation is one way:
// once m is revoked only read receipts are merged.
func applyRemoteEdit(m, src *domain.ChatMessage) {
	m.UserHasRead = unionReaders(m.UserHasRead, src.UserHasRead)
	if m.IsRevoked.On() {
		return
	}
	if src.UpdateDate != "" {
		m.UpdateDate = src.UpdateDate
	}
	if src.IsEdited.On() {
		m.IsEdited = src.IsEdited
	}
	if src.IsRevoked.On() {
		m.IsRevoked = src.IsRevoked
		m.MessageText = ""
		return
	}
	m.MessageText = src.MessageText
}

// RemoveMessage drops the message whose temp id or code equals key.
func (s *Store) RemoveMessage(room, key string) bool {
	if key == "" {
		return false
	}
	return s.mutate(room, func(r *roomState) bool {
		i, _ := r.find(func(m *domain.ChatMessage) bool { return m.TempID == key || m.Code == key })
		if i < 0 {
			return false
		}
		r.messages = slices.Delete(r.messages, i, i+1)
		return true
	})
}

func (s *Store) ClearMessages(room string) {
	s.mutate(room, func(r *roomState) bool {
		r.messages = nil
		return true
	})
}

// Reset drops every room. Used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	s.rooms = make(map[string]*roomState)
	s.mu.Unlock()
	for _, code := range codes {
		s.emit(code)
	}
}

// UpdateReadStatus appends each reader to every confirmed message in the
// room that the reader has not read yet. Messages authored by
// excludeUserID, system messages and a reader's own messages are skipped.
// It returns the number of messages that gained a reader.
func (s *Store) UpdateReadStatus(room string, readers []domain.Reader, excludeUserID int64) int {
	if len(readers) == 0 {
		return 0
	}
	touched := 0
	s.mutate(room, func(r *roomState) bool {
		for _, m := range r.messages {
			if m.UserID == excludeUserID || m.Kind() == domain.KindSystem || m.State() != domain.StateConfirmed {
				continue
			}
			added := false
			for _, rd := range readers {
				if rd.UserID == m.UserID || hasReader(m.UserHasRead, rd.UserID) {
					continue
				}
				m.UserHasRead = append(m.UserHasRead, rd)
				added = true
			}
			if added {
				touched++
			}
		}
		return touched > 0
	})
	return touched
}

func hasReader(list []domain.Reader, userID int64) bool {
	return slices.ContainsFunc(list, func(r domain.Reader) bool { return r.UserID == userID })
}

func unionReaders(dst, src []domain.Reader) []domain.Reader {
	for _, r := range src {
		if !hasReader(dst, r.UserID) {
			dst = append(dst, r)
		}
	}
	return dst
}

func (s *Store) SetLoading(room string, loading bool) {
	s.mutate(room, func(r *roomState) bool {
		if r.loading == loading {
			return false
		}
		r.loading = loading
		return true
	})
}

func (s *Store) Loading(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	return ok && r.loading
}

// SetReplyingTo sets the compose context for the next send. A nil msg
// clears it.
func (s *Store) SetReplyingTo(room string, msg *domain.ChatMessage) {
	var cp *domain.ChatMessage
	if msg != nil {
		c := msg.Clone()
		cp = &c
	}
	s.mutate(room, func(r *roomState) bool {
		r.replyTo = cp
		return true
	})
}

func (s *Store) ClearReplyingTo(room string) {
	s.SetReplyingTo(room, nil)
}

func (s *Store) ReplyingTo(room string) *domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok || r.replyTo == nil {
		return nil
	}
	c := r.replyTo.Clone()
	return &c
}

// TakeReplyingTo returns the compose context and clears it in one step.
func (s *Store) TakeReplyingTo(room string) *domain.ChatMessage {
	var out *domain.ChatMessage
	s.mutate(room, func(r *roomState) bool {
		out, r.replyTo = r.replyTo, nil
		return out != nil
	})
	return out
}

// Messages returns a copy of the room's list in storage order.
func (s *Store) Messages(room string) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok {
		return nil
	}
	out := make([]domain.ChatMessage, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get finds a message by temp id or code.
func (s *Store) Get(room, key string) (domain.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok || key == "" {
		return domain.ChatMessage{}, false
	}
	_, m := r.find(func(m *domain.ChatMessage) bool { return m.TempID == key || m.Code == key })
	if m == nil {
		return domain.ChatMessage{}, false
	}
	return m.Clone(), true
}

func (s *Store) LastMessage(room string) (domain.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok || len(r.messages) == 0 {
		return domain.ChatMessage{}, false
	}
	last := r.messages[0]
	for _, m := range r.messages[1:] {
		if m.TimeStamp >= last.TimeStamp {
			last = m
		}
	}
	return last.Clone(), true
}

// CountSentBy counts user messages authored by userID that did not fail.
func (s *Store) CountSentBy(room string, userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range r.messages {
		if m.UserID == userID && m.Kind() != domain.KindSystem && m.State() != domain.StateFailed {
			n++
		}
	}
	return n
}

// RoomCodes lists every room the session has touched.
func (s *Store) RoomCodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}
