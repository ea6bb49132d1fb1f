// Package merge turns a room's raw message list into the ordered,
// de-duplicated and annotated sequence the UI renders.
package merge

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
	"go.uber.org/zap"
)

// translateWindow is how many of the newest event messages are offered
// for translation.
const translateWindow = 5

// DefaultGroupingThreshold is the largest gap between two messages of the
// same sender that still renders them as one visual run.
const DefaultGroupingThreshold = 5 * time.Minute

type Options struct {
	CurrentUserID     int64
	IsGroup           bool
	GroupingThreshold time.Duration
	Location          *time.Location
	Logger            *zap.Logger
}

type DisplayMessage struct {
	domain.ChatMessage

	Key               string               `json:"key"`
	Kind              domain.MessageKind   `json:"kind"`
	State             domain.DeliveryState `json:"state"`
	Event             *domain.SystemEvent  `json:"event,omitempty"`
	IsRight           bool                 `json:"isRight"`
	ShouldShowAvatar  bool                 `json:"shouldShowAvatar"`
	IsFirstInSequence bool                 `json:"isFirstInSequence"`
	ShowSenderName    bool                 `json:"showSenderName"`
	TranslateNeed     bool                 `json:"translateNeed"`
	DisplayTime       string               `json:"displayTime"`
}

func (o Options) threshold() time.Duration {
	if o.GroupingThreshold > 0 {
		return o.GroupingThreshold
	}
	return DefaultGroupingThreshold
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.Local
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Merge is re-run on every store change. Empty input yields an empty,
// non-nil result.
func Merge(raw []domain.ChatMessage, opts Options) []DisplayMessage {
	records := dedupe(raw, opts.logger())
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TimeStamp < records[j].TimeStamp
	})
	return annotate(records, opts)
}

// dedupe collapses records that share a code, temp id or server id.
// The record carrying the server identity wins; the local temp id and
// timestamp are carried over so the row keeps its place. A record that
// links two earlier rows (one known by temp id, one by code) folds both
// into one.
func dedupe(raw []domain.ChatMessage, log *zap.Logger) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(raw))
	gone := make([]bool, 0, len(raw))
	byCode := make(map[string]int)
	byTemp := make(map[string]int)
	byID := make(map[int64]int)

	register := func(m *domain.ChatMessage, at int) {
		if m.Code != "" {
			byCode[m.Code] = at
		}
		if m.TempID != "" {
			byTemp[m.TempID] = at
		}
		if m.ID != 0 {
			byID[m.ID] = at
		}
	}
	lookup := func(m *domain.ChatMessage) []int {
		var hits []int
		add := func(i int, ok bool) {
			if ok && !slices.Contains(hits, i) {
				hits = append(hits, i)
			}
		}
		if m.Code != "" {
			i, ok := byCode[m.Code]
			add(i, ok)
		}
		if m.TempID != "" {
			i, ok := byTemp[m.TempID]
			add(i, ok)
		}
		if m.ID != 0 {
			i, ok := byID[m.ID]
			add(i, ok)
		}
		slices.Sort(hits)
		return hits
	}

	for i := range raw {
		m := raw[i].Clone()
		if m.Code == "" && m.TempID == "" {
			log.Warn("merge_drop_unkeyed",
				zap.Int64("id", m.ID),
				zap.Int64("user_id", m.UserID),
				zap.String("create_date", m.CreateDate))
			continue
		}
		if m.TimeStamp == 0 {
			m.TimeStamp = ident.Precise(m.CreateDate)
		}

		hits := lookup(&m)
		if len(hits) == 0 {
			out = append(out, m)
			gone = append(gone, false)
			register(&out[len(out)-1], len(out)-1)
			continue
		}
		at := hits[0]
		merged := combine(out[at], m)
		for _, j := range hits[1:] {
			merged = combine(merged, out[j])
			gone[j] = true
			register(&out[j], at)
		}
		out[at] = merged
		register(&out[at], at)
	}

	kept := out[:0]
	for i := range out {
		if !gone[i] {
			kept = append(kept, out[i])
		}
	}
	return kept
}

func combine(a, b domain.ChatMessage) domain.ChatMessage {
	base, other := a, b
	if authority(other) > authority(base) {
		base, other = other, base
	}
	if other.TempID != "" && base.TempID == "" {
		base.TempID = other.TempID
		if other.TimeStamp != 0 {
			base.TimeStamp = other.TimeStamp
		}
	}
	if len(base.ChatAttachments) == 0 && len(other.ChatAttachments) > 0 {
		base.ChatAttachments = other.ChatAttachments
	}
	for _, r := range other.UserHasRead {
		seen := false
		for _, have := range base.UserHasRead {
			if have.UserID == r.UserID {
				seen = true
				break
			}
		}
		if !seen {
			base.UserHasRead = append(base.UserHasRead, r)
		}
	}
	if base.Code != "" {
		base.IsSend = true
		base.IsError = false
	}
	return base
}

// authority ranks records: a pure server record beats a reconciled local
// one, which beats a record still waiting for its code.
func authority(m domain.ChatMessage) int {
	switch {
	case m.Code != "" && m.TempID == "":
		return 2
	case m.Code != "":
		return 1
	}
	return 0
}

func annotate(records []domain.ChatMessage, opts Options) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(records))
	gap := opts.threshold().Microseconds()
	loc := opts.location()

	translate := translateSet(records)

	var prevSender string
	var prevTS int64
	for i, m := range records {
		d := DisplayMessage{
			ChatMessage: m,
			Key:         m.Key(),
			Kind:        m.Kind(),
			State:       m.State(),
		}
		if m.TimeStamp != 0 {
			d.DisplayTime = ident.FromMicro(m.TimeStamp).In(loc).Format("15:04")
		}

		sender := senderKey(&d)
		breaks := i == 0 || sender != prevSender || m.TimeStamp-prevTS > gap
		prevSender, prevTS = sender, m.TimeStamp

		switch d.Kind {
		case domain.KindSystem:
			d.Event, _ = domain.ParseSystemEvent(m.MessageText)
		default:
			d.IsRight = m.UserID == opts.CurrentUserID
			d.IsFirstInSequence = breaks
			d.ShouldShowAvatar = breaks
			d.ShowSenderName = opts.IsGroup && breaks && !d.IsRight
		}
		d.TranslateNeed = translate[i]
		if m.IsRevoked.On() {
			d.MessageText = ""
			d.ChatAttachments = nil
		}
		out = append(out, d)
	}
	return out
}

// translateSet marks the newest event messages that carry text. Rows
// with server id 0 or 1 are placeholders and never qualify.
func translateSet(records []domain.ChatMessage) map[int]bool {
	set := make(map[int]bool, translateWindow)
	for i := len(records) - 1; i >= 0 && len(set) < translateWindow; i-- {
		m := &records[i]
		if m.MessageType != domain.MessageTypeEvent || m.ID == 0 || m.ID == 1 {
			continue
		}
		if strings.TrimSpace(m.VisibleText()) == "" {
			continue
		}
		set[i] = true
	}
	return set
}

// senderKey identifies a visual run. System messages never join one.
func senderKey(d *DisplayMessage) string {
	if d.Kind == domain.KindSystem {
		return "system:" + d.Key
	}
	return strconv.FormatInt(d.UserID, 10)
}
