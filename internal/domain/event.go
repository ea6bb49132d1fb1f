package domain

import (
	"encoding/json"
	"strings"
)

// SystemEnvelopeKey marks messageText payloads that are system events.
const SystemEnvelopeKey = "PMO4qwZv2RtLeWfIClE9Ec7HuV772oJlM1F967Xtudi9XEX8rZ"

type SystemEventType int

const (
	EventGroupCreated   SystemEventType = 10
	EventMemberKicked   SystemEventType = 20
	EventMemberAdded    SystemEventType = 30
	EventMemberLeft     SystemEventType = 40
	EventGroupRenamed   SystemEventType = 50
	EventAvatarChanged  SystemEventType = 60
	EventAdminLeft      SystemEventType = 70
	EventAdminChanged   SystemEventType = 80
	EventFriendAccepted SystemEventType = 90
)

var eventNames = map[SystemEventType]string{
	EventGroupCreated:   "group_created",
	EventMemberKicked:   "member_kicked",
	EventMemberAdded:    "member_added",
	EventMemberLeft:     "member_left",
	EventGroupRenamed:   "group_renamed",
	EventAvatarChanged:  "avatar_changed",
	EventAdminLeft:      "admin_left",
	EventAdminChanged:   "admin_changed",
	EventFriendAccepted: "friend_accepted",
}

func (t SystemEventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// SystemEvent is the decoded envelope carried in a system message's text.
// Data stays raw: rendering is up to the UI layer.
type SystemEvent struct {
	Key   string          `json:"Key,omitempty"`
	Event SystemEventType `json:"Event"`
	Data  json.RawMessage `json:"Data,omitempty"`
}

// ParseSystemEvent recognizes the JSON envelope. Plain user text that
// happens to be JSON is not an envelope unless it carries the marker key
// or a known event type.
func ParseSystemEvent(text string) (*SystemEvent, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '{' {
		return nil, false
	}
	var ev SystemEvent
	if err := json.Unmarshal([]byte(text), &ev); err != nil {
		return nil, false
	}
	if ev.Key == SystemEnvelopeKey {
		return &ev, true
	}
	if ev.Key == "" {
		if _, known := eventNames[ev.Event]; known {
			return &ev, true
		}
	}
	return nil, false
}
