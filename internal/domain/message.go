package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type MessageType int

const (
	MessageTypeUser   MessageType = 1
	MessageTypeNotify MessageType = 2
	MessageTypeEvent  MessageType = 10
)

// IsSystem reports whether messages of this type are rendered as banners.
func (t MessageType) IsSystem() bool {
	return t == MessageTypeNotify || t == MessageTypeEvent
}

// Flag is an integer boolean as used by the chat backend (0 or 1).
// It decodes from both JSON numbers and JSON booleans.
type Flag int

func FlagOf(b bool) Flag {
	if b {
		return 1
	}
	return 0
}

func (f Flag) On() bool { return f != 0 }

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false":
		*f = 0
		return nil
	case "true":
		*f = 1
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*f = FlagOf(n != 0)
	return nil
}

type ChatMessage struct {
	ID         int64  `json:"id,omitempty"`
	Code       string `json:"code,omitempty"`
	TempID     string `json:"tempId,omitempty"`
	ChatInfoID int64  `json:"chatInfoId,omitempty"`

	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`

	MessageText     string       `json:"messageText"`
	MessageType     MessageType  `json:"messageType"`
	SenderType      int          `json:"senderType"`
	ChatAttachments []Attachment `json:"chatAttachments"`

	ReplyToMessageID   int64         `json:"replyToMessageId,omitempty"`
	ReplyToMessageCode string        `json:"replyToMessageCode,omitempty"`
	ReplyToMessage     *ReplyPreview `json:"replyToMessage,omitempty"`

	IsSend      bool     `json:"isSend,omitempty"`
	IsError     bool     `json:"isError,omitempty"`
	IsEdited    Flag     `json:"isEdited"`
	IsRevoked   Flag     `json:"isRevoked"`
	UserHasRead []Reader `json:"userHasRead,omitempty"`

	CreateDate string `json:"createDate"`
	UpdateDate string `json:"updateDate,omitempty"`
	// TimeStamp is the sort key in microseconds since the Unix epoch.
	TimeStamp int64 `json:"timeStamp,omitempty"`
}

// HasKey reports whether the message can be addressed at all.
func (m *ChatMessage) HasKey() bool {
	return m.Code != "" || m.TempID != "" || m.ID != 0
}

// Key is the display key: the temp id while one exists, so that the key
// stays stable across confirmation, otherwise the server code.
func (m *ChatMessage) Key() string {
	if m.TempID != "" {
		return m.TempID
	}
	if m.Code != "" {
		return m.Code
	}
	if m.ID != 0 {
		return "id:" + strconv.FormatInt(m.ID, 10)
	}
	return ""
}

// SameAs reports whether two records describe the same logical message.
func (m *ChatMessage) SameAs(o *ChatMessage) bool {
	switch {
	case m.Code != "" && m.Code == o.Code:
		return true
	case m.TempID != "" && m.TempID == o.TempID:
		return true
	case m.ID != 0 && m.ID == o.ID:
		return true
	}
	return false
}

func (m *ChatMessage) State() DeliveryState {
	switch {
	case m.IsError:
		return StateFailed
	case m.IsSend:
		return StateConfirmed
	case m.TempID == "" && (m.Code != "" || m.ID != 0):
		// history and push records never carry the local flags
		return StateConfirmed
	default:
		return StatePending
	}
}

func (m *ChatMessage) Kind() MessageKind {
	if m.MessageType.IsSystem() {
		return KindSystem
	}
	if _, ok := ParseSystemEvent(m.MessageText); ok {
		return KindSystem
	}
	if m.MessageText == "" && len(m.ChatAttachments) > 0 {
		return KindAttachment
	}
	return KindText
}

// VisibleText hides the content of revoked messages.
func (m *ChatMessage) VisibleText() string {
	if m.IsRevoked.On() {
		return ""
	}
	return m.MessageText
}

// Clone returns a deep copy so callers never share slices with the store.
func (m ChatMessage) Clone() ChatMessage {
	if m.ChatAttachments != nil {
		m.ChatAttachments = append([]Attachment(nil), m.ChatAttachments...)
	}
	if m.UserHasRead != nil {
		m.UserHasRead = append([]Reader(nil), m.UserHasRead...)
	}
	if m.ReplyToMessage != nil {
		r := *m.ReplyToMessage
		m.ReplyToMessage = &r
	}
	return m
}

// Preview builds the snapshot embedded in messages that reply to m.
func (m *ChatMessage) Preview() *ReplyPreview {
	return &ReplyPreview{
		ID:            m.ID,
		Code:          m.Code,
		UserID:        m.UserID,
		UserName:      m.UserName,
		MessageText:   m.VisibleText(),
		MessageType:   m.MessageType,
		HasAttachment: FlagOf(len(m.ChatAttachments) > 0),
		IsEdited:      m.IsEdited,
		IsRevoked:     m.IsRevoked,
		CreateDate:    m.CreateDate,
	}
}

// ReplyPreview is the quoted snapshot of a replied-to message. It is a weak
// reference: the quoted message is looked up by Code, never owned.
type ReplyPreview struct {
	ID            int64       `json:"id,omitempty"`
	Code          string      `json:"code,omitempty"`
	UserID        int64       `json:"userId"`
	UserName      string      `json:"userName"`
	MessageText   string      `json:"messageText"`
	MessageType   MessageType `json:"messageType"`
	HasAttachment Flag        `json:"hasAttachment"`
	IsEdited      Flag        `json:"isEdited"`
	IsRevoked     Flag        `json:"isRevoked"`
	CreateDate    string      `json:"createDate,omitempty"`
}

type DeliveryState int

const (
	StatePending DeliveryState = iota
	StateConfirmed
	StateFailed
)

func (s DeliveryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s DeliveryState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *DeliveryState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, v := range []DeliveryState{StatePending, StateConfirmed, StateFailed} {
		if v.String() == name {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown delivery state %q", name)
}

type MessageKind int

const (
	KindText MessageKind = iota
	KindAttachment
	KindSystem
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAttachment:
		return "attachment"
	case KindSystem:
		return "system"
	}
	return "unknown"
}

func (k MessageKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, v := range []MessageKind{KindText, KindAttachment, KindSystem} {
		if v.String() == name {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown message kind %q", name)
}
