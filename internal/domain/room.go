package domain

type RoomType int

const (
	RoomUserVsUser RoomType = 10
	RoomUserVsBot  RoomType = 20
	RoomGroup      RoomType = 30
)

// NonFriendMessageCap is the number of messages a user may send to a
// stranger before the peer accepts the friend request.
const NonFriendMessageCap = 3

type Room struct {
	ID          int64        `json:"id"`
	Code        string       `json:"code"`
	Title       string       `json:"title"`
	Avatar      string       `json:"avatarRoomChat,omitempty"`
	Type        RoomType     `json:"type"`
	IsFriend    bool         `json:"isFriend"`
	UnreadCount int          `json:"unreadCount"`
	LastMessage *ChatMessage `json:"lastMessageInfo,omitempty"`
	CreateDate  string       `json:"createDate"`
	UpdateDate  string       `json:"updateDate"`
}

func (r *Room) IsGroup() bool {
	return r.Type == RoomGroup
}

// Capped reports whether sends into this room are subject to the
// non-friend cap.
func (r *Room) Capped() bool {
	return r.Type == RoomUserVsUser && !r.IsFriend
}
