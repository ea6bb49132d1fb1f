package domain

// Reader is one entry of a message's read receipts.
type Reader struct {
	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`
	ReadTime   string `json:"readTime"`
}

type TypingUser struct {
	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`
}

// Sender is the identity snapshot copied onto locally created messages.
type Sender struct {
	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`
}
