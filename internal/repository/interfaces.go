package repository

import (
	"context"
	"io"

	"github.com/vedran77/pulsesync/internal/domain"
)

// MessageAPI is the chat backend's message endpoint set.
type MessageAPI interface {
	Send(ctx context.Context, req SendRequest) (*domain.ChatMessage, error)
	Edit(ctx context.Context, req EditRequest) (*domain.ChatMessage, error)
	Revoke(ctx context.Context, req RevokeRequest) error
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
	MarkRead(ctx context.Context, roomCode string) error
	ListRooms(ctx context.Context) ([]domain.Room, error)
}

// UploadAPI stores one file per call and returns the server-side names.
type UploadAPI interface {
	Upload(ctx context.Context, file UploadFile, progress func(pct int)) ([]UploadedFile, error)
}

// ArchiveRepository persists confirmed room history between sessions.
type ArchiveRepository interface {
	SaveRoom(ctx context.Context, room string, msgs []domain.ChatMessage) error
	LoadRoom(ctx context.Context, room string) ([]domain.ChatMessage, error)
	Rooms(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

type FileRef struct {
	Name string `json:"name"`
}

type SendRequest struct {
	ChatCode           string    `json:"chatCode"`
	MessageText        string    `json:"messageText"`
	Files              []FileRef `json:"files,omitempty"`
	ReplyToMessageCode string    `json:"replyToMessageCode,omitempty"`
	TempID             string    `json:"tempId"`
}

type EditRequest struct {
	MessageCode string `json:"messageCode"`
	MessageText string `json:"messageText"`
}

type RevokeRequest struct {
	MessageCode string `json:"messageCode"`
}

type PageRequest struct {
	ChatCode   string
	PageNumber int
	PageSize   int
}

// Page is one page of history, newest message first.
type Page struct {
	Data     []domain.ChatMessage `json:"data"`
	NextPage bool                 `json:"nextPage"`
}

type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type UploadedFile struct {
	Name      string `json:"name"`
	LinkImage string `json:"linkImage"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}
