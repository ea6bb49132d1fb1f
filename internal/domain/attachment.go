package domain

import (
	"path/filepath"
	"strings"
)

type FileType int

const (
	FileTypeImage FileType = 10
	FileTypeOther FileType = 20
	FileTypeVideo FileType = 30
)

// MaxImageSize is the largest image accepted for upload.
const MaxImageSize = 15 << 20

type Attachment struct {
	ID             int64    `json:"id,omitempty"`
	FileURL        string   `json:"fileUrl"`
	FileName       string   `json:"fileName"`
	FileType       FileType `json:"fileType"`
	FileSize       int64    `json:"fileSize"`
	ServerName     string   `json:"serverName,omitempty"`
	IsUploading    bool     `json:"isUploading,omitempty"`
	IsSending      bool     `json:"isSending,omitempty"`
	IsError        bool     `json:"isError,omitempty"`
	UploadProgress int      `json:"uploadProgress,omitempty"`
	OriginalIndex  int      `json:"originalIndex"`
}

// Uploaded reports whether the attachment already has a server-side file.
func (a *Attachment) Uploaded() bool {
	return a.ServerName != "" && !a.IsUploading && !a.IsError
}

// SetProgress advances upload progress. Progress never moves backwards and
// is frozen once the attachment reached a terminal state.
func (a *Attachment) SetProgress(pct int) {
	if !a.IsUploading || a.IsError {
		return
	}
	pct = min(max(pct, 0), 100)
	if pct > a.UploadProgress {
		a.UploadProgress = pct
	}
}

var (
	imageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true}
	videoExt = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".m4v": true}
)

// FileTypeOf classifies a file by content type, falling back to its name.
func FileTypeOf(name, contentType string) FileType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return FileTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return FileTypeVideo
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageExt[ext]:
		return FileTypeImage
	case videoExt[ext]:
		return FileTypeVideo
	}
	return FileTypeOther
}
