package service

import (
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// LocalAttachment describes a file on this machine. The file is opened
// only when an upload starts, once per attempt.
func LocalAttachment(path, contentType string) (AttachmentInput, error) {
	if path == "" {
		return AttachmentInput{}, errors.New("attachment path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return AttachmentInput{}, err
	}
	if info.IsDir() {
		return AttachmentInput{}, errors.New(path + " is a directory")
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return AttachmentInput{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		LocalURL:    "file://" + path,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
