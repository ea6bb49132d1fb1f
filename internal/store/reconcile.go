package store

import (
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
)

// absorbServer merges server-confirmed fields of src into the optimistic
// record dst. The local timeStamp is kept so that the relative order of
// messages sent from this client does not depend on which request the
// server handled first.
func absorbServer(dst, src *domain.ChatMessage) {
	if src.ID != 0 {
		dst.ID = src.ID
	}
	if src.Code != "" {
		dst.Code = src.Code
	}
	if src.ChatInfoID != 0 {
		dst.ChatInfoID = src.ChatInfoID
	}
	if src.UserID != 0 {
		dst.UserID = src.UserID
	}
	if src.UserName != "" {
		dst.UserName = src.UserName
	}
	if src.UserAvatar != "" {
		dst.UserAvatar = src.UserAvatar
	}
	if src.MessageText != "" {
		dst.MessageText = src.MessageText
	}
	if src.MessageType != 0 {
		dst.MessageType = src.MessageType
	}
	if src.SenderType != 0 {
		dst.SenderType = src.SenderType
	}
	if src.ReplyToMessageID != 0 {
		dst.ReplyToMessageID = src.ReplyToMessageID
	}
	if src.ReplyToMessageCode != "" {
		dst.ReplyToMessageCode = src.ReplyToMessageCode
	}
	if src.ReplyToMessage != nil {
		p := *src.ReplyToMessage
		dst.ReplyToMessage = &p
	}
	if src.IsEdited.On() {
		dst.IsEdited = src.IsEdited
	}
	if src.IsRevoked.On() {
		dst.IsRevoked = src.IsRevoked
		dst.MessageText = ""
	}
	if src.CreateDate != "" {
		dst.CreateDate = src.CreateDate
	}
	if src.UpdateDate != "" {
		dst.UpdateDate = src.UpdateDate
	}
	if dst.TimeStamp == 0 {
		dst.TimeStamp = ident.Precise(dst.CreateDate)
	}
	dst.ChatAttachments = mergeAttachments(dst.ChatAttachments, src.ChatAttachments)
	dst.UserHasRead = unionReaders(dst.UserHasRead, src.UserHasRead)
	dst.IsSend = true
	dst.IsError = false
}

// mergeAttachments pairs the server's attachment list with the local
// slots in original-index order. Server URLs replace local references;
// the local original index is kept.
func mergeAttachments(local, server []domain.Attachment) []domain.Attachment {
	sortAttachments(local)
	if len(server) == 0 {
		for i := range local {
			settle(&local[i])
		}
		return local
	}

	out := make([]domain.Attachment, 0, max(len(local), len(server)))
	for i, s := range server {
		if i >= len(local) {
			s.OriginalIndex = i
			settle(&s)
			out = append(out, s)
			continue
		}
		a := local[i]
		a.ID = s.ID
		if s.FileURL != "" {
			a.FileURL = s.FileURL
		}
		if s.FileName != "" {
			a.FileName = s.FileName
		}
		if s.FileType != 0 {
			a.FileType = s.FileType
		}
		if s.FileSize != 0 {
			a.FileSize = s.FileSize
		}
		settle(&a)
		out = append(out, a)
	}
	return out
}

func settle(a *domain.Attachment) {
	if a.IsUploading {
		a.UploadProgress = 100
	}
	a.IsUploading = false
	a.IsSending = false
	a.IsError = false
}
