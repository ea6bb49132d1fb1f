package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
	"github.com/vedran77/pulsesync/internal/repository"
	"github.com/vedran77/pulsesync/pkg/validator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errEmptyUpload = errors.New("upload returned no files")

// AttachmentInput is one file picked in the composer. Open is called once
// per upload attempt, so a retry can read the file again.
type AttachmentInput struct {
	Name        string
	ContentType string
	Size        int64
	LocalURL    string
	Open        func() (io.ReadCloser, error)
}

type SendInput struct {
	Text        string
	Attachments []AttachmentInput
	// ReplyTo overrides the room's replying-to context when set.
	ReplyTo *domain.ChatMessage
}

// SendResult lists the temp ids of the messages created, text first.
type SendResult struct {
	TempIDs []string `json:"tempIds"`
}

// Send turns a compose action into optimistic messages and delivers them.
// Text and files become two independent messages with their own temp ids.
// The returned error only covers rejected input; delivery failures are
// recorded on the messages themselves.
func (s *MessageService) Send(ctx context.Context, room string, in SendInput) (*SendResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return nil, ErrNothingToSend
	}
	if errs := validator.ValidateSend(text, len(in.Attachments), s.limits.MaxAttachments); errs.HasErrors() {
		if msg, ok := errs["attachments"]; ok {
			s.notify(room, NoticeWarn, msg)
			return nil, ErrTooManyAttachments
		}
		s.notify(room, NoticeWarn, errs.Error())
		return nil, errs
	}

	files := s.acceptFiles(room, in.Attachments)
	if text == "" && len(files) == 0 {
		return nil, ErrNothingToSend
	}
	if s.limitReached(room) {
		s.notify(room, NoticeWarn, fmt.Sprintf("You can send up to %d messages until your friend request is accepted", s.limits.NonFriendCap))
		s.metrics.Send("rejected")
		return nil, ErrMessageLimitReached
	}

	reply := in.ReplyTo
	if taken := s.store.TakeReplyingTo(room); reply == nil {
		reply = taken
	}

	n := 0
	if text != "" {
		n++
	}
	if len(files) > 0 {
		n++
	}
	stamps := s.clock.Batch(n)
	created := ident.FormatDate(s.clock.Now())

	var pending []domain.ChatMessage
	if text != "" {
		m := s.newMessage(stamps[len(pending)], created)
		m.MessageText = text
		withReply(&m, reply)
		pending = append(pending, m)
	}
	if len(files) > 0 {
		m := s.newMessage(stamps[len(pending)], created)
		m.ChatAttachments = make([]domain.Attachment, len(files))
		for i, f := range files {
			m.ChatAttachments[i] = domain.Attachment{
				FileURL:       f.LocalURL,
				FileName:      f.Name,
				FileType:      domain.FileTypeOf(f.Name, f.ContentType),
				FileSize:      f.Size,
				IsUploading:   true,
				OriginalIndex: i,
			}
		}
		// the file half only quotes when there is no text half to carry it
		if text == "" {
			withReply(&m, reply)
		}
		s.keepSources(m.TempID, files)
		pending = append(pending, m)
	}

	res := &SendResult{}
	for _, m := range pending {
		s.store.AddMessage(room, m)
		res.TempIDs = append(res.TempIDs, m.TempID)
	}
	if s.typing != nil {
		s.typing.StopTyping(room)
	}

	bg := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, m := range pending {
		g.Go(func() error {
			s.deliverPending(bg, room, m.TempID)
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

// Retry sends a failed message again. Attachments that already reached
// the server are not uploaded a second time.
func (s *MessageService) Retry(ctx context.Context, room, tempID string) error {
	msg, ok := s.store.Get(room, tempID)
	if !ok || msg.TempID != tempID {
		return ErrMessageNotFound
	}
	if msg.State() != domain.StateFailed {
		return ErrNotRetryable
	}
	if _, ok := s.sourcesFor(tempID); !ok {
		for _, a := range msg.ChatAttachments {
			if !a.Uploaded() {
				return ErrNotRetryable
			}
		}
	}

	s.store.UpdateByTempID(room, tempID, func(m *domain.ChatMessage) {
		m.IsError = false
		m.IsSend = false
		for i := range m.ChatAttachments {
			a := &m.ChatAttachments[i]
			if !a.Uploaded() {
				a.IsError = false
				a.IsUploading = true
				a.UploadProgress = 0
			}
		}
	})
	s.deliverPending(context.WithoutCancel(ctx), room, tempID)
	return nil
}

func (s *MessageService) newMessage(ts int64, created string) domain.ChatMessage {
	return domain.ChatMessage{
		TempID:      ident.NewTempID(),
		UserID:      s.sender.UserID,
		UserName:    s.sender.UserName,
		UserAvatar:  s.sender.UserAvatar,
		MessageType: domain.MessageTypeUser,
		CreateDate:  created,
		TimeStamp:   ts,
	}
}

func withReply(m *domain.ChatMessage, reply *domain.ChatMessage) {
	if reply == nil || reply.Code == "" {
		return
	}
	m.ReplyToMessageID = reply.ID
	m.ReplyToMessageCode = reply.Code
	m.ReplyToMessage = reply.Preview()
}

// acceptFiles drops images over the size limit with a notice.
func (s *MessageService) acceptFiles(room string, in []AttachmentInput) []AttachmentInput {
	out := make([]AttachmentInput, 0, len(in))
	for _, f := range in {
		if s.limits.MaxImageSize > 0 && f.Size > s.limits.MaxImageSize &&
			domain.FileTypeOf(f.Name, f.ContentType) == domain.FileTypeImage {
			s.notify(room, NoticeWarn, fmt.Sprintf("%s is larger than %s and was skipped",
				f.Name, humanize.IBytes(uint64(s.limits.MaxImageSize))))
			continue
		}
		out = append(out, f)
	}
	return out
}

// limitReached applies the non-friend cap to one-to-one rooms.
func (s *MessageService) limitReached(room string) bool {
	if s.rooms == nil || s.limits.NonFriendCap <= 0 {
		return false
	}
	r, ok := s.rooms.Get(room)
	if !ok || !r.Capped() {
		return false
	}
	return s.store.CountSentBy(room, s.sender.UserID) >= s.limits.NonFriendCap
}

// deliverPending uploads whatever the message still needs and then calls
// the send endpoint. Failures are recorded on the message.
func (s *MessageService) deliverPending(ctx context.Context, room, tempID string) {
	msg, ok := s.store.Get(room, tempID)
	if !ok {
		return
	}
	if len(msg.ChatAttachments) > 0 {
		if err := s.uploadAll(ctx, room, msg); err != nil {
			s.log.Warn("upload_failed", zap.String("room", room), zap.String("temp_id", tempID), zap.Error(err))
			s.fail(room, tempID, "Some files could not be uploaded")
			s.metrics.Send("error")
			return
		}
	}
	s.deliver(ctx, room, tempID)
}

func (s *MessageService) uploadAll(ctx context.Context, room string, msg domain.ChatMessage) error {
	files, _ := s.sourcesFor(msg.TempID)

	var g errgroup.Group
	if s.limits.UploadConcurrency > 0 {
		g.SetLimit(s.limits.UploadConcurrency)
	}
	for _, a := range msg.ChatAttachments {
		if a.Uploaded() {
			continue
		}
		idx := a.OriginalIndex
		if idx < 0 || idx >= len(files) {
			s.markAttachmentFailed(room, msg.TempID, idx)
			return fmt.Errorf("attachment %d: %w", idx, ErrNotRetryable)
		}
		f := files[idx]
		g.Go(func() error {
			return s.uploadOne(ctx, room, msg.TempID, idx, f)
		})
	}
	return g.Wait()
}

func (s *MessageService) uploadOne(ctx context.Context, room, tempID string, idx int, f AttachmentInput) error {
	if f.Open == nil {
		s.markAttachmentFailed(room, tempID, idx)
		return fmt.Errorf("uploading %s: no source", f.Name)
	}
	body, err := f.Open()
	if err != nil {
		s.markAttachmentFailed(room, tempID, idx)
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer body.Close()

	res, err := s.uploader.Upload(ctx, repository.UploadFile{
		Name:        f.Name,
		ContentType: f.ContentType,
		Size:        f.Size,
		Body:        body,
	}, func(pct int) {
		s.store.UpdateAttachment(room, tempID, idx, func(a *domain.Attachment) { a.SetProgress(pct) })
	})
	if err == nil && len(res) == 0 {
		err = errEmptyUpload
	}
	if err != nil {
		s.markAttachmentFailed(room, tempID, idx)
		s.metrics.Upload("error")
		return fmt.Errorf("uploading %s: %w", f.Name, err)
	}

	uploaded := res[0]
	s.store.UpdateAttachment(room, tempID, idx, func(a *domain.Attachment) {
		a.SetProgress(100)
		a.IsUploading = false
		a.IsError = false
		a.ServerName = uploaded.Name
		if uploaded.LinkImage != "" {
			a.FileURL = uploaded.LinkImage
		}
	})
	s.metrics.Upload("ok")
	return nil
}

func (s *MessageService) markAttachmentFailed(room, tempID string, idx int) {
	s.store.UpdateAttachment(room, tempID, idx, func(a *domain.Attachment) {
		a.IsUploading = false
		a.IsError = true
	})
}

func (s *MessageService) deliver(ctx context.Context, room, tempID string) {
	msg, ok := s.store.Get(room, tempID)
	if !ok {
		return
	}

	req := repository.SendRequest{
		ChatCode:           room,
		MessageText:        msg.MessageText,
		ReplyToMessageCode: msg.ReplyToMessageCode,
		TempID:             tempID,
	}
	atts := slices.Clone(msg.ChatAttachments)
	slices.SortStableFunc(atts, func(a, b domain.Attachment) int { return a.OriginalIndex - b.OriginalIndex })
	for _, a := range atts {
		req.Files = append(req.Files, repository.FileRef{Name: a.ServerName})
	}

	s.store.UpdateByTempID(room, tempID, func(m *domain.ChatMessage) {
		for i := range m.ChatAttachments {
			m.ChatAttachments[i].IsSending = true
		}
	})

	server, err := s.api.Send(ctx, req)
	if err == nil && server == nil {
		err = errors.New("empty send response")
	}
	if err != nil {
		s.log.Warn("send_failed", zap.String("room", room), zap.String("temp_id", tempID), zap.Error(err))
		s.fail(room, tempID, "Message could not be sent")
		s.metrics.Send("error")
		return
	}

	s.store.UpdateWithServerResponse(room, tempID, *server)
	if len(server.UserHasRead) > 0 {
		s.store.UpdateReadStatus(room, server.UserHasRead, 0)
	}
	if confirmed, ok := s.store.Get(room, tempID); ok && s.rooms != nil {
		s.rooms.UpdateFromMessage(room, confirmed, s.sender.UserID)
	}
	s.forgetSources(tempID)
	s.metrics.Send("ok")
	s.log.Debug("message_sent", zap.String("room", room), zap.String("temp_id", tempID), zap.String("code", server.Code))
}

// fail marks the message failed. Attachments that were uploaded keep
// their server file so a retry only repeats the send call.
func (s *MessageService) fail(room, tempID, notice string) {
	s.store.UpdateByTempID(room, tempID, func(m *domain.ChatMessage) {
		m.IsError = true
		m.IsSend = false
		for i := range m.ChatAttachments {
			a := &m.ChatAttachments[i]
			a.IsSending = false
			if a.IsUploading {
				a.IsUploading = false
				a.IsError = true
			}
		}
	})
	s.notify(room, NoticeError, notice)
}
