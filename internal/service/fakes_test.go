package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
	"github.com/vedran77/pulsesync/internal/repository"
	"github.com/vedran77/pulsesync/internal/store"
	"go.uber.org/zap"
)

var errBackend = errors.New("backend unavailable")

type fakeAPI struct {
	mu      sync.Mutex
	sends   []repository.SendRequest
	edits   []repository.EditRequest
	revokes []repository.RevokeRequest
	pages   []repository.PageRequest
	reads   []string

	sendErr   error
	editErr   error
	revokeErr error
	pageErr   error
	seq       int64
	history   map[int]*repository.Page
	rooms     []domain.Room
	onSend    func(repository.SendRequest)
	readers   []domain.Reader
}

func (f *fakeAPI) Send(_ context.Context, req repository.SendRequest) (*domain.ChatMessage, error) {
	if f.onSend != nil {
		f.onSend(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.seq++
	msg := &domain.ChatMessage{
		ID:          f.seq,
		Code:        "srv-" + req.TempID,
		MessageText: req.MessageText,
		CreateDate:  "2025-06-24T13:37:13.061194",
		UserHasRead: f.readers,
	}
	for i, file := range req.Files {
		msg.ChatAttachments = append(msg.ChatAttachments, domain.Attachment{
			ID:      int64(i + 1),
			FileURL: "https://cdn.example/" + file.Name,
		})
	}
	return msg, nil
}

func (f *fakeAPI) Edit(_ context.Context, req repository.EditRequest) (*domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, req)
	if f.editErr != nil {
		return nil, f.editErr
	}
	return &domain.ChatMessage{Code: req.MessageCode, MessageText: req.MessageText, IsEdited: 1}, nil
}

func (f *fakeAPI) Revoke(_ context.Context, req repository.RevokeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes = append(f.revokes, req)
	return f.revokeErr
}

func (f *fakeAPI) FetchPage(_ context.Context, req repository.PageRequest) (*repository.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, req)
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	if p, ok := f.history[req.PageNumber]; ok {
		return p, nil
	}
	return &repository.Page{}, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, room)
	return nil
}

func (f *fakeAPI) ListRooms(context.Context) ([]domain.Room, error) {
	return f.rooms, nil
}

func (f *fakeAPI) sent() []repository.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.SendRequest(nil), f.sends...)
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	// delay per file name, used to force completion order
	delay map[string]time.Duration
}

func (u *fakeUploader) Upload(_ context.Context, file repository.UploadFile, progress func(int)) ([]repository.UploadedFile, error) {
	if d := u.delay[file.Name]; d > 0 {
		time.Sleep(d)
	}
	u.mu.Lock()
	u.calls = append(u.calls, file.Name)
	fail := u.fail[file.Name]
	u.mu.Unlock()

	if _, err := io.Copy(io.Discard, file.Body); err != nil {
		return nil, err
	}
	progress(50)
	if fail {
		return nil, errBackend
	}
	return []repository.UploadedFile{{Name: "up-" + file.Name, LinkImage: "https://cdn.example/up-" + file.Name}}, nil
}

func (u *fakeUploader) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *recordingNotifier) NotifyNotice(_ string, _ NoticeLevel, message string) {
	n.mu.Lock()
	n.notices = append(n.notices, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type typingSpy struct {
	stopped []string
}

func (t *typingSpy) StopTyping(room string) {
	t.stopped = append(t.stopped, room)
}

func file(name string) AttachmentInput {
	return AttachmentInput{
		Name:        name,
		ContentType: "image/png",
		Size:        3,
		LocalURL:    "blob:" + name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("png")), nil
		},
	}
}

var me = domain.Sender{UserID: 1, UserName: "me"}

type fixture struct {
	svc      *MessageService
	api      *fakeAPI
	uploader *fakeUploader
	store    *store.Store
	rooms    *store.Rooms
	notices  *recordingNotifier
	typing   *typingSpy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:      &fakeAPI{},
		uploader: &fakeUploader{},
		store:    store.New(zap.NewNop()),
		rooms:    store.NewRooms(),
		notices:  &recordingNotifier{},
		typing:   &typingSpy{},
	}
	f.svc = NewMessageService(f.api, f.uploader, f.store, f.rooms, me, DefaultLimits(), zap.NewNop())
	f.svc.SetNotifier(f.notices)
	f.svc.SetTypingPublisher(f.typing)
	base := time.Date(2025, 6, 24, 13, 0, 0, 0, time.UTC)
	f.svc.SetClock(ident.NewClockAt(func() time.Time { return base }))
	return f
}
