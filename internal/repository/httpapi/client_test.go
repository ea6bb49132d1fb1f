package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsesync/internal/repository"
)

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Token: "tok", DeviceID: "dev", Timeout: 5 * time.Second}, nil)
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "message": "ok", "data": data})
}

func TestSendPostsPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+pathSend, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "dev", r.Header.Get("X-Device-Id"))

		var req repository.SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "room", req.ChatCode)
		assert.Equal(t, []repository.FileRef{{Name: "f1"}}, req.Files)

		writeData(w, map[string]any{"id": 5, "code": "X", "messageText": req.MessageText, "isEdited": false})
	})
	c := newServer(t, mux)

	msg, err := c.Send(context.Background(), repository.SendRequest{
		ChatCode: "room", MessageText: "hi", Files: []repository.FileRef{{Name: "f1"}}, TempID: "temp_1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), msg.ID)
	assert.Equal(t, "X", msg.Code)
	assert.Equal(t, "temp_1", msg.TempID)
}

func TestErrorStatusBecomesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT "+pathRevoke, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":"FORBIDDEN","message":"not yours"}`)
	})
	c := newServer(t, mux)

	err := c.Revoke(context.Background(), repository.RevokeRequest{MessageCode: "X"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusForbidden))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not yours", apiErr.Message)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
}

func TestFetchPageQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+pathMessages, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "room", q.Get("chatCode"))
		assert.Equal(t, "2", q.Get("PageNumber"))
		assert.Equal(t, "20", q.Get("PageSize"))
		writeData(w, map[string]any{
			"data":     []map[string]any{{"code": "b"}, {"code": "a"}},
			"nextPage": true,
		})
	})
	c := newServer(t, mux)

	page, err := c.FetchPage(context.Background(), repository.PageRequest{ChatCode: "room", PageNumber: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "b", page.Data[0].Code)
	assert.True(t, page.NextPage)
}

func TestListRoomsFollowsPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+pathRooms, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("PageNumber") {
		case "1":
			writeData(w, map[string]any{"data": []map[string]any{{"code": "r1", "type": 10}}, "nextPage": true})
		default:
			writeData(w, map[string]any{"data": []map[string]any{{"code": "r2", "type": 30}}, "nextPage": false})
		}
	})
	c := newServer(t, mux)

	rooms, err := c.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.True(t, rooms[1].IsGroup())
}

func TestUploadStreamsMultipart(t *testing.T) {
	content := strings.Repeat("x", 64<<10)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+pathUpload, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile(uploadField)
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "a.png", hdr.Filename)
		assert.Equal(t, len(content), len(data))
		writeData(w, []map[string]any{{"name": "srv-a.png", "linkImage": "https://cdn/srv-a.png"}})
	})
	c := newServer(t, mux)

	var mu sync.Mutex
	var seen []int
	res, err := c.Upload(context.Background(), repository.UploadFile{
		Name: "a.png", ContentType: "image/png", Size: int64(len(content)), Body: strings.NewReader(content),
	}, func(pct int) {
		mu.Lock()
		seen = append(seen, pct)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "srv-a.png", res[0].Name)
	assert.Equal(t, "https://cdn/srv-a.png", res[0].LinkImage)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.IsIncreasing(t, seen)
}

func TestCanceledContext(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.MarkRead(ctx, "room")
	assert.ErrorIs(t, err, context.Canceled)
}
