// Package httpapi talks to the chat backend's REST endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pathSend     = "/api/v1/chat-user/message/send"
	pathMessages = "/api/v1/chat-user/messages"
	pathUpdate   = "/api/v1/chat-user/message/update"
	pathRevoke   = "/api/v1/chat-user/message/revoke"
	pathMarkRead = "/api/v1/chat-user/message/mark-read"
	pathRooms    = "/api/v1/chat-user/chatrooms"
	pathUpload   = "/api/v1/social/upload-file"

	roomsPageSize = 100
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat api: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chat api: status %d", e.Status)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// envelope is the backend's response wrapper.
type envelope[T any] struct {
	Code    json.RawMessage `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    T               `json:"data"`
}

type Options struct {
	BaseURL  string
	Token    string
	DeviceID string
	Timeout  time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Client implements repository.MessageAPI and repository.UploadAPI.
type Client struct {
	base     string
	token    string
	deviceID string
	timeout  time.Duration
	http     *fasthttp.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

var (
	_ repository.MessageAPI = (*Client)(nil)
	_ repository.UploadAPI  = (*Client)(nil)
)

func New(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	c := &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		deviceID: opts.DeviceID,
		timeout:  opts.Timeout,
		http: &fasthttp.Client{
			Name:                "pulsesync",
			MaxConnsPerHost:     64,
			ReadTimeout:         opts.Timeout,
			WriteTimeout:        opts.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		log: log,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// SetToken swaps the bearer token after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

func (c *Client) prepare(req *fasthttp.Request, method, path string) {
	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}
}

// do runs req and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, req *fasthttp.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	start := time.Now()
	err := c.http.DoDeadline(req, resp, c.deadline(ctx))
	c.log.Debug("api_request",
		zap.ByteString("method", req.Header.Method()),
		zap.ByteString("uri", req.RequestURI()),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Header.Method(), req.URI().Path(), err)
	}

	body := resp.Body()
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		apiErr := &APIError{Status: status}
		var env envelope[json.RawMessage]
		if json.Unmarshal(body, &env) == nil {
			apiErr.Message = env.Message
			apiErr.Code = strings.Trim(string(env.Code), `"`)
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URI().Path(), err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	c.prepare(req, method, path)
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	return c.do(ctx, req, out)
}

func (c *Client) Send(ctx context.Context, in repository.SendRequest) (*domain.ChatMessage, error) {
	var env envelope[*domain.ChatMessage]
	if err := c.doJSON(ctx, fasthttp.MethodPost, pathSend, in, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, errors.New("send: empty response")
	}
	if env.Data.TempID == "" {
		env.Data.TempID = in.TempID
	}
	return env.Data, nil
}

func (c *Client) Edit(ctx context.Context, in repository.EditRequest) (*domain.ChatMessage, error) {
	var env envelope[*domain.ChatMessage]
	if err := c.doJSON(ctx, fasthttp.MethodPut, pathUpdate, in, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) Revoke(ctx context.Context, in repository.RevokeRequest) error {
	return c.doJSON(ctx, fasthttp.MethodPut, pathRevoke, in, nil)
}

func (c *Client) FetchPage(ctx context.Context, in repository.PageRequest) (*repository.Page, error) {
	q := url.Values{}
	q.Set("chatCode", in.ChatCode)
	q.Set("PageNumber", strconv.Itoa(in.PageNumber))
	q.Set("PageSize", strconv.Itoa(in.PageSize))

	var env envelope[repository.Page]
	if err := c.doJSON(ctx, fasthttp.MethodGet, pathMessages+"?"+q.Encode(), nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) MarkRead(ctx context.Context, roomCode string) error {
	body := struct {
		ChatCode string `json:"chatCode"`
	}{ChatCode: roomCode}
	return c.doJSON(ctx, fasthttp.MethodPost, pathMarkRead, body, nil)
}

type roomPage struct {
	Data     []domain.Room `json:"data"`
	NextPage bool          `json:"nextPage"`
}

// ListRooms walks the room list until the backend reports no next page.
func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var out []domain.Room
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("PageNumber", strconv.Itoa(page))
		q.Set("PageSize", strconv.Itoa(roomsPageSize))

		var env envelope[roomPage]
		if err := c.doJSON(ctx, fasthttp.MethodGet, pathRooms+"?"+q.Encode(), nil, &env); err != nil {
			return nil, err
		}
		out = append(out, env.Data.Data...)
		if !env.Data.NextPage || len(env.Data.Data) == 0 {
			return out, nil
		}
	}
}
