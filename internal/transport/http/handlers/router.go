package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Session  *service.Session
	Views    *service.Views
	Typist   Typist
	Secret   string
	Gatherer prometheus.Gatherer
	// Stream serves the local view stream at /ws when set.
	Stream http.Handler
	Log    *zap.Logger
}

// NewRouter builds the local control API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	rooms := NewRoomHandler(cfg.Session, cfg.Views, cfg.Typist, log)
	messages := NewMessageHandler(cfg.Session.Messages(), log)
	auth := middleware.Auth(cfg.Secret)

	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Stream != nil {
		mux.Handle("GET /ws", cfg.Stream)
	}

	// Protected - Rooms
	mux.Handle("GET /api/v1/rooms", auth(http.HandlerFunc(rooms.List)))
	mux.Handle("GET /api/v1/rooms/{code}/messages", auth(http.HandlerFunc(rooms.Messages)))
	mux.Handle("POST /api/v1/rooms/{code}/open", auth(http.HandlerFunc(rooms.Open)))
	mux.Handle("POST /api/v1/rooms/{code}/close", auth(http.HandlerFunc(rooms.Close)))
	mux.Handle("POST /api/v1/rooms/{code}/history", auth(http.HandlerFunc(rooms.History)))
	mux.Handle("POST /api/v1/rooms/{code}/read", auth(http.HandlerFunc(rooms.MarkRead)))
	mux.Handle("PUT /api/v1/rooms/{code}/reply", auth(http.HandlerFunc(rooms.SetReply)))
	mux.Handle("DELETE /api/v1/rooms/{code}/reply", auth(http.HandlerFunc(rooms.ClearReply)))
	mux.Handle("POST /api/v1/rooms/{code}/typing", auth(http.HandlerFunc(rooms.Typing)))

	// Protected - Messages
	mux.Handle("POST /api/v1/rooms/{code}/messages", auth(http.HandlerFunc(messages.Send)))
	mux.Handle("POST /api/v1/rooms/{code}/messages/{tempId}/retry", auth(http.HandlerFunc(messages.Retry)))
	mux.Handle("POST /api/v1/rooms/{code}/messages/{tempId}/discard", auth(http.HandlerFunc(messages.Discard)))
	mux.Handle("PUT /api/v1/rooms/{code}/messages/{msgCode}", auth(http.HandlerFunc(messages.Edit)))
	mux.Handle("DELETE /api/v1/rooms/{code}/messages/{msgCode}", auth(http.HandlerFunc(messages.Revoke)))

	return middleware.Logging(log)(middleware.CORS(mux))
}
