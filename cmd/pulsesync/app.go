package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vedran77/pulsesync/internal/config"
	"github.com/vedran77/pulsesync/internal/database"
	"github.com/vedran77/pulsesync/internal/logging"
	"github.com/vedran77/pulsesync/internal/metrics"
	"github.com/vedran77/pulsesync/internal/realtime"
	"github.com/vedran77/pulsesync/internal/repository"
	"github.com/vedran77/pulsesync/internal/repository/httpapi"
	"github.com/vedran77/pulsesync/internal/repository/pebblestore"
	postgresrepo "github.com/vedran77/pulsesync/internal/repository/postgres"
	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/internal/store"
	"github.com/vedran77/pulsesync/internal/transport/push"
	"go.uber.org/zap"
)

// app holds the wired engine shared by every subcommand.
type app struct {
	cfg *config.Config
	log *zap.Logger

	api      *httpapi.Client
	store    *store.Store
	rooms    *store.Rooms
	typing   *store.Typing
	archive  repository.ArchiveRepository
	messages *service.MessageService
	session  *service.Session
	views    *service.Views
	adapter  *realtime.Adapter
	push     *push.Client
	typist   *push.TypingBroadcaster
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	sender, err := service.ParseSessionToken(cfg.AccessToken, time.Now())
	if err != nil {
		return nil, err
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	log = log.With(zap.Int64("user_id", sender.UserID))
	log.Info("session_identity", zap.String("token", logging.RedactToken(cfg.AccessToken)), zap.String("device_id", cfg.DeviceID))

	archive, err := openArchive(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Backend
	api := httpapi.New(httpapi.Options{
		BaseURL:   cfg.APIBaseURL,
		Token:     cfg.AccessToken,
		DeviceID:  cfg.DeviceID,
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.APIRateLimit,
		Burst:     cfg.APIBurst,
	}, log)

	// Caches
	st := store.New(log)
	st.SetMetrics(m)
	rooms := store.NewRooms()
	typing := store.NewTyping(cfg.TypingTTL)

	// Services
	messages := service.NewMessageService(api, api, st, rooms, sender, service.Limits{
		PageSize:          cfg.PageSize,
		UploadConcurrency: cfg.UploadConcurrency,
		MaxAttachments:    cfg.MaxAttachments,
		MaxImageSize:      cfg.MaxImageSize,
		NonFriendCap:      cfg.NonFriendCap,
	}, log)
	messages.SetMetrics(m)

	adapter := realtime.NewAdapter(st, rooms, typing, sender.UserID, log)
	adapter.SetPresenceCountsAsRead(cfg.PresenceCountsAsRead)
	adapter.SetMetrics(m)

	pushClient := push.NewClient(push.Options{
		URL:          cfg.PushURL,
		Token:        cfg.AccessToken,
		DeviceID:     cfg.DeviceID,
		PingInterval: cfg.PingInterval,
	}, adapter, log)
	typist := push.NewTypingBroadcaster(pushClient, cfg.TypingIdle, cfg.TypingHard, log)
	messages.SetTypingPublisher(typist)

	session := service.NewSession(messages, api, st, rooms, typing, archive, log)
	session.SetPresence(pushClient)
	session.SetMetrics(m)

	views := service.NewViews(st, rooms, typing, sender, service.ViewOptions{
		GroupingThreshold: cfg.GroupingThreshold,
		SectionGap:        cfg.SectionGap,
	}, log)

	return &app{
		cfg:      cfg,
		log:      log,
		api:      api,
		store:    st,
		rooms:    rooms,
		typing:   typing,
		archive:  archive,
		messages: messages,
		session:  session,
		views:    views,
		adapter:  adapter,
		push:     pushClient,
		typist:   typist,
		registry: reg,
	}, nil
}

func openArchive(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.ArchiveRepository, error) {
	switch cfg.ArchiveDriver {
	case config.ArchivePebble:
		a, err := pebblestore.Open(cfg.ArchivePath, cfg.ArchivePassphrase, log)
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		log.Info("archive_opened", zap.String("driver", cfg.ArchiveDriver), zap.String("path", cfg.ArchivePath), zap.Bool("sealed", cfg.ArchivePassphrase != ""))
		return a, nil

	case config.ArchivePostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("archive_opened", zap.String("driver", cfg.ArchiveDriver), zap.String("host", cfg.DBHost))
		return postgresrepo.NewArchiveRepo(pool), nil
	}
	return nil, nil
}

// close writes confirmed history to the archive and releases it.
func (a *app) close(ctx context.Context) {
	if a.archive == nil {
		return
	}
	if err := a.session.Suspend(ctx); err != nil {
		a.log.Error("archive_save_failed", zap.Error(err))
	}
	if err := a.archive.Close(); err != nil {
		a.log.Error("archive_close_failed", zap.Error(err))
	}
}
