package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/internal/transport/http/handlers"
	"github.com/vedran77/pulsesync/internal/transport/ws"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync rooms and serve the local control API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	if err := a.session.Start(ctx); err != nil {
		// the archive seed is still usable offline
		a.log.Warn("session_start_degraded", zap.Error(err))
	}

	// Local view stream
	hub := ws.NewHub(a.views, a.log)
	hub.SetTypist(a.typist)
	unwatch := hub.Watch(a.store, a.rooms, a.typing)
	defer unwatch()
	go hub.Run(ctx)
	a.messages.SetNotifier(ws.NewHubNotifier(hub, service.LogNotifier{Log: a.log}))

	// Backend push channel
	go func() {
		if err := a.push.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("push_stopped", zap.Error(err))
		}
	}()

	router := handlers.NewRouter(handlers.RouterConfig{
		Session:  a.session,
		Views:    a.views,
		Typist:   a.typist,
		Secret:   a.cfg.ControlSecret,
		Gatherer: a.registry,
		Stream:   ws.ServeWS(ctx, hub, a.cfg.ControlSecret),
		Log:      a.log,
	})
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("control_api_listening", zap.String("addr", a.cfg.ListenAddr))
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		a.log.Info("shutting_down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http_shutdown_failed", zap.Error(err))
	}
	a.close(shutdownCtx)
	return serveErr
}
