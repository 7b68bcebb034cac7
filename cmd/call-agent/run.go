package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskboard-calls/internal/config"
	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/eventchannel"
	callHandler "taskboard-calls/internal/handler/http/call"
	"taskboard-calls/internal/history"
	"taskboard-calls/internal/identity"
	"taskboard-calls/internal/media"
	"taskboard-calls/internal/middleware"
	"taskboard-calls/internal/notify"
	"taskboard-calls/internal/ringtone"
	"taskboard-calls/internal/signaling"
	"taskboard-calls/internal/store"
	"taskboard-calls/internal/supervisor"
	"taskboard-calls/pkg/constants"
	"taskboard-calls/pkg/database"
	"taskboard-calls/pkg/env"
	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/metrics"
)

const serviceName = "call-agent"

func runAgent(ctx context.Context, cfg *config.Config) error {
	clk := clock.New()

	// 1. Metrics
	appMetrics := metrics.NewMetrics(serviceName)

	// 2. Identity and event channel
	tokens := identity.NewTokenProvider(cfg.Signal.Token)
	client := eventchannel.NewClient(eventchannel.Options{
		URL:        cfg.Signal.URL,
		TokenFunc:  tokens.Token,
		MinBackoff: cfg.Signal.MinBackoff,
		MaxBackoff: cfg.Signal.MaxBackoff,
		Metrics:    appMetrics,
	})

	// 3. Media
	mediaCtl, err := media.NewPionController(media.PionOptions{
		ICEServers:  cfg.Media.ICEServers(),
		Signaler:    client,
		EmitTimeout: cfg.Call.EmitTimeout,
	})
	if err != nil {
		return fmt.Errorf("init media: %w", err)
	}

	// 4. Call state, notices, connection indicator
	callStore := store.New(clk)
	hub := notify.NewHub(constants.NoticeBuffer, clk)
	sup := supervisor.New(callStore, appMetrics, clk)
	defer sup.Close()
	stopIndicator := sup.OnChange(func(status domain.ConnectionStatus) {
		logger.Info("Call connection changed", zap.String("connection", string(status)))
	})
	defer stopIndicator()

	// 5. Call history (optional)
	if cfg.History.RedisAddr != "" {
		rdb, err := database.NewRedisDB(ctx, &database.RedisConfig{
			Addr:     cfg.History.RedisAddr,
			Password: cfg.History.RedisPassword,
			DB:       cfg.History.RedisDB,
			Timeout:  constants.HistoryWriteTimeout,
		})
		if err != nil {
			logger.Warn("Call history store unreachable, history disabled",
				zap.String("addr", cfg.History.RedisAddr),
				zap.Error(err),
			)
		} else {
			defer rdb.Close()
			recorder := history.NewRecorder(rdb.Client, clk, appMetrics)
			unsubscribe := callStore.Subscribe(recorder.Observe)
			defer recorder.Wait()
			defer unsubscribe()
			logger.Info("Call history enabled", zap.String("addr", cfg.History.RedisAddr))
		}
	}

	// 6. Signaling handler
	calls := signaling.New(signaling.Options{
		Channel: func() signaling.EventChannel {
			if !client.Connected() {
				return nil
			}
			return client
		},
		Identity:          tokens,
		Store:             callStore,
		Media:             mediaCtl,
		Ringtone:          ringtone.NewPlayer(ringtoneSink(cfg.Ringtone, clk)),
		Notifier:          hub,
		Clock:             clk,
		Metrics:           appMetrics,
		RingTimeout:       cfg.Call.RingTimeout,
		BootstrapInterval: cfg.Call.BootstrapInterval,
		BootstrapAttempts: cfg.Call.BootstrapAttempts,
		EmitTimeout:       cfg.Call.EmitTimeout,
	})

	// The channel outlives ctx so the teardown on shutdown can still reach the server
	channelCtx, stopChannel := context.WithCancel(context.Background())
	channelDone := make(chan struct{})
	go func() {
		defer close(channelDone)
		if err := client.Run(channelCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event channel stopped", zap.Error(err))
		}
	}()

	rebind := func(reason string) {
		go func() {
			if err := calls.Rebind(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Signaling rebind failed", zap.String("reason", reason), zap.Error(err))
			}
		}()
	}
	stopState := client.OnStateChange(func(connected bool) {
		if connected && !calls.Available() {
			rebind("channel connected")
		}
	})
	defer stopState()
	// The handshake carries the token, so a new identity needs a new connection
	stopIdentity := tokens.OnChange(func() {
		client.Reconnect()
		rebind("identity changed")
	})
	defer stopIdentity()

	go func() {
		if err := calls.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Call features unavailable until the event channel connects", zap.Error(err))
		}
	}()

	// 7. Control API
	router := newRouter(cfg, appMetrics, calls, callStore, sup, hub)
	srv := &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Control API listening", zap.String("addr", cfg.Control.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 8. Token reload on SIGHUP
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serverErr:
			runErr = fmt.Errorf("control API: %w", err)
			break loop
		case <-hup:
			token, err := env.Secret("AUTH_TOKEN")
			if err != nil {
				logger.Warn("Session token reload failed", zap.Error(err))
				continue
			}
			logger.Info("Reloading session token")
			tokens.SetToken(token)
		}
	}

	logger.Info("Shutting down call agent")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Control API shutdown", zap.Error(err))
	}

	calls.Close()
	stopChannel()
	<-channelDone
	return runErr
}

func newRouter(cfg *config.Config, m *metrics.Metrics, calls *signaling.Handler, st *store.Store, sup *supervisor.Supervisor, hub *notify.Hub) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.HealthCheck(serviceName, calls.Available))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.Control.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(m, "/metrics", "/v1/call/events").Handler())

	router.GET("/metrics", middleware.MetricsHandler(m))

	api := router.Group("")
	api.Use(middleware.ControlAuth(cfg.Control.Token))
	callHandler.NewHandler(calls, st, sup, hub).RegisterRoutes(api)

	return router
}

func ringtoneSink(kind string, clk clock.Clock) ringtone.Sink {
	switch kind {
	case config.RingtoneBell:
		return ringtone.NewBellSink(os.Stderr, constants.RingtoneBellInterval, clk)
	case config.RingtoneLog:
		return ringtone.LogSink{}
	default:
		return ringtone.NopSink{}
	}
}
