// Package main is the entry point for the chat sync server.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sherzod992/Ta-Go-sub000/internal/config"
	"github.com/sherzod992/Ta-Go-sub000/internal/handler"
	"github.com/sherzod992/Ta-Go-sub000/internal/middleware"
	natsclient "github.com/sherzod992/Ta-Go-sub000/internal/nats"
	"github.com/sherzod992/Ta-Go-sub000/internal/remote"
	"github.com/sherzod992/Ta-Go-sub000/internal/service"
	"github.com/sherzod992/Ta-Go-sub000/internal/store"
	"github.com/sherzod992/Ta-Go-sub000/pkg/logger"
	"github.com/sherzod992/Ta-Go-sub000/pkg/tracing"
)

const serviceName = "inquiry-chat-sync"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat sync server",
		zap.String("user_id", cfg.UserID),
		zap.String("role", string(cfg.UserRole)),
		zap.String("api", cfg.APIBaseURL),
	)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Push is optional; without NATS the engine runs on polling alone.
	var (
		natsClient *natsclient.Client
		push       service.PushSource
	)
	if cfg.NATSURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err = natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     serviceName + ":" + cfg.UserID,
		}, log)
		cancel()
		if err != nil {
			log.Warn("NATS unavailable, push disabled", zap.Error(err))
			natsClient = nil
		}
	}
	if natsClient != nil {
		defer natsClient.Close()

		streams := natsclient.NewStreamManager(natsClient, cfg.NATSStream)
		if cfg.NATSEnsureStream {
			if err := streams.EnsureStream(ctx); err != nil {
				log.Warn("failed to ensure stream", zap.String("stream", streams.Name()), zap.Error(err))
			}
		}
		subscriber := natsclient.NewSubscriber(natsClient, streams.Name(), log)
		push = subscriber

		if err := subscriber.PublishPresence(ctx, cfg.UserID, true); err != nil {
			log.Warn("failed to announce presence", zap.Error(err))
		}
		defer func() {
			if err := subscriber.PublishPresence(ctx, cfg.UserID, false); err != nil {
				log.Warn("failed to announce offline", zap.Error(err))
			}
		}()
	}

	api := remote.New(remote.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.APITimeout,
	}, log)

	st := store.New(
		store.WithPresenceTTL(cfg.PresenceTTL),
		store.WithTypingTTL(cfg.TypingTTL),
	)

	engine := service.NewEngine(api, push, st, service.Config{
		UserID:              cfg.UserID,
		Role:                cfg.UserRole,
		MessagePageSize:     cfg.MessagePageSize,
		RoomPageSize:        cfg.RoomPageSize,
		MessagePollInterval: cfg.MessagePollInterval,
		RoomPollInterval:    cfg.RoomPollInterval,
	}, log)
	if err := engine.Start(ctx); err != nil {
		log.Warn("initial sync incomplete, retrying in background", zap.Error(err))
	}
	defer engine.Stop()

	healthHandler := handler.NewHealthHandler(natsClient)
	chatHandler := handler.NewChatHandler(engine, log)
	streamHandler := handler.NewStreamHandler(st, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/chat", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RequireUser(cfg.UserID))
		} else {
			log.Warn("JWT_SECRET not set, chat API is unauthenticated")
		}
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		chatHandler.Routes(r)
		r.Get("/stream", streamHandler.Stream)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
