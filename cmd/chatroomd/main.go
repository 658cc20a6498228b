// chatroomd is the chat server daemon: REST API plus the real-time
// chatroom WebSocket endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/Egcarson/chatroom/config"
	"github.com/Egcarson/chatroom/src/api"
	"github.com/Egcarson/chatroom/src/auth"
	"github.com/Egcarson/chatroom/src/hub"
	"github.com/Egcarson/chatroom/src/service"
	"github.com/Egcarson/chatroom/src/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	db, err := store.Open(cfg.BadgerPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	messages := store.NewMessageRepository(db, logger)
	defer messages.Close()
	rooms := store.NewRoomRepository(db, logger)
	users := store.NewUserRepository(db, logger)

	// Token revocation needs Redis; without it the server still runs,
	// minus logout revocation.
	var revoker *auth.Revoker
	rv := auth.NewRevoker(auth.RedisConfigFromEnv(), logger)
	if err := rv.Start(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, logout revocation disabled")
	} else {
		revoker = rv
		defer rv.Stop()
	}

	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL, cfg.RefreshTTL, revoker, logger)

	h := hub.New(rooms.Exists, hub.Options{
		QueueCap:  cfg.OutboundQueueSize,
		DropLimit: cfg.SlowConsumerDropLimit,
	}, logger)
	svc := service.New(h, messages, logger)

	a := api.New(h, svc, authn, rooms, users, messages, cfg, logger)

	app := fiber.New(fiber.Config{AppName: "chatroomd"})
	a.Register(app)

	// WebSocket upgrades are routed below Fiber: the upgrader needs
	// the raw *fasthttp.RequestCtx.
	restHandler := app.Handler()
	wsHandler := a.WebsocketHandler()
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if strings.HasPrefix(string(ctx.Path()), api.WSPathPrefix) {
				wsHandler(ctx)
				return
			}
			restHandler(ctx)
		},
		Name:            "chatroomd",
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		errCh <- srv.ListenAndServe(addr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	h.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
