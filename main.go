package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/cache"
	"github.com/pliu/parley/internal/chat"
	"github.com/pliu/parley/internal/config"
	"github.com/pliu/parley/internal/events"
	"github.com/pliu/parley/internal/events/zmqpub"
	"github.com/pliu/parley/internal/handlers"
	"github.com/pliu/parley/internal/push"
	"github.com/pliu/parley/internal/seed"
	"github.com/pliu/parley/internal/storage"
	"github.com/pliu/parley/internal/store/sqlstore"
	"github.com/pliu/parley/internal/ws"
)

var configPath = flag.String("config", "", "path to the config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	log := config.NewLogger(cfg.Logging)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer store.Close()

	c := cache.New(cache.NewMemory(cfg.Cache.ConversationsTTL, cfg.Cache.CleanupInterval), log)
	disk := storage.NewDisk(cfg.Storage.Root, cfg.Storage.MaxVoiceNoteBytes, cfg.Storage.CompressionThresholdBytes, log)

	// The hub authorizes subscriptions through the chat service, which in
	// turn publishes through the hub.
	var chatSvc *chat.Service
	hub := ws.NewHub(func(ctx context.Context, userID uint, channel string) (bool, error) {
		return chatSvc.CanSubscribe(ctx, userID, channel)
	}, log)

	var publisher events.Publisher = hub
	if cfg.Broadcast.ZMQEndpoint != "" {
		zp, err := zmqpub.New(cfg.Broadcast.ZMQEndpoint)
		if err != nil {
			return errors.Wrap(err, "start event publisher")
		}
		defer zp.Close()
		publisher = events.Multi{hub, zp}
		log.WithField("endpoint", cfg.Broadcast.ZMQEndpoint).Info("mirroring events over zeromq")
	}

	var sender push.Sender = push.LogSender{Log: log}
	if cfg.Push.GatewayURL != "" {
		sender = push.NewGatewaySender(cfg.Push.GatewayURL, cfg.Push.APIKey, cfg.Push.Timeout)
	} else {
		log.Warn("no push gateway configured, notifications are only logged")
	}
	notifier := push.NewNotifier(store, sender, hub, log)

	chatSvc = chat.NewService(store, c, publisher, notifier, disk, chat.Config{
		ConversationsTTL:  cfg.Cache.ConversationsTTL,
		MessagesTTL:       cfg.Cache.MessagesTTL,
		MaxVoiceNoteBytes: cfg.Storage.MaxVoiceNoteBytes,
	}, log)
	defer chatSvc.Drain()

	policy := auth.NewRegistrationPolicy(cfg.Auth.RegistrationOpen, cfg.Auth.AllowedUsernames)
	authSvc := auth.NewService(store, auth.NewTokens(cfg.Auth.SecretKey), policy, log)
	sessions := auth.NewSessions(cfg.Auth.SecretKey, cfg.Auth.CookieMaxAge, cfg.Auth.SecureCookie)

	if err := seed.Run(ctx, store, chatSvc, cfg.Seed, log); err != nil {
		return err
	}

	go hub.Run(ctx)

	router := handlers.NewRouter(handlers.Routes{
		Auth:    &handlers.AuthHandler{Auth: authSvc, Sessions: sessions, Log: log},
		Chat:    &handlers.ChatHandler{Chat: chatSvc, Log: log},
		Health:  &handlers.HealthHandler{DB: store, Service: "parley", Log: log},
		Files:   &handlers.FilesHandler{Files: disk, Log: log},
		Hub:     hub,
		Authn:   authSvc,
		Cookies: sessions,
		Log:     log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("starting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
