package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"byggarportalen/internal/auth"
	"byggarportalen/internal/blob"
	"byggarportalen/internal/logging"
	"byggarportalen/internal/realtime"
	"byggarportalen/internal/server"
	"byggarportalen/internal/storage"
	"byggarportalen/internal/timeline"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
)

type config struct {
	Log     logging.Config
	DB      storage.Config
	HTTP    server.EnvConfig
	Auth    auth.Config
	Blob    blob.Config
	Migrate bool `env:"DB_MIGRATE" envDefault:"true"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Cannot parse env config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logging.New: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Migrate {
		if err := storage.Migrate(sugar, cfg.DB); err != nil {
			sugar.Fatalf("Cannot migrate database: %v", err)
		}
	}

	store, err := storage.New(ctx, sugar, cfg.DB, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	hub := realtime.NewHub(sugar, 64)
	go listenChanges(ctx, sugar, store, hub)

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg.HTTP),
		server.ReadTimeout(5 * time.Second),
		server.SecureCookie(cfg.Auth.SecureCookie),
		server.RegisterAfterShutdown(store.Close),
	}

	blobs, err := blob.New(sugar, cfg.Blob)
	if err != nil {
		sugar.Fatalf("Cannot create blob client: %v", err)
	}
	if blobs.Enabled() {
		if err := blobs.EnsureBucket(ctx); err != nil {
			sugar.Fatalf("Cannot prepare bucket: %v", err)
		}
		serverOpts = append(serverOpts, server.WithTimeline(timeline.NewService(sugar, blobs, store)))
	} else {
		sugar.Warn("BLOB_ENDPOINT is not set, timeline images are disabled")
	}

	srv, err := server.NewServer(sugar, store, hub, auth.NewSessions(cfg.Auth), serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(ctx); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}

// listenChanges feeds committed table changes into the hub, reconnecting until ctx is done
func listenChanges(ctx context.Context, logger *zap.SugaredLogger, store *storage.Store, hub *realtime.Hub) {
	publish := func(payload []byte) {
		if err := hub.PublishNotification(payload); err != nil {
			logger.Warnf("Dropping change notification: %v", err)
		}
	}

	for {
		err := store.ListenChanges(ctx, publish)
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("Listening for table changes: %v", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
