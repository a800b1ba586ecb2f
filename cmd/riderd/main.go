// riderd is the rider gateway: booking sessions over HTTP and websocket,
// trip history, place search, and the driver-side ingest and accept
// endpoints.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codebylalit/skooty/internal/config"
	"github.com/codebylalit/skooty/internal/dispatch"
	httpapi "github.com/codebylalit/skooty/internal/http"
	"github.com/codebylalit/skooty/internal/logging"
	"github.com/codebylalit/skooty/internal/places"
	"github.com/codebylalit/skooty/internal/presence"
	"github.com/codebylalit/skooty/internal/ride"
	"github.com/codebylalit/skooty/internal/routes"
	"github.com/codebylalit/skooty/internal/storage"

	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadGatewayConfig()
	logger := logging.New(cfg.LogLevel)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	var repo ride.Repository
	var presenceWriter *presence.RedisWriter
	if cfg.RedisAddr != "" {
		repo = ride.NewRedisRepository(cfg.RedisAddr, cfg.RedisPassword, logging.Component(logger, "ride"))
		presenceWriter = presence.NewRedisWriter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}))
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory ride store")
		repo = ride.NewMemoryRepository(logging.Component(logger, "ride"))
	}

	var archive storage.Archive
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres archive unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		archive = pg
	} else {
		logger.Warn("PG_DSN not set, trip history kept in memory")
		archive = storage.NewMemoryArchive()
	}

	routeClient := routes.NewGoogleClient(cfg.RoutesAPIKey, logging.Component(logger, "routes"))
	if cfg.RoutesEndpoint != "" {
		routeClient.Endpoint = cfg.RoutesEndpoint
	}
	placeClient := places.NewGoogleClient(cfg.PlacesAPIKey, logging.Component(logger, "places"))

	var producer *presence.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = presence.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	stream := dispatch.NewWSRegistry(logging.Component(logger, "stream"))
	sessions := httpapi.NewSessionManager(repo, routeClient, archive, stream, logging.Component(logger, "booking"))
	sessions.AutoExitDelay = cfg.AutoExitDelay
	sessions.ArrivalBannerDelay = cfg.ArrivalBannerDelay
	defer sessions.CloseAll()

	srv := httpapi.NewServer(sessions, repo, archive, placeClient, presenceWriter, producer, stream, logging.Component(logger, "http"))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("riderd listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
