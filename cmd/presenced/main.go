// presenced drains the driver-locations topic into Redis: presence
// documents, the geo index, and the per-driver pub/sub channel the rider
// apps subscribe to.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/codebylalit/skooty/internal/config"
	"github.com/codebylalit/skooty/internal/logging"
	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/observability"
	"github.com/codebylalit/skooty/internal/presence"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	logger := logging.New(cfg.LogLevel)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	writer := presence.NewRedisWriter(rc)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("presence consumer started", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var d models.DriverPresence
		if err := json.Unmarshal(m.Value, &d); err != nil || d.DriverID == "" || !d.Location.Valid() {
			logger.Warn("invalid presence message", "error", err, "offset", m.Offset)
			continue
		}
		if d.Updated.IsZero() {
			d.Updated = time.Now().UTC()
		}

		if err := writer.WriteWithRetry(ctx, d, 3, 200*time.Millisecond); err != nil {
			observability.PresenceWriteErrors.Inc()
			logger.Error("presence write failed", "driver_id", d.DriverID, "error", err)
			continue
		}
		observability.PresenceWritesTotal.Inc()
	}
}
