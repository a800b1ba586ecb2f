package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codebylalit/skooty/internal/models"
)

// RedisWriter materializes a presence report: the JSON document the ride
// repository reads, the pub/sub push that wakes live subscribers, and the
// GEO index entry behind nearby-vehicle queries. The document expires if a
// driver stops reporting.
type RedisWriter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisWriter(client *redis.Client) *RedisWriter {
	return &RedisWriter{client: client, ttl: 5 * time.Minute}
}

func (w *RedisWriter) Write(ctx context.Context, d models.DriverPresence) error {
	d.Updated = time.Now().UTC()
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	pipe := w.client.TxPipeline()
	pipe.Set(ctx, DriverDocKey(d.DriverID), b, w.ttl)
	pipe.GeoAdd(ctx, GeoKey, &redis.GeoLocation{
		Name:      d.DriverID,
		Latitude:  d.Location.Latitude,
		Longitude: d.Location.Longitude,
	})
	pipe.Publish(ctx, DriverChannel(d.DriverID), b)
	_, err = pipe.Exec(ctx)
	return err
}

// WriteWithRetry retries transient Redis failures with doubling backoff.
func (w *RedisWriter) WriteWithRetry(ctx context.Context, d models.DriverPresence, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.Write(ctx, d); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Nearby returns up to limit drivers within radiusMeters of a point, closest
// first, for the map's nearby-vehicles layer.
func (w *RedisWriter) Nearby(ctx context.Context, at models.Coordinate, radiusMeters float64, limit int) ([]models.DriverPresence, error) {
	res, err := w.client.GeoRadius(ctx, GeoKey, at.Longitude, at.Latitude, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverPresence, 0, len(res))
	for _, g := range res {
		d := models.DriverPresence{DriverID: g.Name}
		// prefer the full document when it has not expired yet
		if raw, err := w.client.Get(ctx, DriverDocKey(g.Name)).Bytes(); err == nil {
			if json.Unmarshal(raw, &d) == nil && d.Location.Valid() {
				out = append(out, d)
				continue
			}
		}
		d.Location = models.Coordinate{Latitude: g.Latitude, Longitude: g.Longitude}
		out = append(out, d)
	}
	return out, nil
}
