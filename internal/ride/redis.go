package ride

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/observability"
	"github.com/codebylalit/skooty/internal/presence"
)

// RedisRepository stores ride documents as JSON values and pushes every
// change over a per-document pub/sub channel, giving document-store
// snapshot semantics (current value first, then a push per write) on plain
// Redis. Driver presence documents are written by the presence ingest
// daemon; this side only reads them.
type RedisRepository struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisRepository(addr, password string, logger *slog.Logger) *RedisRepository {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRepository{client: c, logger: logger, now: time.Now}
}

func rideKey(id string) string      { return "ride:" + id }
func rideChannel(id string) string  { return "ride:updates:" + id }
func userRidesKey(uid string) string { return "user:" + uid + ":rides" }

const openRidesKey = "rides:open"

func (r *RedisRepository) CreateRide(ctx context.Context, in CreateRideInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	now := r.now().UTC()
	doc := models.Ride{
		ID:              uuid.NewString(),
		RiderID:         in.RiderID,
		Pickup:          in.Pickup,
		Dropoff:         in.Dropoff,
		VehicleClass:    in.VehicleClass,
		Status:          models.StatusBooked,
		Fare:            in.Fare,
		DistanceMeters:  in.DistanceMeters,
		DurationSeconds: in.DurationSeconds,
		PaymentMethod:   in.PaymentMethod,
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", &WriteError{Op: "create", Err: err}
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, rideKey(doc.ID), b, 0)
	pipe.SAdd(ctx, userRidesKey(doc.RiderID), doc.ID)
	pipe.SAdd(ctx, openRidesKey, doc.ID)
	pipe.Publish(ctx, rideChannel(doc.ID), b)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", &WriteError{Op: "create", Err: err}
	}
	observability.BookingsCreatedTotal.Inc()
	return doc.ID, nil
}

func (r *RedisRepository) UpdateRide(ctx context.Context, rideID string, patch Patch) error {
	return r.mutate(ctx, "update", rideID, func(doc models.Ride) (models.Ride, error) {
		return applyPatch(doc, patch)
	})
}

func (r *RedisRepository) AcceptRide(ctx context.Context, rideID, driverID string) error {
	if driverID == "" {
		return &WriteError{Op: "accept", Err: &ValidationError{Field: "driverId", Reason: "missing auth identity"}}
	}
	return r.mutate(ctx, "accept", rideID, func(doc models.Ride) (models.Ride, error) {
		if doc.Status != models.StatusBooked || doc.DriverID != "" {
			return doc, &ValidationError{Field: "status", Reason: "ride is no longer open"}
		}
		st := models.StatusDriverEnRoute
		return applyPatch(doc, Patch{Status: &st, DriverID: &driverID})
	})
}

// mutate runs an optimistic read-modify-write under WATCH so concurrent
// rider/driver patches cannot clobber each other.
func (r *RedisRepository) mutate(ctx context.Context, op, rideID string, fn func(models.Ride) (models.Ride, error)) error {
	key := rideKey(rideID)
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		doc, err := decodeRide(raw)
		if err != nil {
			return err
		}
		next, err := fn(doc)
		if err != nil {
			return err
		}
		next.UpdatedAt = r.now().UTC()
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			if next.Status != models.StatusBooked {
				pipe.SRem(ctx, openRidesKey, rideID)
			}
			pipe.Publish(ctx, rideChannel(rideID), b)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < 3; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return &WriteError{Op: op, Err: err}
	}
	return &WriteError{Op: op, Err: errors.New("too many concurrent writers")}
}

func (r *RedisRepository) SubscribeRide(ctx context.Context, rideID string) (*RideSubscription, error) {
	raw, err := r.client.Get(ctx, rideKey(rideID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &SubscriptionError{Doc: "ride/" + rideID, Err: err}
	}
	current, err := decodeRide(raw)
	if err != nil {
		return nil, &SubscriptionError{Doc: "ride/" + rideID, Err: err}
	}

	pubsub := r.client.Subscribe(context.WithoutCancel(ctx), rideChannel(rideID))
	sub := &RideSubscription{
		updates: make(chan models.Ride, 16),
		errs:    make(chan error, 1),
	}
	var once sync.Once
	done := make(chan struct{})
	sub.stop = func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
			observability.ActiveSubscriptions.Dec()
		})
	}
	observability.ActiveSubscriptions.Inc()
	sub.updates <- current

	go func() {
		defer close(sub.updates)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					select {
					case <-done: // closed on purpose, not an error
					default:
						sub.errs <- &SubscriptionError{Doc: "ride/" + rideID, Err: errors.New("stream closed")}
					}
					return
				}
				doc, err := decodeRide([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("discarding malformed ride push", "ride_id", rideID, "error", err)
					continue
				}
				pushRide(sub, doc)
			}
		}
	}()
	return sub, nil
}

func (r *RedisRepository) SubscribeDriver(ctx context.Context, driverID string) (*DriverSubscription, error) {
	pubsub := r.client.Subscribe(context.WithoutCancel(ctx), presence.DriverChannel(driverID))
	sub := &DriverSubscription{
		updates: make(chan models.DriverPresence, 16),
		errs:    make(chan error, 1),
	}
	var once sync.Once
	done := make(chan struct{})
	sub.stop = func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
			observability.ActiveSubscriptions.Dec()
		})
	}
	observability.ActiveSubscriptions.Inc()

	if d, err := r.GetDriverPresence(ctx, driverID); err == nil {
		sub.updates <- *d
	}

	go func() {
		defer close(sub.updates)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					select {
					case <-done:
					default:
						sub.errs <- &SubscriptionError{Doc: "driver/" + driverID, Err: errors.New("stream closed")}
					}
					return
				}
				var d models.DriverPresence
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil || !d.Location.Valid() {
					r.logger.Warn("discarding malformed presence push", "driver_id", driverID, "error", err)
					continue
				}
				pushDriver(sub, d)
			}
		}
	}()
	return sub, nil
}

func (r *RedisRepository) GetDriverPresence(ctx context.Context, driverID string) (*models.DriverPresence, error) {
	raw, err := r.client.Get(ctx, presence.DriverDocKey(driverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d models.DriverPresence
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if d.DriverID == "" {
		d.DriverID = driverID
	}
	return &d, nil
}

func (r *RedisRepository) FindActiveRide(ctx context.Context, userID string) (*models.Ride, error) {
	ids, err := r.client.SMembers(ctx, userRidesKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	active := make([]models.Ride, 0, 1)
	for _, id := range ids {
		raw, err := r.client.Get(ctx, rideKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		doc, err := decodeRide(raw)
		if err != nil {
			r.logger.Warn("skipping undecodable ride", "ride_id", id, "error", err)
			continue
		}
		if doc.Status.Active() {
			active = append(active, doc)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	// the store's default ordering: oldest first
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	if len(active) > 1 {
		r.logger.Warn("multiple active rides for user, picking first",
			"user_id", userID, "count", len(active))
	}
	doc := active[0]
	return &doc, nil
}

func (r *RedisRepository) ListOpenRides(ctx context.Context) ([]models.Ride, error) {
	ids, err := r.client.SMembers(ctx, openRidesKey).Result()
	if err != nil {
		return nil, err
	}
	open := make([]models.Ride, 0, len(ids))
	for _, id := range ids {
		raw, err := r.client.Get(ctx, rideKey(id)).Bytes()
		if err != nil {
			continue
		}
		doc, err := decodeRide(raw)
		if err != nil {
			continue
		}
		if doc.Status == models.StatusBooked && doc.DriverID == "" {
			open = append(open, doc)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

// Close releases the underlying client.
func (r *RedisRepository) Close() error { return r.client.Close() }
