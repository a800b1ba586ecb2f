package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/codebylalit/skooty/internal/models"
)

const ridesSchema = `
CREATE TABLE IF NOT EXISTS rides (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    driver_id         TEXT NOT NULL DEFAULT '',
    pickup_lat        DOUBLE PRECISION NOT NULL,
    pickup_lng        DOUBLE PRECISION NOT NULL,
    dropoff_lat       DOUBLE PRECISION NOT NULL,
    dropoff_lng       DOUBLE PRECISION NOT NULL,
    vehicle_type      TEXT NOT NULL,
    status            TEXT NOT NULL,
    fare              INTEGER NOT NULL,
    distance          INTEGER NOT NULL,
    duration          INTEGER NOT NULL,
    payment_method    TEXT NOT NULL,
    payment_collected BOOLEAN NOT NULL DEFAULT FALSE,
    customer_name     TEXT NOT NULL DEFAULT '',
    customer_phone    TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rides_user_created_idx ON rides (user_id, created_at DESC);
`

// PostgresArchive keeps finished rides in Postgres for the trip history
// endpoint. Writes are idempotent upserts keyed by ride id, so the booking
// flow can archive the same terminal push more than once without harm.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(ridesSchema); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) SaveRide(ctx context.Context, r models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, user_id, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, vehicle_type, status, fare, distance, duration, payment_method, payment_collected, customer_name, customer_phone, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET driver_id=EXCLUDED.driver_id, status=EXCLUDED.status, payment_collected=EXCLUDED.payment_collected, updated_at=EXCLUDED.updated_at`,
		r.ID, r.RiderID, r.DriverID,
		r.Pickup.Latitude, r.Pickup.Longitude, r.Dropoff.Latitude, r.Dropoff.Longitude,
		string(r.VehicleClass), string(r.Status), r.Fare, r.DistanceMeters, r.DurationSeconds,
		string(r.PaymentMethod), r.PaymentCollected, r.CustomerName, r.CustomerPhone,
		r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresArchive) RidesForUser(ctx context.Context, userID string, limit int) ([]models.Ride, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, user_id, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, vehicle_type, status, fare, distance, duration, payment_method, payment_collected, customer_name, customer_phone, created_at, updated_at
FROM rides WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ride
	for rows.Next() {
		var r models.Ride
		var vehicle, status, payment string
		if err := rows.Scan(&r.ID, &r.RiderID, &r.DriverID,
			&r.Pickup.Latitude, &r.Pickup.Longitude, &r.Dropoff.Latitude, &r.Dropoff.Longitude,
			&vehicle, &status, &r.Fare, &r.DistanceMeters, &r.DurationSeconds,
			&payment, &r.PaymentCollected, &r.CustomerName, &r.CustomerPhone,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.VehicleClass = models.VehicleClass(vehicle)
		r.PaymentMethod = models.PaymentMethod(payment)
		if st, err := models.ParseRideStatus(status); err == nil {
			r.Status = st
		} else {
			r.Status = models.RideStatus(status)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
