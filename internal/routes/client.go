// Package routes resolves road geometry between two points via the Google
// Routes API. Unavailability is a normal, displayable outcome here, not an
// error: transport faults, malformed payloads, and empty result sets all
// collapse into ok=false so callers can render "no route found" and move on.
package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/observability"
	"github.com/codebylalit/skooty/internal/polyline"
)

const defaultEndpoint = "https://routes.googleapis.com/directions/v2:computeRoutes"

const fieldMask = "routes.distanceMeters,routes.duration,routes.polyline.encodedPolyline"

// Result is a resolved route. Recomputed as endpoints move, never persisted.
type Result struct {
	Points          []models.Coordinate
	DistanceMeters  int
	DurationSeconds int
}

// Client is the interface the booking controller depends on.
type Client interface {
	ComputeRoute(ctx context.Context, origin, dest models.Coordinate) (Result, bool)
}

// GoogleClient talks to the computeRoutes endpoint.
type GoogleClient struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
	Logger   *slog.Logger
}

func NewGoogleClient(apiKey string, logger *slog.Logger) *GoogleClient {
	return &GoogleClient{
		Endpoint: defaultEndpoint,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Logger:   logger,
	}
}

type computeRequest struct {
	Origin            waypoint `json:"origin"`
	Destination       waypoint `json:"destination"`
	TravelMode        string   `json:"travelMode"`
	RoutingPreference string   `json:"routingPreference"`
}

type waypoint struct {
	Location struct {
		LatLng models.Coordinate `json:"latLng"`
	} `json:"location"`
}

type computeResponse struct {
	Routes []struct {
		DistanceMeters int    `json:"distanceMeters"`
		Duration       string `json:"duration"`
		Polyline       struct {
			EncodedPolyline string `json:"encodedPolyline"`
		} `json:"polyline"`
	} `json:"routes"`
}

// ComputeRoute performs one round-trip (with a single retry on transport
// failure) and normalizes the response into distance, duration and decoded
// points. Invalid endpoints short-circuit to unavailable.
func (c *GoogleClient) ComputeRoute(ctx context.Context, origin, dest models.Coordinate) (Result, bool) {
	if !origin.Valid() || !dest.Valid() {
		return Result{}, false
	}
	observability.RouteRequestsTotal.Inc()

	body, err := json.Marshal(c.buildRequest(origin, dest))
	if err != nil {
		return c.unavailable("marshal request", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
		if err != nil {
			return c.unavailable("build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Api-Key", c.APIKey)
		req.Header.Set("X-Goog-FieldMask", fieldMask)

		resp, err = c.HTTP.Do(req)
		if err == nil {
			break
		}
		resp = nil
		if ctx.Err() != nil || attempt == 1 {
			return c.unavailable("transport", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.unavailable("status "+strconv.Itoa(resp.StatusCode), nil)
	}
	var out computeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return c.unavailable("decode response", err)
	}
	if len(out.Routes) == 0 {
		return c.unavailable("empty result set", nil)
	}

	r := out.Routes[0]
	return Result{
		Points:          polyline.Decode(r.Polyline.EncodedPolyline),
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: parseDurationSeconds(r.Duration),
	}, true
}

func (c *GoogleClient) buildRequest(origin, dest models.Coordinate) computeRequest {
	var req computeRequest
	req.Origin.Location.LatLng = origin
	req.Destination.Location.LatLng = dest
	req.TravelMode = "DRIVE"
	req.RoutingPreference = "TRAFFIC_UNAWARE"
	return req
}

func (c *GoogleClient) unavailable(reason string, err error) (Result, bool) {
	observability.RouteUnavailableTotal.Inc()
	if c.Logger != nil {
		c.Logger.Warn("route unavailable", "reason", reason, "error", err)
	}
	return Result{}, false
}

// parseDurationSeconds reads the API's "<seconds>s" duration form.
func parseDurationSeconds(s string) int {
	s = strings.TrimSuffix(s, "s")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(v)
}
