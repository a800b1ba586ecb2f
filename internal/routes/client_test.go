package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codebylalit/skooty/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GoogleClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewGoogleClient("test-key", nil)
	c.Endpoint = srv.URL
	c.HTTP = srv.Client()
	return c
}

var (
	origin = models.Coordinate{Latitude: 17.385, Longitude: 78.4867}
	dest   = models.Coordinate{Latitude: 17.4399, Longitude: 78.4983}
)

func TestComputeRouteSuccess(t *testing.T) {
	var gotKey, gotMask string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Goog-Api-Key")
		gotMask = r.Header.Get("X-Goog-FieldMask")

		var req computeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.TravelMode != "DRIVE" || req.RoutingPreference != "TRAFFIC_UNAWARE" {
			t.Errorf("travel mode %q, preference %q", req.TravelMode, req.RoutingPreference)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"routes": []map[string]any{{
				"distanceMeters": 5231,
				"duration":       "912s",
				"polyline":       map[string]string{"encodedPolyline": "_p~iF~ps|U_ulLnnqC"},
			}},
		})
	})

	res, ok := c.ComputeRoute(context.Background(), origin, dest)
	if !ok {
		t.Fatal("route unavailable")
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotMask == "" {
		t.Error("field mask header missing")
	}
	if res.DistanceMeters != 5231 || res.DurationSeconds != 912 {
		t.Errorf("distance/duration = %d/%d", res.DistanceMeters, res.DurationSeconds)
	}
	if len(res.Points) != 2 {
		t.Errorf("decoded %d points, want 2", len(res.Points))
	}
}

func TestComputeRouteEmptyResultIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"routes": []any{}})
	})
	if _, ok := c.ComputeRoute(context.Background(), origin, dest); ok {
		t.Fatal("empty result set reported as available")
	}
}

func TestComputeRouteServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, ok := c.ComputeRoute(context.Background(), origin, dest); ok {
		t.Fatal("5xx reported as available")
	}
}

func TestComputeRouteRetriesTransportFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// kill the first attempt mid-flight
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"routes": []map[string]any{{
				"distanceMeters": 100,
				"duration":       "60s",
				"polyline":       map[string]string{"encodedPolyline": "_p~iF~ps|U"},
			}},
		})
	}))
	defer srv.Close()

	c := NewGoogleClient("test-key", nil)
	c.Endpoint = srv.URL
	c.HTTP = &http.Client{Timeout: 2 * time.Second}

	res, ok := c.ComputeRoute(context.Background(), origin, dest)
	if !ok {
		t.Fatal("retry did not recover")
	}
	if calls != 2 {
		t.Fatalf("server saw %d calls, want 2", calls)
	}
	if res.DistanceMeters != 100 {
		t.Fatalf("distance = %d", res.DistanceMeters)
	}
}

func TestComputeRouteInvalidEndpointsShortCircuit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach transport")
	})
	bad := models.Coordinate{Latitude: nan(), Longitude: 78}
	if _, ok := c.ComputeRoute(context.Background(), bad, dest); ok {
		t.Fatal("invalid origin reported available")
	}
}

func nan() float64 {
	var zero float64
	return 0 / zero
}
