// Package polyline implements the Google encoded-polyline format: each
// coordinate is delta-encoded at 1e-5 precision, zig-zag signed, and emitted
// as 5-bit groups offset by 63 with bit 0x20 marking continuation.
package polyline

import (
	"math"
	"strings"

	"github.com/codebylalit/skooty/internal/models"
)

// Decode converts an encoded polyline into the coordinate sequence it
// represents. The whole string is consumed; empty input yields an empty
// slice, never an error. A truncated trailing group is dropped rather than
// surfaced, matching how map renderers treat damaged polylines.
func Decode(encoded string) []models.Coordinate {
	points := make([]models.Coordinate, 0, len(encoded)/4)
	var lat, lng int64
	i := 0
	for i < len(encoded) {
		dlat, next, ok := decodeDelta(encoded, i)
		if !ok {
			break
		}
		dlng, after, ok := decodeDelta(encoded, next)
		if !ok {
			break
		}
		i = after
		lat += dlat
		lng += dlng
		points = append(points, models.Coordinate{
			Latitude:  float64(lat) / 1e5,
			Longitude: float64(lng) / 1e5,
		})
	}
	return points
}

func decodeDelta(s string, i int) (delta int64, next int, ok bool) {
	var result int64
	var shift uint
	for {
		if i >= len(s) {
			return 0, i, false
		}
		b := int64(s[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, true
	}
	return result >> 1, i, true
}

// Encode is the exact inverse of Decode for coordinates at 1e-5 precision.
func Encode(points []models.Coordinate) string {
	var sb strings.Builder
	var prevLat, prevLng int64
	for _, p := range points {
		lat := int64(math.Round(p.Latitude * 1e5))
		lng := int64(math.Round(p.Longitude * 1e5))
		encodeDelta(&sb, lat-prevLat)
		encodeDelta(&sb, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return sb.String()
}

func encodeDelta(sb *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		sb.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	sb.WriteByte(byte(u + 63))
}
