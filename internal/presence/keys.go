// Package presence moves driver locations from the driver apps to the
// rider side: a Kafka producer on the ingest edge, a consumer that
// materializes presence documents in Redis, and the key scheme the ride
// repository reads them back with.
package presence

// DriverDocKey is the Redis key of a driver's presence document.
func DriverDocKey(driverID string) string { return "driver:" + driverID }

// DriverChannel is the pub/sub channel carrying presence pushes.
func DriverChannel(driverID string) string { return "driver:updates:" + driverID }

// GeoKey indexes all driver positions for nearby queries.
const GeoKey = "drivers_geo"
