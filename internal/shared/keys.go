package shared

// Redis key builders shared between the HTTP server and the worker so
// both sides read and invalidate the same entries.

// SessionKey builds the redis key holding one session's payload.
func SessionKey(id string) string {
	return "session:" + id
}

// RatesCacheKey builds the redis key caching an FX rate snapshot.
func RatesCacheKey(base string) string {
	return "fx:rates:" + base
}
