package redis

import "time"

// Config holds Redis connection and reservation settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	KeyPrefix string

	PoolSize     int
	MinIdleConns int

	// ReservationTTL bounds how long an uncommitted claim survives
	ReservationTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:            "redis://localhost:6379",
		KeyPrefix:      "warden",
		PoolSize:       10,
		MinIdleConns:   2,
		ReservationTTL: 2 * time.Minute,
	}
}
