// Package storage provides the portal's backing-store clients:
// PostgreSQL for relational data, Redis for sessions and rate limits,
// and S3-compatible object storage for library files.
package storage

import "time"

// Config holds backing-store configuration
type Config struct {
	// PostgreSQL
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// S3-compatible object storage
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig returns a config with sane defaults for local development
func DefaultConfig() Config {
	return Config{
		PostgresURL:      "postgres://localhost/portal?sslmode=disable",
		PostgresMaxConns: 25,
		PostgresMinConns: 5,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		S3Bucket:         "portal-files",
		RedisURL:         "redis://localhost:6379/0",
		RedisDB:          -1,
	}
}
