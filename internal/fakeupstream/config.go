// Package fakeupstream serves a synthetic stats API with the same wire
// shapes the tracker consumes, for local development and load testing
// without real upstream credentials.
package fakeupstream

import "time"

// Default generation constants.
const (
	defaultMembers       = 12
	defaultMaxCharacters = 3
	defaultMaxClears     = 40
	defaultSeed          = 1
)

// Config controls the generated world and the listener.
type Config struct {
	// Addr is the listen address.
	Addr string
	// APIKey, when set, is required in the X-API-Key header.
	APIKey string
	// Members is the roster size.
	Members int
	// MaxCharacters caps characters per member (at least one).
	MaxCharacters int
	// MaxClears caps completed activities per character.
	MaxClears int
	// Seed makes the generated world reproducible.
	Seed int64
	// Latency is an artificial delay added to every response.
	Latency time.Duration
}

func (c *Config) normalize() {
	if c.Members <= 0 {
		c.Members = defaultMembers
	}
	if c.MaxCharacters <= 0 {
		c.MaxCharacters = defaultMaxCharacters
	}
	if c.MaxClears <= 0 {
		c.MaxClears = defaultMaxClears
	}
	if c.Seed == 0 {
		c.Seed = defaultSeed
	}
}
