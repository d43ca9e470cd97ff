// Package relay carries the best-effort "partner has joined" signal consumed by the
// initiator's poller. Nothing here is authoritative: a lost signal only delays UI copy.
package relay

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a join signal is kept.
const DefaultTTL = 24 * time.Hour

// Signal is the latest join notification for a session.
type Signal struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Relay publishes and reads ephemeral join signals keyed by session id.
type Relay interface {
	Publish(ctx context.Context, sessionID string, sig Signal) error
	Latest(ctx context.Context, sessionID string) (Signal, bool, error)
	Close() error
}
