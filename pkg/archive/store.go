// Package archive persists finalized conversation turns so a session's
// transcript survives the process.
//
// Implementations must be safe for concurrent use. The session writes to a
// Store off its dispatcher goroutine, so a slow Store never delays audio.
package archive

import (
	"context"
	"time"
)

// Role of an archived turn, mirroring the transcript roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one finalized utterance as stored in the archive.
type Turn struct {
	// Seq is the turn's position within its session.
	Seq int `json:"seq"`

	// Role is "user" or "model".
	Role string `json:"role"`

	// Text is the full turn text.
	Text string `json:"text"`

	// StartedAt is when the first fragment of the turn arrived.
	StartedAt time.Time `json:"started_at"`

	// FinalizedAt is when the turn was completed.
	FinalizedAt time.Time `json:"finalized_at"`
}

// Store is the transcript archive.
type Store interface {
	// Append records turns for sessionID. Turns already stored under the
	// same (sessionID, Seq) are left untouched, so retries are safe.
	Append(ctx context.Context, sessionID string, turns []Turn) error

	// Recent returns at most limit turns of sessionID ordered by Seq,
	// taking the newest ones when more exist. A non-positive limit returns
	// all turns.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// Pinger is implemented by stores backed by a remote database. Readiness
// probes use it.
type Pinger interface {
	Ping(ctx context.Context) error
}
