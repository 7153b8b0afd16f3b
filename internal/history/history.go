package history

import (
	"context"
	"time"
)

// Miner represents a registered mining rig.
//
// Rows are created on first poll and updated each time the miner is
// seen, so the table doubles as a "what have we ever polled" registry.
type Miner struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// Name is the unique miner name from config.
	Name string `json:"name"`

	// Endpoint is the miner's API address in "host:port" form.
	Endpoint string `json:"endpoint"`

	// Dialect is the detected or configured API dialect.
	Dialect string `json:"dialect"`

	// FirstSeen is when the miner was first recorded (UTC).
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is the most recent poll attempt (UTC).
	LastSeen time.Time `json:"last_seen"`
}

// Record is one poll outcome for a miner.
//
// When OK is false only Error carries meaning; the numeric fields are
// stored as NULL and read back as zero values.
type Record struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// MinerID references the miners table.
	MinerID int64 `json:"miner_id"`

	// PolledAt is the poll timestamp (UTC).
	PolledAt time.Time `json:"polled_at"`

	// OK reports whether the poll produced a usable summary.
	OK bool `json:"ok"`

	// Error holds the failure description when OK is false.
	Error string `json:"error,omitempty"`

	// Elapsed is the miner's uptime in seconds at poll time.
	Elapsed int64 `json:"elapsed"`

	// MHSAv is the average hashrate in MH/s.
	MHSAv float64 `json:"mhs_av"`

	// Accepted is the cumulative accepted share count.
	Accepted int64 `json:"accepted"`

	// Rejected is the cumulative rejected share count.
	Rejected int64 `json:"rejected"`

	// MaxTemp is the hottest chip temperature seen this cycle, if known.
	MaxTemp float64 `json:"max_temp"`

	// MaxFanRPM is the fastest spinning fan seen this cycle, if known.
	MaxFanRPM int64 `json:"max_fan_rpm"`
}

// Repository stores miners and their poll history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// EnsureMiner inserts or refreshes a miner row and returns its ID.
	EnsureMiner(ctx context.Context, name, endpoint, dialect string) (int64, error)

	// RecordPoll appends one poll outcome for a miner.
	RecordPoll(ctx context.Context, rec Record) error

	// RecentPolls returns recent poll records for a miner, newest first.
	RecentPolls(ctx context.Context, minerID int64, limit int) ([]Record, error)

	// ListMiners returns all registered miners ordered by name.
	ListMiners(ctx context.Context) ([]Miner, error)

	// Prune deletes poll records older than the given duration.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
