package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultPollLimit = 50
	maxPollLimit     = 500
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new poll history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// EnsureMiner inserts or refreshes a miner row and returns its ID.
//
// On first sight the miner is inserted with first_seen = last_seen = now.
// On subsequent calls endpoint, dialect and last_seen are updated in place
// so a rig that moved to a new address keeps its history.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - name: Unique miner name from config
//   - endpoint: Miner API address "host:port"
//   - dialect: Configured or detected dialect string
//
// Returns:
//   - int64: The miner's row ID
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) EnsureMiner(ctx context.Context, name, endpoint, dialect string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("miner name is required")
	}

	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO miners (name, endpoint, dialect, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   endpoint = excluded.endpoint,
		   dialect = excluded.dialect,
		   last_seen = excluded.last_seen`,
		name, endpoint, dialect, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting miner: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT id FROM miners WHERE name = ?", name,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading miner id: %w", err)
	}

	return id, nil
}

// RecordPoll appends one poll outcome for a miner.
//
// Failed polls store NULL for the numeric columns so averages computed
// over the table are not skewed by zeros.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - rec: Poll outcome; MinerID is required, PolledAt defaults to now
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) RecordPoll(ctx context.Context, rec Record) error {
	if rec.MinerID == 0 {
		return fmt.Errorf("miner id is required")
	}

	polledAt := rec.PolledAt
	if polledAt.IsZero() {
		polledAt = time.Now()
	}

	var (
		elapsed, accepted, rejected, maxFan sql.NullInt64
		mhsAv, maxTemp                      sql.NullFloat64
		errText                             sql.NullString
	)
	if rec.OK {
		elapsed = sql.NullInt64{Int64: rec.Elapsed, Valid: true}
		accepted = sql.NullInt64{Int64: rec.Accepted, Valid: true}
		rejected = sql.NullInt64{Int64: rec.Rejected, Valid: true}
		mhsAv = sql.NullFloat64{Float64: rec.MHSAv, Valid: true}
		if rec.MaxTemp != 0 {
			maxTemp = sql.NullFloat64{Float64: rec.MaxTemp, Valid: true}
		}
		if rec.MaxFanRPM != 0 {
			maxFan = sql.NullInt64{Int64: rec.MaxFanRPM, Valid: true}
		}
	} else if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	ok := 0
	if rec.OK {
		ok = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO poll_history
		   (miner_id, polled_at, ok, error, elapsed, mhs_av, accepted, rejected, max_temp, max_fan_rpm)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MinerID,
		polledAt.UTC().Format(time.RFC3339),
		ok,
		errText,
		elapsed,
		mhsAv,
		accepted,
		rejected,
		maxTemp,
		maxFan,
	)
	if err != nil {
		return fmt.Errorf("inserting poll record: %w", err)
	}

	return nil
}

// RecentPolls returns recent poll records for a miner, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - minerID: Miner row ID from EnsureMiner
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []Record: Poll records ordered by polled_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) RecentPolls(ctx context.Context, minerID int64, limit int) ([]Record, error) {
	if minerID == 0 {
		return nil, fmt.Errorf("miner id is required")
	}
	if limit <= 0 {
		limit = defaultPollLimit
	}
	if limit > maxPollLimit {
		limit = maxPollLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, miner_id, polled_at, ok, error, elapsed, mhs_av, accepted, rejected, max_temp, max_fan_rpm
		 FROM poll_history
		 WHERE miner_id = ?
		 ORDER BY polled_at DESC, id DESC
		 LIMIT ?`,
		minerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying poll history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating poll history: %w", err)
	}

	return records, nil
}

// ListMiners returns all registered miners ordered by name.
func (r *SQLiteRepository) ListMiners(ctx context.Context) ([]Miner, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, endpoint, dialect, first_seen, last_seen FROM miners ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("querying miners: %w", err)
	}
	defer rows.Close()

	var miners []Miner
	for rows.Next() {
		var m Miner
		var firstSeen, lastSeen string
		if err := rows.Scan(&m.ID, &m.Name, &m.Endpoint, &m.Dialect, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning miner: %w", err)
		}

		if m.FirstSeen, err = parseTimestamp(firstSeen); err != nil {
			return nil, err
		}
		if m.LastSeen, err = parseTimestamp(lastSeen); err != nil {
			return nil, err
		}

		miners = append(miners, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating miners: %w", err)
	}

	return miners, nil
}

// Prune deletes poll records older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (records older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM poll_history WHERE polled_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting poll history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// scanRecord scans one poll_history row, mapping NULL numerics to zero values.
func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec                                 Record
		polledAt                            string
		ok                                  int
		errText                             sql.NullString
		elapsed, accepted, rejected, maxFan sql.NullInt64
		mhsAv, maxTemp                      sql.NullFloat64
	)

	if err := rows.Scan(&rec.ID, &rec.MinerID, &polledAt, &ok, &errText,
		&elapsed, &mhsAv, &accepted, &rejected, &maxTemp, &maxFan); err != nil {
		return Record{}, fmt.Errorf("scanning poll record: %w", err)
	}

	timestamp, err := parseTimestamp(polledAt)
	if err != nil {
		return Record{}, err
	}

	rec.PolledAt = timestamp
	rec.OK = ok != 0
	rec.Error = errText.String
	rec.Elapsed = elapsed.Int64
	rec.MHSAv = mhsAv.Float64
	rec.Accepted = accepted.Int64
	rec.Rejected = rejected.Int64
	rec.MaxTemp = maxTemp.Float64
	rec.MaxFanRPM = maxFan.Int64

	return rec, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	return timestamp, nil
}
