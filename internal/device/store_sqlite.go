package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultSeenLimit = 100
	maxSeenLimit     = 1000

	// timeLayout is fixed-width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SeenDevice is a persisted row of the devices table.
type SeenDevice struct {
	Identity    string      `json:"identity"`
	LastAddress string      `json:"last_address"`
	Output      OutputState `json:"output_state"`
	LastReading *float64    `json:"last_reading,omitempty"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
}

// SQLiteStore persists every device the telemetry server has seen, so the
// fleet is still listed after a restart. The in-memory Registry stays
// authoritative for attribution and commands.
type SQLiteStore struct {
	db *sql.DB

	seenStmt    *sql.Stmt
	readingStmt *sql.Stmt
	outputStmt  *sql.Stmt
}

// NewSQLiteStore prepares the upsert statements against an open database
// whose schema has been migrated.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	var err error
	s.seenStmt, err = db.PrepareContext(ctx, `
		INSERT INTO devices (identity, last_address, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			last_address = excluded.last_address,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing seen upsert: %w", err)
	}

	s.readingStmt, err = db.PrepareContext(ctx, `
		INSERT INTO devices (identity, last_address, last_reading, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			last_address = excluded.last_address,
			last_reading = excluded.last_reading,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		s.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("preparing reading upsert: %w", err)
	}

	s.outputStmt, err = db.PrepareContext(ctx, `
		INSERT INTO devices (identity, output_state, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			output_state = excluded.output_state,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		s.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("preparing output upsert: %w", err)
	}

	return s, nil
}

// Close releases the prepared statements. The database stays open.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.seenStmt, s.readingStmt, s.outputStmt} {
		if stmt != nil {
			stmt.Close() //nolint:errcheck // closing prepared statements cannot meaningfully fail
		}
	}
	return nil
}

// RecordSeen upserts identity with its latest address.
func (s *SQLiteStore) RecordSeen(ctx context.Context, identity, address string, at time.Time) error {
	ts := formatTime(at)
	if _, err := s.seenStmt.ExecContext(ctx, CanonicalIdentity(identity), address, ts, ts); err != nil {
		return fmt.Errorf("recording seen device: %w", err)
	}
	return nil
}

// RecordReading upserts identity with its latest reading and address.
func (s *SQLiteStore) RecordReading(ctx context.Context, identity, address string, volts float64, at time.Time) error {
	ts := formatTime(at)
	if _, err := s.readingStmt.ExecContext(ctx, CanonicalIdentity(identity), address, volts, ts, ts); err != nil {
		return fmt.Errorf("recording reading: %w", err)
	}
	return nil
}

// RecordOutput upserts identity with its latest output state.
func (s *SQLiteStore) RecordOutput(ctx context.Context, identity string, state OutputState, at time.Time) error {
	ts := formatTime(at)
	if _, err := s.outputStmt.ExecContext(ctx, CanonicalIdentity(identity), string(state), ts, ts); err != nil {
		return fmt.Errorf("recording output state: %w", err)
	}
	return nil
}

// List returns persisted devices, most recently seen first.
// limit defaults to 100 and is capped at 1000.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]SeenDevice, error) {
	if limit <= 0 {
		limit = defaultSeenLimit
	}
	if limit > maxSeenLimit {
		limit = maxSeenLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, last_address, output_state, last_reading, first_seen, last_seen
		FROM devices
		ORDER BY last_seen DESC, identity
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []SeenDevice
	for rows.Next() {
		var (
			d                   SeenDevice
			output              string
			reading             sql.NullFloat64
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&d.Identity, &d.LastAddress, &output, &reading, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		d.Output = OutputState(output)
		if reading.Valid {
			v := reading.Float64
			d.LastReading = &v
		}
		d.FirstSeen, _ = time.Parse(timeLayout, firstSeen) //nolint:errcheck // format is ours
		d.LastSeen, _ = time.Parse(timeLayout, lastSeen)   //nolint:errcheck // format is ours
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
